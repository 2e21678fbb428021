package entity

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ActivityType classifies a swap from the holder's point of view
type ActivityType string

const (
	ActivityBuy  ActivityType = "buy"
	ActivitySell ActivityType = "sell"
)

// DefaultActivityTypes is applied when a filter set omits activity types
var DefaultActivityTypes = []ActivityType{ActivityBuy, ActivitySell}

// Query string keys of a serialized filter set
const (
	filterKeyMinAmount     = "minAmount"
	filterKeySpecificToken = "specificToken"
	filterKeyActivityTypes = "activityTypes"
	filterKeyPlatform      = "platform"
)

// TrackingFilters is the closed filter schema attached to a watcher.
// Filters are immutable once the watcher exists.
type TrackingFilters struct {
	MinAmount     float64        `json:"min_amount"`
	SpecificToken string         `json:"specific_token"`
	ActivityTypes []ActivityType `json:"activity_types"`
	Platform      []string       `json:"platform"`
}

// Normalize returns a copy with defaults applied and list fields sorted.
// Every identity computation must go through the normalized form.
func (f TrackingFilters) Normalize() TrackingFilters {
	out := TrackingFilters{
		MinAmount:     f.MinAmount,
		SpecificToken: strings.TrimSpace(f.SpecificToken),
	}
	if out.MinAmount < 0 || math.IsNaN(out.MinAmount) || math.IsInf(out.MinAmount, 0) {
		out.MinAmount = 0
	}

	types := f.ActivityTypes
	if len(types) == 0 {
		types = DefaultActivityTypes
	}
	seen := make(map[ActivityType]struct{}, len(types))
	for _, t := range types {
		t = ActivityType(strings.ToLower(strings.TrimSpace(string(t))))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out.ActivityTypes = append(out.ActivityTypes, t)
	}
	if len(out.ActivityTypes) == 0 {
		out.ActivityTypes = append(out.ActivityTypes, DefaultActivityTypes...)
	}
	sort.Slice(out.ActivityTypes, func(i, j int) bool { return out.ActivityTypes[i] < out.ActivityTypes[j] })

	out.Platform = make([]string, 0, len(f.Platform))
	platforms := make(map[string]struct{}, len(f.Platform))
	for _, p := range f.Platform {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := platforms[p]; ok {
			continue
		}
		platforms[p] = struct{}{}
		out.Platform = append(out.Platform, p)
	}
	sort.Strings(out.Platform)

	return out
}

// QueryString serializes the normalized filters as a URL-encoded, &-joined
// key=value string. The output is stable and is used inside store keys.
func (f TrackingFilters) QueryString() string {
	n := f.Normalize()

	types := make([]string, len(n.ActivityTypes))
	for i, t := range n.ActivityTypes {
		types[i] = string(t)
	}

	values := url.Values{}
	values.Set(filterKeyMinAmount, strconv.FormatFloat(n.MinAmount, 'f', -1, 64))
	values.Set(filterKeySpecificToken, n.SpecificToken)
	values.Set(filterKeyActivityTypes, strings.Join(types, ","))
	values.Set(filterKeyPlatform, strings.Join(n.Platform, ","))
	return values.Encode()
}

// AllowsActivity reports whether the activity type is tracked
func (f TrackingFilters) AllowsActivity(t ActivityType) bool {
	for _, allowed := range f.Normalize().ActivityTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// AllowsPlatform reports whether the source platform is tracked. An empty
// platform list tracks every platform.
func (f TrackingFilters) AllowsPlatform(source string) bool {
	n := f.Normalize()
	if len(n.Platform) == 0 {
		return true
	}
	source = strings.ToUpper(strings.TrimSpace(source))
	for _, p := range n.Platform {
		if p == source {
			return true
		}
	}
	return false
}

// ParseFiltersQuery decodes a serialized filter query string. Unknown keys are
// ignored and missing keys fall back to defaults, so the result fingerprints
// the same as the filters it was produced from.
func ParseFiltersQuery(raw string) (TrackingFilters, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")

	// the query string may arrive URL-encoded a second time
	if !strings.Contains(raw, "=") {
		if decoded, err := url.QueryUnescape(raw); err == nil {
			raw = decoded
		}
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return TrackingFilters{}, NewValidationError("queryString", "malformed filter query string")
	}

	var f TrackingFilters
	if v := strings.TrimSpace(values.Get(filterKeyMinAmount)); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return TrackingFilters{}, NewValidationError(filterKeyMinAmount, "must be a number")
		}
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			return TrackingFilters{}, NewValidationError(filterKeyMinAmount, "must be a finite number")
		}
		f.MinAmount = amount
	}
	f.SpecificToken = values.Get(filterKeySpecificToken)
	for _, t := range splitList(values[filterKeyActivityTypes]) {
		f.ActivityTypes = append(f.ActivityTypes, ActivityType(t))
	}
	f.Platform = splitList(values[filterKeyPlatform])

	return f.Normalize(), nil
}

// splitList accepts both repeated keys and comma-joined values
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
