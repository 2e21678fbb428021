package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"wallet-watcher-engine/internal/domain/entity"
)

const (
	// FilterHashLength is the width of a filter fingerprint in hex characters
	FilterHashLength = 12

	// MaxRuleNameLength is the identifier ceiling of the rule registry
	MaxRuleNameLength = 64

	ruleNamePrefix   = "ww"
	ruleUserIDLength = 8
	ruleWalletLength = 8
)

// FingerprintEngine derives watcher identity. Creation, lookup and deletion
// paths must all go through the same engine so their names agree.
type FingerprintEngine interface {
	// Fingerprint returns a stable short hash of a filter set
	Fingerprint(filters entity.TrackingFilters) string

	// RuleName returns the external rule identifier of a watcher
	RuleName(userID, walletAddress, hash string) string
}

// SHA256Fingerprinter hashes the canonical JSON of the normalized filters
type SHA256Fingerprinter struct{}

// NewFingerprintEngine creates the default fingerprint engine
func NewFingerprintEngine() FingerprintEngine {
	return SHA256Fingerprinter{}
}

// canonicalFilters fixes the serialized field order independent of the entity's JSON tags
type canonicalFilters struct {
	MinAmount     float64  `json:"minAmount"`
	SpecificToken string   `json:"specificToken"`
	ActivityTypes []string `json:"activityTypes"`
	Platform      []string `json:"platform"`
}

// Fingerprint normalizes, serializes and hashes the filters
func (SHA256Fingerprinter) Fingerprint(filters entity.TrackingFilters) string {
	n := filters.Normalize()

	c := canonicalFilters{
		MinAmount:     n.MinAmount,
		SpecificToken: n.SpecificToken,
		ActivityTypes: make([]string, len(n.ActivityTypes)),
		Platform:      n.Platform,
	}
	for i, t := range n.ActivityTypes {
		c.ActivityTypes[i] = string(t)
	}

	payload, err := json.Marshal(c)
	if err != nil {
		// Normalize keeps MinAmount finite; hash every field regardless
		payload = []byte(fmt.Sprintf("%#v", c))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:FilterHashLength]
}

// RuleName builds "ww-<user>-<wallet>-<hash>" restricted to [a-z0-9._-]
func (SHA256Fingerprinter) RuleName(userID, walletAddress, hash string) string {
	parts := []string{
		ruleNamePrefix,
		truncate(sanitizeRuleSegment(userID), ruleUserIDLength),
		truncate(sanitizeRuleSegment(walletAddress), ruleWalletLength),
		sanitizeRuleSegment(hash),
	}
	return truncate(strings.Join(parts, "-"), MaxRuleNameLength)
}

func sanitizeRuleSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
