package entity

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAppliesDefaults(t *testing.T) {
	n := TrackingFilters{}.Normalize()
	assert.Equal(t, []ActivityType{ActivityBuy, ActivitySell}, n.ActivityTypes)
	assert.Empty(t, n.Platform)
	assert.Zero(t, n.MinAmount)

	n = TrackingFilters{
		MinAmount:     -5,
		ActivityTypes: []ActivityType{" SELL ", "sell", ""},
		Platform:      []string{"raydium", "JUPITER", "Raydium", " "},
	}.Normalize()
	assert.Zero(t, n.MinAmount)
	assert.Equal(t, []ActivityType{ActivitySell}, n.ActivityTypes)
	assert.Equal(t, []string{"JUPITER", "RAYDIUM"}, n.Platform)
}

func TestQueryStringIsOrderIndependent(t *testing.T) {
	a := TrackingFilters{ActivityTypes: []ActivityType{ActivitySell, ActivityBuy}, Platform: []string{"RAYDIUM", "JUPITER"}}
	b := TrackingFilters{ActivityTypes: []ActivityType{ActivityBuy, ActivitySell}, Platform: []string{"JUPITER", "RAYDIUM"}}
	assert.Equal(t, a.QueryString(), b.QueryString())
	assert.NotContains(t, a.QueryString(), "#")
}

func TestParseFiltersQueryRoundTrip(t *testing.T) {
	filters := TrackingFilters{
		MinAmount:     250.5,
		SpecificToken: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263",
		ActivityTypes: []ActivityType{ActivityBuy},
		Platform:      []string{"jupiter"},
	}

	parsed, err := ParseFiltersQuery(filters.QueryString())
	require.NoError(t, err)
	assert.Equal(t, filters.Normalize(), parsed)

	doubleEncoded, err := ParseFiltersQuery(url.QueryEscape(filters.QueryString()))
	require.NoError(t, err)
	assert.Equal(t, parsed, doubleEncoded)

	withMark, err := ParseFiltersQuery("?" + filters.QueryString())
	require.NoError(t, err)
	assert.Equal(t, parsed, withMark)
}

func TestParseFiltersQueryDefaults(t *testing.T) {
	parsed, err := ParseFiltersQuery("")
	require.NoError(t, err)
	assert.Equal(t, TrackingFilters{}.Normalize(), parsed)

	parsed, err = ParseFiltersQuery("activityTypes=sell&activityTypes=buy&unknown=1")
	require.NoError(t, err)
	assert.Equal(t, []ActivityType{ActivityBuy, ActivitySell}, parsed.ActivityTypes)
}

func TestParseFiltersQueryRejectsMalformed(t *testing.T) {
	tests := []struct {
		raw     string
		message string
	}{
		{"minAmount=abc", "must be a number"},
		{"minAmount=%zz", "malformed"},
		{"minAmount=NaN", "must be a finite number"},
		{"minAmount=Inf&platform=RAYDIUM", "must be a finite number"},
		{"minAmount=-Inf", "must be a finite number"},
	}

	for _, tt := range tests {
		_, err := ParseFiltersQuery(tt.raw)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation, tt.raw)
		assert.Contains(t, validation.Message, tt.message, tt.raw)
	}
}

func TestNormalizeClampsNonFiniteMinAmount(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.Zero(t, TrackingFilters{MinAmount: v}.Normalize().MinAmount)
	}
}

func TestAllowsPlatform(t *testing.T) {
	assert.True(t, TrackingFilters{}.AllowsPlatform("ORCA"))
	f := TrackingFilters{Platform: []string{"raydium"}}
	assert.True(t, f.AllowsPlatform("Raydium"))
	assert.False(t, f.AllowsPlatform("JUPITER"))
	assert.True(t, f.AllowsActivity(ActivitySell))
}
