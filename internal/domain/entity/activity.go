package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenLeg is one side of a swap with its resolved metadata
type TokenLeg struct {
	Mint      string           `json:"mint"`
	RawAmount decimal.Decimal  `json:"raw_amount"`
	Amount    decimal.Decimal  `json:"amount"`
	Symbol    string           `json:"symbol"`
	Name      string           `json:"name,omitempty"`
	Decimals  *int             `json:"decimals,omitempty"`
	PriceUSD  *decimal.Decimal `json:"price_usd,omitempty"`
	ValueUSD  *decimal.Decimal `json:"value_usd,omitempty"`

	// Scaled is set when RawAmount is already in whole tokens
	Scaled bool `json:"-"`
}

// Swap is the canonical two-sided shape extracted from a raw notification
type Swap struct {
	Signature string          `json:"signature"`
	Timestamp time.Time       `json:"timestamp"`
	Holder    string          `json:"holder"`
	Source    string          `json:"source"`
	From      TokenLeg        `json:"from"`
	To        TokenLeg        `json:"to"`
	Activity  ActivityType    `json:"activity"`
	ValueUSD  decimal.Decimal `json:"value_usd"`
}

// ActivityRecord is one persisted enriched swap for a watcher. Records are
// written once and never mutated.
type ActivityRecord struct {
	Signature     string          `json:"signature"`
	Timestamp     time.Time       `json:"timestamp"`
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	FromToken     TokenLeg        `json:"from_token"`
	ToToken       TokenLeg        `json:"to_token"`
	ValueUSD      decimal.Decimal `json:"value_usd"`
	Activity      ActivityType    `json:"activity"`
	Platforms     []string        `json:"platforms"`
	RecordedAt    time.Time       `json:"recorded_at"`
}
