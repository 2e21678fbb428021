package service

import (
	"context"

	"wallet-watcher-engine/internal/domain/entity"

	"github.com/shopspring/decimal"
)

// Rule is an external event-routing rule with its delivery target
type Rule struct {
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
	UserID        string `json:"user_id"`
	FilterHash    string `json:"filter_hash"`
	Target        string `json:"target"`
}

// RuleRegistry provisions named routing rules
type RuleRegistry interface {
	// CreateRule creates or replaces a rule and its target
	CreateRule(ctx context.Context, rule *Rule) error

	// DeleteRule removes a rule and its targets. A missing rule is not an error.
	DeleteRule(ctx context.Context, name string) error
}

// MetadataSource is one tier of the token metadata waterfall. Returning
// (nil, nil) means the source has nothing usable for the mint.
type MetadataSource interface {
	Name() entity.MetadataSourceName
	FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error)
}

// PriceSource fetches live prices
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error)
}

// DelegationVerifier answers whether a wallet still grants automated execution
type DelegationVerifier interface {
	IsDelegated(ctx context.Context, walletAddress string) (bool, error)
}

// SwapOrder is a buy request dispatched to the delegated signer
type SwapOrder struct {
	WalletAddress  string          `json:"wallet_address"`
	InputMint      string          `json:"input_mint"`
	OutputMint     string          `json:"output_mint"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// SwapExecutor signs and submits swaps on behalf of a delegated wallet
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, order *SwapOrder) (txHash string, err error)
}

// ActivitySink receives activity records after they are persisted
type ActivitySink interface {
	Publish(ctx context.Context, record *entity.ActivityRecord) error
}

// NopActivitySink discards activity records
type NopActivitySink struct{}

// Publish implements ActivitySink
func (NopActivitySink) Publish(context.Context, *entity.ActivityRecord) error { return nil }
