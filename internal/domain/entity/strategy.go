package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyType is the closed set of automated trading strategies
type StrategyType string

const (
	StrategyDCA       StrategyType = "dca"
	StrategyMomentum  StrategyType = "momentum"
	StrategyLimit     StrategyType = "limit"
	StrategyRebalance StrategyType = "rebalance"
)

// StrategyStatus is the scheduling state of a strategy
type StrategyStatus string

const (
	StrategyActive   StrategyStatus = "active"
	StrategyInactive StrategyStatus = "inactive"
)

// Frequency is the interval between strategy runs
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Interval returns the duration of a frequency. Unknown values run daily.
func (f Frequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Strategy is a recurring automated-trading intent
type Strategy struct {
	WalletAddress string           `json:"wallet_address"`
	ID            string           `json:"id"`
	StrategyType  StrategyType     `json:"strategy_type"`
	Amount        decimal.Decimal  `json:"amount"`
	TargetToken   string           `json:"target_token"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	Frequency     Frequency        `json:"frequency"`
	NextExecution time.Time        `json:"next_execution"`
	LastExecuted  *time.Time       `json:"last_executed,omitempty"`
	LastTxHash    string           `json:"last_tx_hash,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Status        StrategyStatus   `json:"status"`
	StatusReason  string           `json:"status_reason,omitempty"`
}

// IsDue reports whether the strategy should run at now
func (s *Strategy) IsDue(now time.Time) bool {
	return s.Status == StrategyActive && !s.NextExecution.After(now)
}

// ExecutionOutcome is the settled result of one strategy run
type ExecutionOutcome string

const (
	OutcomeExecuted ExecutionOutcome = "executed"
	OutcomeSkipped  ExecutionOutcome = "skipped"
	OutcomeFailed   ExecutionOutcome = "failed"
)

// ExecutionResult reports what happened to one strategy in a tick
type ExecutionResult struct {
	StrategyID string           `json:"strategy_id"`
	Wallet     string           `json:"wallet_address"`
	Outcome    ExecutionOutcome `json:"outcome"`
	TxHash     string           `json:"tx_hash,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// TickReport aggregates one scheduler invocation
type TickReport struct {
	Due      int                `json:"due"`
	Executed int                `json:"executed"`
	Skipped  int                `json:"skipped"`
	Failed   int                `json:"failed"`
	Results  []*ExecutionResult `json:"results"`
}
