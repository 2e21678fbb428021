package entity

import (
	"time"
)

// Watcher is a tracked wallet for one user under one filter configuration
type Watcher struct {
	UserID        string          `json:"user_id"`
	WalletAddress string          `json:"wallet_address"`
	Filters       TrackingFilters `json:"filters"`
	FilterHash    string          `json:"filter_hash"`
	RuleName      string          `json:"rule_name"`
	Name          string          `json:"name,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	IsActive      bool            `json:"is_active"`
}

// WatcherMetadata is the only mutable part of a watcher
type WatcherMetadata struct {
	Name *string   `json:"name,omitempty"`
	Tags *[]string `json:"tags,omitempty"`
}

// WatcherSummary aggregates the persisted activity of a watcher
type WatcherSummary struct {
	SwapCount      int64     `json:"swap_count"`
	TotalVolumeUSD string    `json:"total_volume_usd"`
	LastSignature  string    `json:"last_signature"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// BalanceSnapshot is a point-in-time wallet valuation written by an external job
type BalanceSnapshot struct {
	WalletAddress string    `json:"wallet_address"`
	TotalUSD      string    `json:"total_usd"`
	NativeBalance string    `json:"native_balance"`
	CapturedAt    time.Time `json:"captured_at"`
}

// WatcherView is a watcher joined with its latest display data
type WatcherView struct {
	Watcher
	LatestBalance  *BalanceSnapshot  `json:"latest_balance,omitempty"`
	Summary        *WatcherSummary   `json:"summary,omitempty"`
	RecentActivity []*ActivityRecord `json:"recent_activity"`
}
