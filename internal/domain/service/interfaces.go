package service

import (
	"context"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
)

// WatcherService manages watcher records and their external rules
type WatcherService interface {
	// Create provisions the rule and writes the watcher
	Create(ctx context.Context, userID, walletAddress string, filters entity.TrackingFilters, name string, tags []string) (*entity.Watcher, error)

	// List returns a user's watchers joined with display data
	List(ctx context.Context, userID string) ([]*entity.WatcherView, error)

	// Delete removes the rule, the watcher and its activity and summary records
	Delete(ctx context.Context, userID, walletAddress, filterQuery string) error

	// UpdateMetadata changes only name and tags
	UpdateMetadata(ctx context.Context, userID, walletAddress, filterQuery string, meta entity.WatcherMetadata) (*entity.Watcher, error)
}

// TokenMetadataResolver resolves mint metadata through the source waterfall
type TokenMetadataResolver interface {
	Resolve(ctx context.Context, mint string) *entity.TokenMetadata
}

// EnrichmentPipeline turns raw notifications into persisted activity
type EnrichmentPipeline interface {
	ProcessBatch(ctx context.Context, events []*entity.RawNotification) *entity.BatchResult
}

// StrategyScheduler runs due strategies
type StrategyScheduler interface {
	Tick(ctx context.Context, now time.Time) (*entity.TickReport, error)
}
