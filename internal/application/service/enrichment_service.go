package service

import (
	"context"
	"errors"
	"fmt"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/cache"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	signatureCacheName = "signatures"
	summaryCASAttempts = 3
)

// SignatureCache remembers recently processed transaction signatures
type SignatureCache = cache.TTLCache[string, struct{}]

// EnrichmentService turns swap notifications into activity records for every
// watcher of the swapping wallet
type EnrichmentService struct {
	store    repository.KeyedStore
	resolver service.TokenMetadataResolver
	sink     service.ActivitySink
	seen     *SignatureCache
	clock    clock.Clock
	metrics  *metrics.Metrics
	config   *config.WebhookConfig
	minValue decimal.Decimal
	logger   *logger.Logger
}

// NewEnrichmentService creates the enrichment pipeline
func NewEnrichmentService(
	store repository.KeyedStore,
	resolver service.TokenMetadataResolver,
	sink service.ActivitySink,
	seen *SignatureCache,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg *config.WebhookConfig,
	logger *logger.Logger,
) *EnrichmentService {
	if sink == nil {
		sink = service.NopActivitySink{}
	}
	return &EnrichmentService{
		store:    store,
		resolver: resolver,
		sink:     sink,
		seen:     seen,
		clock:    clk,
		metrics:  m,
		config:   cfg,
		minValue: decimal.NewFromFloat(cfg.MinSwapValueUSD),
		logger:   logger.WithComponent("enrichment-service"),
	}
}

// ProcessBatch implements EnrichmentPipeline. Only the first MaxBatch events
// are processed, with at most Concurrency of them in flight.
func (s *EnrichmentService) ProcessBatch(ctx context.Context, events []*entity.RawNotification) *entity.BatchResult {
	ctx, span := otel.Tracer("wallet-watcher").Start(ctx, "EnrichmentService.ProcessBatch")
	defer span.End()

	batch := events
	if s.config.MaxBatch > 0 && len(batch) > s.config.MaxBatch {
		batch = batch[:s.config.MaxBatch]
	}

	results := make([]*entity.EventResult, len(batch))

	var g errgroup.Group
	width := s.config.Concurrency
	if width <= 0 {
		width = 1
	}
	g.SetLimit(width)
	for i, event := range batch {
		g.Go(func() error {
			results[i] = s.processEvent(ctx, event)
			return nil
		})
	}
	_ = g.Wait()

	result := &entity.BatchResult{Received: len(events), Events: results}
	for _, r := range results {
		if r.Persisted > 0 {
			result.Processed++
		}
	}

	span.SetAttributes(
		attribute.Int("batch.received", result.Received),
		attribute.Int("batch.processed", result.Processed),
	)
	s.logger.Info("Processed notification batch",
		zap.Int("received", result.Received),
		zap.Int("considered", len(batch)),
		zap.Int("processed", result.Processed))
	return result
}

// processEvent runs one notification through the pipeline
func (s *EnrichmentService) processEvent(ctx context.Context, event *entity.RawNotification) *entity.EventResult {
	result := &entity.EventResult{Signature: event.Signature}
	drop := func(reason entity.EventDrop) *entity.EventResult {
		result.Dropped = reason
		s.metrics.WebhookEvents.WithLabelValues(string(reason)).Inc()
		s.logger.Debug("Dropped notification",
			zap.String("signature", event.Signature),
			zap.String("reason", string(reason)))
		return result
	}

	if event.Type != entity.SwapEventType {
		return drop(entity.DropNotSwap)
	}

	if !s.seen.SetIfAbsent(event.Signature, struct{}{}) {
		s.metrics.ObserveCache(signatureCacheName, true)
		return drop(entity.DropDuplicate)
	}
	s.metrics.ObserveCache(signatureCacheName, false)

	swap, ok := ExtractSwap(event)
	if !ok {
		return drop(entity.DropUnparseable)
	}

	applyMetadata(&swap.From, s.resolver.Resolve(ctx, swap.From.Mint))
	applyMetadata(&swap.To, s.resolver.Resolve(ctx, swap.To.Mint))
	value := valueSwap(swap)

	if value.LessThan(s.minValue) {
		return drop(entity.DropBelowThreshold)
	}

	watchers, err := s.watchersOf(ctx, swap.Holder)
	if err != nil {
		s.logger.Error("Failed to load watchers",
			zap.String("wallet", swap.Holder),
			zap.Error(err))
		s.seen.Delete(event.Signature)
		return drop(entity.DropPersistFailed)
	}
	if len(watchers) == 0 {
		return drop(entity.DropUnwatched)
	}

	matched, failed := 0, 0
	for _, watcher := range watchers {
		if !matchesFilters(watcher.Filters, swap) {
			continue
		}
		matched++

		written, err := s.persist(ctx, watcher, swap)
		if err != nil {
			failed++
			s.logger.Error("Failed to persist activity",
				zap.String("signature", swap.Signature),
				zap.String("user_id", watcher.UserID),
				zap.Error(err))
			continue
		}
		if written {
			result.Persisted++
		}
	}

	if matched == 0 {
		return drop(entity.DropFiltered)
	}
	if failed > 0 {
		// allow a redelivery to retry; written watchers are skipped by PutIfAbsent
		s.seen.Delete(event.Signature)
		if result.Persisted == 0 {
			return drop(entity.DropPersistFailed)
		}
	}

	s.metrics.WebhookEvents.WithLabelValues("persisted").Inc()
	s.logger.Info("Persisted swap activity",
		zap.String("signature", swap.Signature),
		zap.String("wallet", swap.Holder),
		zap.String("activity", string(swap.Activity)),
		zap.String("value_usd", swap.ValueUSD.StringFixed(2)),
		zap.Int("watchers", result.Persisted))
	return result
}

// watchersOf reads the wallet index
func (s *EnrichmentService) watchersOf(ctx context.Context, wallet string) ([]*entity.Watcher, error) {
	items, err := s.store.Query(ctx, repository.WalletPartition(wallet), repository.AnyWatcherPrefix(), repository.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet index: %w", err)
	}

	watchers := make([]*entity.Watcher, 0, len(items))
	for _, item := range items {
		var watcher entity.Watcher
		if err := item.Decode(&watcher); err != nil {
			s.logger.Warn("Skipping undecodable index entry", zap.String("sk", item.SK), zap.Error(err))
			continue
		}
		if !watcher.IsActive {
			continue
		}
		watchers = append(watchers, &watcher)
	}
	return watchers, nil
}

// matchesFilters applies a watcher's own filters to an enriched swap
func matchesFilters(filters entity.TrackingFilters, swap *entity.Swap) bool {
	n := filters.Normalize()
	if !n.AllowsActivity(swap.Activity) {
		return false
	}
	if !n.AllowsPlatform(swap.Source) {
		return false
	}
	if n.SpecificToken != "" && n.SpecificToken != swap.From.Mint && n.SpecificToken != swap.To.Mint {
		return false
	}
	if n.MinAmount > 0 && swap.ValueUSD.LessThan(decimal.NewFromFloat(n.MinAmount)) {
		return false
	}
	return true
}

// persist writes the activity record once and folds it into the summary.
// It reports false when the record already existed.
func (s *EnrichmentService) persist(ctx context.Context, watcher *entity.Watcher, swap *entity.Swap) (bool, error) {
	serialized := watcher.Filters.QueryString()
	record := &entity.ActivityRecord{
		Signature:     swap.Signature,
		Timestamp:     swap.Timestamp,
		UserID:        watcher.UserID,
		WalletAddress: watcher.WalletAddress,
		FromToken:     swap.From,
		ToToken:       swap.To,
		ValueUSD:      swap.ValueUSD,
		Activity:      swap.Activity,
		Platforms:     platformsOf(swap),
		RecordedAt:    s.clock.Now(),
	}

	key := repository.ActivityKey(watcher.UserID, watcher.WalletAddress, serialized, swap.Signature)
	item, err := repository.NewItem(key.PK, key.SK, record)
	if err != nil {
		return false, fmt.Errorf("failed to encode activity: %w", err)
	}
	if err := s.store.PutIfAbsent(ctx, item); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return false, nil
		}
		return false, fmt.Errorf("failed to write activity: %w", err)
	}
	s.metrics.ActivitiesPersisted.Inc()

	if err := s.updateSummary(ctx, watcher, serialized, record); err != nil {
		s.logger.Warn("Failed to update watcher summary",
			zap.String("user_id", watcher.UserID),
			zap.String("wallet", watcher.WalletAddress),
			zap.Error(err))
	}

	if err := s.sink.Publish(ctx, record); err != nil {
		s.logger.Warn("Failed to publish activity", zap.String("signature", record.Signature), zap.Error(err))
	}
	return true, nil
}

// updateSummary folds a record into the watcher summary with version CAS
func (s *EnrichmentService) updateSummary(ctx context.Context, watcher *entity.Watcher, serialized string, record *entity.ActivityRecord) error {
	key := repository.SummaryKey(watcher.UserID, watcher.WalletAddress, serialized)

	for attempt := 0; attempt < summaryCASAttempts; attempt++ {
		var summary entity.WatcherSummary
		var version int64

		existing, err := s.store.Get(ctx, key)
		switch {
		case errors.Is(err, repository.ErrItemNotFound):
		case err != nil:
			return fmt.Errorf("failed to read summary: %w", err)
		default:
			if err := existing.Decode(&summary); err != nil {
				return fmt.Errorf("failed to decode summary: %w", err)
			}
			version = existing.Version
		}

		total, err := decimal.NewFromString(summary.TotalVolumeUSD)
		if err != nil {
			total = decimal.Zero
		}
		summary.SwapCount++
		summary.TotalVolumeUSD = total.Add(record.ValueUSD).StringFixed(2)
		if !record.Timestamp.Before(summary.LastActivityAt) {
			summary.LastSignature = record.Signature
			summary.LastActivityAt = record.Timestamp
		}

		item, err := repository.NewItem(key.PK, key.SK, summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		if version == 0 {
			err = s.store.PutIfAbsent(ctx, item)
		} else {
			err = s.store.CompareAndSwap(ctx, item, version)
		}
		if errors.Is(err, repository.ErrConditionFailed) {
			continue
		}
		return err
	}
	return fmt.Errorf("summary contended after %d attempts", summaryCASAttempts)
}

func platformsOf(swap *entity.Swap) []string {
	if swap.Source == "" {
		return []string{}
	}
	return []string{swap.Source}
}
