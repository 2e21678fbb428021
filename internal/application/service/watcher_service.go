package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

const metadataCASAttempts = 3

// WatcherApplicationService implements WatcherService
type WatcherApplicationService struct {
	store        repository.KeyedStore
	rules        service.RuleRegistry
	fingerprint  service.FingerprintEngine
	clock        clock.Clock
	ruleTarget   string
	activityView int
	logger       *logger.Logger
}

// NewWatcherService creates a new watcher application service
func NewWatcherService(
	store repository.KeyedStore,
	rules service.RuleRegistry,
	fingerprint service.FingerprintEngine,
	clk clock.Clock,
	ruleTarget string,
	activityView int,
	logger *logger.Logger,
) *WatcherApplicationService {
	return &WatcherApplicationService{
		store:        store,
		rules:        rules,
		fingerprint:  fingerprint,
		clock:        clk,
		ruleTarget:   ruleTarget,
		activityView: activityView,
		logger:       logger.WithComponent("watcher-service"),
	}
}

func validateIdentity(userID, walletAddress string) error {
	if strings.TrimSpace(userID) == "" {
		return entity.NewValidationError("userId", "is required")
	}
	if strings.TrimSpace(walletAddress) == "" {
		return entity.NewValidationError("walletAddress", "is required")
	}
	// '#' separates key segments
	if strings.Contains(userID, "#") {
		return entity.NewValidationError("userId", "must not contain '#'")
	}
	if strings.Contains(walletAddress, "#") {
		return entity.NewValidationError("walletAddress", "must not contain '#'")
	}
	return nil
}

// Create implements WatcherService. The rule is provisioned before anything
// is written, so a provisioning failure leaves no watcher behind.
func (s *WatcherApplicationService) Create(ctx context.Context, userID, walletAddress string, filters entity.TrackingFilters, name string, tags []string) (*entity.Watcher, error) {
	if err := validateIdentity(userID, walletAddress); err != nil {
		return nil, err
	}

	normalized := filters.Normalize()
	hash := s.fingerprint.Fingerprint(normalized)
	ruleName := s.fingerprint.RuleName(userID, walletAddress, hash)

	watcher := &entity.Watcher{
		UserID:        userID,
		WalletAddress: walletAddress,
		Filters:       normalized,
		FilterHash:    hash,
		RuleName:      ruleName,
		Name:          name,
		Tags:          tags,
		CreatedAt:     s.clock.Now(),
		IsActive:      true,
	}

	rule := &service.Rule{
		Name:          ruleName,
		WalletAddress: walletAddress,
		UserID:        userID,
		FilterHash:    hash,
		Target:        s.ruleTarget,
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		s.logger.Error("Failed to provision rule",
			zap.String("user_id", userID),
			zap.String("wallet", walletAddress),
			zap.String("rule", ruleName),
			zap.Error(err))
		if !errors.Is(err, entity.ErrRuleProvisioning) {
			err = fmt.Errorf("%w: %v", entity.ErrRuleProvisioning, err)
		}
		return nil, err
	}

	if err := s.writeWatcher(ctx, watcher); err != nil {
		// the rule would route events nobody stores
		if delErr := s.rules.DeleteRule(ctx, ruleName); delErr != nil {
			s.logger.Warn("Failed to roll back rule", zap.String("rule", ruleName), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("Created watcher",
		zap.String("user_id", userID),
		zap.String("wallet", walletAddress),
		zap.String("filter_hash", hash),
		zap.String("rule", ruleName))
	return watcher, nil
}

// writeWatcher stores the watcher and its wallet index entry
func (s *WatcherApplicationService) writeWatcher(ctx context.Context, watcher *entity.Watcher) error {
	serialized := watcher.Filters.QueryString()

	key := repository.WatcherKey(watcher.UserID, watcher.WalletAddress, serialized)
	item, err := repository.NewItem(key.PK, key.SK, watcher)
	if err != nil {
		return fmt.Errorf("failed to encode watcher: %w", err)
	}
	if err := s.store.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to write watcher: %w", err)
	}

	indexKey := repository.WatcherIndexKey(watcher.UserID, watcher.WalletAddress, serialized)
	index, err := repository.NewItem(indexKey.PK, indexKey.SK, indexEntry(watcher))
	if err != nil {
		return fmt.Errorf("failed to encode watcher index: %w", err)
	}
	if err := s.store.Put(ctx, index); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to roll back watcher", zap.String("sk", key.SK), zap.Error(delErr))
		}
		return fmt.Errorf("failed to write watcher index: %w", err)
	}
	return nil
}

// indexEntry projects the watcher onto what enrichment reads. Display
// metadata lives only on the user record so metadata updates leave the
// wallet index untouched.
func indexEntry(watcher *entity.Watcher) *entity.Watcher {
	entry := *watcher
	entry.Name = ""
	entry.Tags = nil
	return &entry
}

// List implements WatcherService
func (s *WatcherApplicationService) List(ctx context.Context, userID string) ([]*entity.WatcherView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, entity.NewValidationError("userId", "is required")
	}

	items, err := s.store.Query(ctx, repository.UserPartition(userID), repository.AnyWatcherPrefix(), repository.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to query watchers: %w", err)
	}

	views := make([]*entity.WatcherView, 0, len(items))
	balances := make(map[string]*entity.BalanceSnapshot)
	for _, item := range items {
		var watcher entity.Watcher
		if err := item.Decode(&watcher); err != nil {
			s.logger.Warn("Skipping undecodable watcher", zap.String("sk", item.SK), zap.Error(err))
			continue
		}
		serialized := repository.SerializedFiltersFromWatcherSK(watcher.WalletAddress, item.SK)

		view := &entity.WatcherView{Watcher: watcher, RecentActivity: []*entity.ActivityRecord{}}

		balance, ok := balances[watcher.WalletAddress]
		if !ok {
			balance = s.latestBalance(ctx, watcher.WalletAddress)
			balances[watcher.WalletAddress] = balance
		}
		view.LatestBalance = balance
		view.RecentActivity = s.recentActivity(ctx, userID, watcher.WalletAddress, serialized)
		view.Summary = s.summary(ctx, userID, watcher.WalletAddress, serialized)

		views = append(views, view)
	}
	return views, nil
}

// latestBalance returns the newest snapshot of a wallet, nil when none exists
func (s *WatcherApplicationService) latestBalance(ctx context.Context, wallet string) *entity.BalanceSnapshot {
	items, err := s.store.Query(ctx, repository.WalletPartition(wallet), repository.BalancePrefix(),
		repository.QueryOptions{Limit: 1, Descending: true})
	if err != nil {
		s.logger.Warn("Failed to load balance", zap.String("wallet", wallet), zap.Error(err))
		return nil
	}
	if len(items) == 0 {
		return nil
	}
	var snapshot entity.BalanceSnapshot
	if err := items[0].Decode(&snapshot); err != nil {
		return nil
	}
	return &snapshot
}

// recentActivity returns the newest records of a watcher by swap time
func (s *WatcherApplicationService) recentActivity(ctx context.Context, userID, wallet, serialized string) []*entity.ActivityRecord {
	records := []*entity.ActivityRecord{}
	items, err := s.store.Query(ctx, repository.UserPartition(userID), repository.ActivityPrefix(wallet, serialized), repository.QueryOptions{})
	if err != nil {
		s.logger.Warn("Failed to load activity", zap.String("wallet", wallet), zap.Error(err))
		return records
	}

	for _, item := range items {
		var record entity.ActivityRecord
		if err := item.Decode(&record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	// signatures do not sort by time
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if s.activityView > 0 && len(records) > s.activityView {
		records = records[:s.activityView]
	}
	return records
}

func (s *WatcherApplicationService) summary(ctx context.Context, userID, wallet, serialized string) *entity.WatcherSummary {
	item, err := s.store.Get(ctx, repository.SummaryKey(userID, wallet, serialized))
	if err != nil {
		return nil
	}
	var summary entity.WatcherSummary
	if err := item.Decode(&summary); err != nil {
		return nil
	}
	return &summary
}

// Delete implements WatcherService. Rule cleanup failures are logged and do
// not stop the data cascade.
func (s *WatcherApplicationService) Delete(ctx context.Context, userID, walletAddress, filterQuery string) error {
	if err := validateIdentity(userID, walletAddress); err != nil {
		return err
	}
	filters, err := entity.ParseFiltersQuery(filterQuery)
	if err != nil {
		return err
	}

	serialized := filters.QueryString()
	hash := s.fingerprint.Fingerprint(filters)
	ruleName := s.fingerprint.RuleName(userID, walletAddress, hash)

	if err := s.rules.DeleteRule(ctx, ruleName); err != nil {
		s.logger.Warn("Failed to delete rule, continuing cascade",
			zap.String("rule", ruleName),
			zap.Error(err))
	}

	watcherKey := repository.WatcherKey(userID, walletAddress, serialized)
	if err := s.store.Delete(ctx, watcherKey); err != nil {
		return fmt.Errorf("failed to delete watcher: %w", err)
	}
	if err := s.store.Delete(ctx, repository.WatcherIndexKey(userID, walletAddress, serialized)); err != nil {
		return fmt.Errorf("failed to delete watcher index: %w", err)
	}

	var keys []repository.Key
	for _, prefix := range []string{
		repository.ActivityPrefix(walletAddress, serialized),
		repository.SummaryPrefix(walletAddress, serialized),
	} {
		items, err := s.store.Query(ctx, repository.UserPartition(userID), prefix, repository.QueryOptions{})
		if err != nil {
			return fmt.Errorf("failed to query dependent records: %w", err)
		}
		for _, item := range items {
			keys = append(keys, item.Key)
		}
	}
	if err := s.store.BatchDelete(ctx, keys); err != nil {
		return fmt.Errorf("failed to delete dependent records: %w", err)
	}

	s.logger.Info("Deleted watcher",
		zap.String("user_id", userID),
		zap.String("wallet", walletAddress),
		zap.String("rule", ruleName),
		zap.Int("dependent_records", len(keys)))
	return nil
}

// UpdateMetadata implements WatcherService. Only name and tags change.
func (s *WatcherApplicationService) UpdateMetadata(ctx context.Context, userID, walletAddress, filterQuery string, meta entity.WatcherMetadata) (*entity.Watcher, error) {
	if err := validateIdentity(userID, walletAddress); err != nil {
		return nil, err
	}
	if meta.Name == nil && meta.Tags == nil {
		return nil, entity.NewValidationError("body", "name or tags is required")
	}

	for attempt := 0; attempt < metadataCASAttempts; attempt++ {
		item, err := s.locate(ctx, userID, walletAddress, filterQuery)
		if err != nil {
			return nil, err
		}

		var watcher entity.Watcher
		if err := item.Decode(&watcher); err != nil {
			return nil, fmt.Errorf("failed to decode watcher: %w", err)
		}
		if meta.Name != nil {
			watcher.Name = *meta.Name
		}
		if meta.Tags != nil {
			watcher.Tags = *meta.Tags
		}

		updated, err := repository.NewItem(item.PK, item.SK, watcher)
		if err != nil {
			return nil, fmt.Errorf("failed to encode watcher: %w", err)
		}
		err = s.store.CompareAndSwap(ctx, updated, item.Version)
		if errors.Is(err, repository.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update watcher: %w", err)
		}

		s.logger.Info("Updated watcher metadata",
			zap.String("user_id", userID),
			zap.String("wallet", walletAddress))
		return &watcher, nil
	}
	return nil, fmt.Errorf("failed to update watcher: concurrent modification")
}

// locate finds a watcher by exact key, then by prefix scan over the wallet's
// watchers preferring a fingerprint match
func (s *WatcherApplicationService) locate(ctx context.Context, userID, walletAddress, filterQuery string) (*repository.Item, error) {
	var hash string
	if strings.TrimSpace(filterQuery) != "" {
		if filters, err := entity.ParseFiltersQuery(filterQuery); err == nil {
			hash = s.fingerprint.Fingerprint(filters)
			item, err := s.store.Get(ctx, repository.WatcherKey(userID, walletAddress, filters.QueryString()))
			if err == nil {
				return item, nil
			}
			if !errors.Is(err, repository.ErrItemNotFound) {
				return nil, fmt.Errorf("failed to get watcher: %w", err)
			}
		}
	}

	items, err := s.store.Query(ctx, repository.UserPartition(userID), repository.WatcherPrefix(walletAddress), repository.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to query watchers: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("watcher %s for user %s: %w", walletAddress, userID, entity.ErrNotFound)
	}

	if hash != "" {
		for _, item := range items {
			var watcher entity.Watcher
			if err := item.Decode(&watcher); err == nil && watcher.FilterHash == hash {
				return item, nil
			}
		}
	}
	return items[0], nil
}
