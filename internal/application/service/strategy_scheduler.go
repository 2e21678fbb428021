package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	revokedReason     = "delegation revoked"
	storeWriteTimeout = 10 * time.Second
)

var errClaimLost = errors.New("strategy claimed by another tick")

// StrategySchedulerService executes due strategies. Every strategy is claimed
// with a version-checked write that moves nextExecution forward before any
// swap is dispatched, so overlapping ticks never run the same slot twice.
type StrategySchedulerService struct {
	store      repository.KeyedStore
	delegation service.DelegationVerifier
	executor   service.SwapExecutor
	prices     service.PriceSource
	clock      clock.Clock
	metrics    *metrics.Metrics
	config     *config.SchedulerConfig
	logger     *logger.Logger
}

// NewStrategyScheduler creates the strategy scheduler
func NewStrategyScheduler(
	store repository.KeyedStore,
	delegation service.DelegationVerifier,
	executor service.SwapExecutor,
	prices service.PriceSource,
	clk clock.Clock,
	m *metrics.Metrics,
	cfg *config.SchedulerConfig,
	logger *logger.Logger,
) *StrategySchedulerService {
	return &StrategySchedulerService{
		store:      store,
		delegation: delegation,
		executor:   executor,
		prices:     prices,
		clock:      clk,
		metrics:    m,
		config:     cfg,
		logger:     logger.WithComponent("strategy-scheduler"),
	}
}

// Tick implements StrategyScheduler. Failures are isolated per strategy and
// only a failed scan fails the tick.
func (s *StrategySchedulerService) Tick(ctx context.Context, now time.Time) (*entity.TickReport, error) {
	ctx, span := otel.Tracer("wallet-watcher").Start(ctx, "StrategyScheduler.Tick")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	items, err := s.store.Scan(ctx, repository.StrategyPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to scan strategies: %w", err)
	}

	type dueStrategy struct {
		item     *repository.Item
		strategy *entity.Strategy
	}
	var due []dueStrategy
	for _, item := range items {
		var strategy entity.Strategy
		if err := item.Decode(&strategy); err != nil {
			s.logger.Warn("Skipping undecodable strategy", zap.String("pk", item.PK), zap.String("sk", item.SK), zap.Error(err))
			continue
		}
		if strategy.IsDue(now) {
			due = append(due, dueStrategy{item: item, strategy: &strategy})
		}
	}

	report := &entity.TickReport{Due: len(due), Results: make([]*entity.ExecutionResult, len(due))}

	var g errgroup.Group
	if s.config.MaxConcurrency > 0 {
		g.SetLimit(s.config.MaxConcurrency)
	}
	for i, d := range due {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Strategy execution panicked", zap.String("strategy_id", d.strategy.ID), zap.Any("panic", r))
					report.Results[i] = &entity.ExecutionResult{
						StrategyID: d.strategy.ID,
						Wallet:     d.strategy.WalletAddress,
						Outcome:    entity.OutcomeFailed,
						Reason:     fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			report.Results[i] = s.executeOne(ctx, d.item, d.strategy)
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range report.Results {
		switch result.Outcome {
		case entity.OutcomeExecuted:
			report.Executed++
		case entity.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("tick.due", report.Due),
		attribute.Int("tick.executed", report.Executed),
		attribute.Int("tick.failed", report.Failed),
	)
	s.logger.Info("Scheduler tick complete",
		zap.Int("due", report.Due),
		zap.Int("executed", report.Executed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

// executeOne runs a single strategy and always returns a settled result.
// The execution timeout bounds the delegation, price and swap calls only;
// store writes run on a detached context so the outcome is recorded even
// when the caller has gone away.
func (s *StrategySchedulerService) executeOne(ctx context.Context, item *repository.Item, strategy *entity.Strategy) *entity.ExecutionResult {
	result := &entity.ExecutionResult{StrategyID: strategy.ID, Wallet: strategy.WalletAddress}
	log := s.logger.WithWallet(strategy.WalletAddress)

	callCtx := ctx
	if s.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.config.ExecutionTimeout)
		defer cancel()
	}

	if s.config.VerifyDelegation {
		delegated, err := s.isDelegated(callCtx, strategy.WalletAddress)
		switch {
		case err != nil:
			// unknown delegation state is not a revocation; the slot still advances
			log.Warn("Delegation check failed", zap.String("strategy_id", strategy.ID), zap.Error(err))
			claimed, claimErr := s.claim(ctx, item, strategy)
			if claimErr != nil {
				return s.claimFailed(result, strategy, claimErr)
			}
			return s.finish(ctx, claimed, strategy, result, "", fmt.Errorf("delegation check: %w", err))
		case !delegated:
			return s.deactivate(ctx, item, strategy, result)
		}
	}

	slot := strategy.NextExecution
	claimed, err := s.claim(ctx, item, strategy)
	if err != nil {
		return s.claimFailed(result, strategy, err)
	}

	txHash, skipReason, err := s.dispatch(callCtx, strategy, slot)
	if err == nil && skipReason != "" {
		result.Outcome = entity.OutcomeSkipped
		result.Reason = skipReason
	}
	return s.finish(ctx, claimed, strategy, result, txHash, err)
}

// writeContext detaches store writes from the caller's cancellation
func (s *StrategySchedulerService) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
}

func (s *StrategySchedulerService) isDelegated(ctx context.Context, wallet string) (delegated bool, err error) {
	defer recoverAsError(&err)
	return s.delegation.IsDelegated(ctx, wallet)
}

func (s *StrategySchedulerService) claimFailed(result *entity.ExecutionResult, strategy *entity.Strategy, err error) *entity.ExecutionResult {
	result.Outcome = entity.OutcomeSkipped
	result.Reason = err.Error()
	if !errors.Is(err, errClaimLost) {
		result.Outcome = entity.OutcomeFailed
		s.logger.Error("Failed to claim strategy", zap.String("strategy_id", strategy.ID), zap.Error(err))
	}
	s.metrics.StrategyExecutions.WithLabelValues(string(strategy.StrategyType), string(result.Outcome)).Inc()
	return result
}

// recoverAsError turns a panic in a collaborator into an execution error
func recoverAsError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: panic: %v", entity.ErrExecution, r)
	}
}

// claim advances nextExecution with a version check
func (s *StrategySchedulerService) claim(ctx context.Context, item *repository.Item, strategy *entity.Strategy) (*repository.Item, error) {
	claimed := *strategy
	claimed.NextExecution = s.clock.Now().Add(strategy.Frequency.Interval())

	next, err := repository.NewItem(item.PK, item.SK, claimed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode strategy: %w", err)
	}
	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()
	if err := s.store.CompareAndSwap(writeCtx, next, item.Version); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, errClaimLost
		}
		return nil, fmt.Errorf("failed to claim strategy: %w", err)
	}
	return next, nil
}

// deactivate records a revoked delegation. nextExecution is left untouched.
func (s *StrategySchedulerService) deactivate(ctx context.Context, item *repository.Item, strategy *entity.Strategy, result *entity.ExecutionResult) *entity.ExecutionResult {
	updated := *strategy
	updated.Status = entity.StrategyInactive
	updated.StatusReason = revokedReason

	result.Outcome = entity.OutcomeSkipped
	result.Reason = revokedReason

	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()
	next, err := repository.NewItem(item.PK, item.SK, updated)
	if err == nil {
		err = s.store.CompareAndSwap(writeCtx, next, item.Version)
	}
	if err != nil {
		s.logger.Error("Failed to deactivate strategy", zap.String("strategy_id", strategy.ID), zap.Error(err))
	} else {
		s.logger.Info("Deactivated strategy after revoked delegation",
			zap.String("strategy_id", strategy.ID),
			zap.String("wallet", strategy.WalletAddress))
	}

	s.metrics.StrategyExecutions.WithLabelValues(string(strategy.StrategyType), string(result.Outcome)).Inc()
	return result
}

// finish records the outcome and sets nextExecution from the current time.
// The write happens on every path.
func (s *StrategySchedulerService) finish(ctx context.Context, item *repository.Item, strategy *entity.Strategy, result *entity.ExecutionResult, txHash string, execErr error) *entity.ExecutionResult {
	updated := *strategy
	now := s.clock.Now()
	updated.NextExecution = now.Add(strategy.Frequency.Interval())

	switch {
	case execErr != nil:
		result.Outcome = entity.OutcomeFailed
		result.Reason = execErr.Error()
		updated.LastError = execErr.Error()
	case result.Outcome == entity.OutcomeSkipped:
	default:
		result.Outcome = entity.OutcomeExecuted
		result.TxHash = txHash
		updated.LastExecuted = &now
		updated.LastTxHash = txHash
		updated.LastError = ""
	}

	if err := s.writeStrategy(ctx, item, &updated); err != nil {
		s.logger.Error("Failed to record strategy outcome",
			zap.String("strategy_id", strategy.ID),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
	}

	s.metrics.StrategyExecutions.WithLabelValues(string(strategy.StrategyType), string(result.Outcome)).Inc()
	s.logger.Info("Strategy executed",
		zap.String("strategy_id", strategy.ID),
		zap.String("strategy_type", string(strategy.StrategyType)),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", result.Reason),
		zap.Time("next_execution", updated.NextExecution))
	return result
}

// writeStrategy replaces the strategy at the version it was last seen.
// Status changes made meanwhile by other writers win.
func (s *StrategySchedulerService) writeStrategy(ctx context.Context, item *repository.Item, strategy *entity.Strategy) error {
	next, err := repository.NewItem(item.PK, item.SK, strategy)
	if err != nil {
		return fmt.Errorf("failed to encode strategy: %w", err)
	}
	writeCtx, cancel := s.writeContext(ctx)
	defer cancel()
	return s.store.CompareAndSwap(writeCtx, next, item.Version)
}

// dispatch runs the strategy type. A non-empty skip reason means no order was placed.
func (s *StrategySchedulerService) dispatch(ctx context.Context, strategy *entity.Strategy, slot time.Time) (txHash string, skipReason string, err error) {
	defer recoverAsError(&err)
	amount := strategy.Amount

	switch strategy.StrategyType {
	case entity.StrategyDCA:

	case entity.StrategyMomentum:
		quote, err := s.quote(ctx, strategy.TargetToken)
		if err != nil {
			return "", "", err
		}
		if quote == nil || quote.PriceChange24h == nil {
			return "", "no 24h price change available", nil
		}
		if *quote.PriceChange24h <= 0 {
			return "", fmt.Sprintf("24h change %.2f%% is not positive", *quote.PriceChange24h), nil
		}

	case entity.StrategyLimit:
		if strategy.LimitPrice == nil {
			return "", "", entity.NewValidationError("limitPrice", "is required for limit strategies")
		}
		quote, err := s.quote(ctx, strategy.TargetToken)
		if err != nil {
			return "", "", err
		}
		if quote == nil {
			return "", "no price available", nil
		}
		if quote.PriceUSD.GreaterThan(*strategy.LimitPrice) {
			return "", fmt.Sprintf("price %s above limit %s", quote.PriceUSD, strategy.LimitPrice), nil
		}

	case entity.StrategyRebalance:
		amount = amount.Div(decimal.NewFromInt(2))

	default:
		return "", "", fmt.Errorf("%w: %q", entity.ErrUnknownStrategy, strategy.StrategyType)
	}

	if !amount.IsPositive() {
		return "", "", entity.NewValidationError("amount", "must be positive")
	}

	order := &service.SwapOrder{
		WalletAddress:  strategy.WalletAddress,
		InputMint:      s.config.InputMint,
		OutputMint:     strategy.TargetToken,
		Amount:         amount,
		IdempotencyKey: IdempotencyKey(strategy.ID, slot),
	}
	txHash, err = s.executor.ExecuteSwap(ctx, order)
	if err != nil {
		if !errors.Is(err, entity.ErrExecution) {
			err = fmt.Errorf("%w: %v", entity.ErrExecution, err)
		}
		return "", "", err
	}
	return txHash, "", nil
}

func (s *StrategySchedulerService) quote(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	quote, err := s.prices.GetPrice(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	return quote, nil
}

// IdempotencyKey is stable for one strategy and schedule slot
func IdempotencyKey(strategyID string, slot time.Time) string {
	name := strategyID + "|" + slot.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
