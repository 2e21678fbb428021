package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/repository"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/config"
	"wallet-watcher-engine/internal/infrastructure/database"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerFixture struct {
	store      *database.MemoryKeyedStore
	clock      *clock.Fake
	delegation *stubDelegation
	executor   *recordingExecutor
	prices     *stubPrices
	scheduler  *StrategySchedulerService
}

func newSchedulerFixture() *schedulerFixture {
	clk := clock.NewFake(testNow)
	f := &schedulerFixture{
		store:      database.NewMemoryKeyedStore(clk),
		clock:      clk,
		delegation: &stubDelegation{revoked: map[string]bool{}},
		executor:   &recordingExecutor{},
		prices:     &stubPrices{quotes: map[string]*entity.PriceQuote{}},
	}
	cfg := &config.SchedulerConfig{VerifyDelegation: true, InputMint: entity.USDCMint}
	f.scheduler = NewStrategyScheduler(f.store, f.delegation, f.executor, f.prices, clk, metrics.New(), cfg, logger.NewNop())
	return f
}

func (f *schedulerFixture) put(t *testing.T, strategy *entity.Strategy) {
	t.Helper()
	key := repository.StrategyKey(strategy.WalletAddress, strategy.ID)
	item, err := repository.NewItem(key.PK, key.SK, strategy)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), item))
}

func (f *schedulerFixture) get(t *testing.T, wallet, id string) *entity.Strategy {
	t.Helper()
	item, err := f.store.Get(context.Background(), repository.StrategyKey(wallet, id))
	require.NoError(t, err)
	var strategy entity.Strategy
	require.NoError(t, item.Decode(&strategy))
	return &strategy
}

func strategy(id string, strategyType entity.StrategyType) *entity.Strategy {
	return &entity.Strategy{
		WalletAddress: testWallet,
		ID:            id,
		StrategyType:  strategyType,
		Amount:        *dec("20"),
		TargetToken:   bonkMint,
		Frequency:     entity.FrequencyDaily,
		NextExecution: testNow.Add(-3 * 24 * time.Hour),
		Status:        entity.StrategyActive,
	}
}

func TestScheduleAdvancesFromNowOnEveryPath(t *testing.T) {
	f := newSchedulerFixture()
	f.prices.quotes[bonkMint] = &entity.PriceQuote{Mint: bonkMint, PriceUSD: *dec("0.00003"), PriceChange24h: func() *float64 { v := -2.0; return &v }()}

	f.put(t, strategy("dca", entity.StrategyDCA))
	f.put(t, strategy("momentum", entity.StrategyMomentum))
	f.put(t, strategy("bogus", entity.StrategyType("grid")))

	// execution happens a little after the tick started
	tickAt := testNow
	f.clock.Advance(2 * time.Second)
	report, err := f.scheduler.Tick(context.Background(), tickAt)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)

	want := f.clock.Now().Add(24 * time.Hour)
	for _, id := range []string{"dca", "momentum", "bogus"} {
		stored := f.get(t, testWallet, id)
		assert.True(t, stored.NextExecution.After(tickAt), id)
		assert.True(t, stored.NextExecution.Equal(want), id)
	}

	dca := f.get(t, testWallet, "dca")
	assert.NotEmpty(t, dca.LastTxHash)
	require.NotNil(t, dca.LastExecuted)

	bogus := f.get(t, testWallet, "bogus")
	assert.Contains(t, bogus.LastError, entity.ErrUnknownStrategy.Error())

	// nothing is due on an immediate second tick
	report, err = f.scheduler.Tick(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Due)
}

func TestFrequencies(t *testing.T) {
	for frequency, interval := range map[entity.Frequency]time.Duration{
		entity.FrequencyHourly: time.Hour,
		entity.FrequencyDaily:  24 * time.Hour,
		entity.FrequencyWeekly: 7 * 24 * time.Hour,
		"":                     24 * time.Hour,
	} {
		f := newSchedulerFixture()
		s := strategy("s", entity.StrategyDCA)
		s.Frequency = frequency
		f.put(t, s)

		_, err := f.scheduler.Tick(context.Background(), testNow)
		require.NoError(t, err)
		assert.True(t, testNow.Add(interval).Equal(f.get(t, testWallet, "s").NextExecution), string(frequency))
	}
}

func TestRevokedDelegationIsTerminal(t *testing.T) {
	f := newSchedulerFixture()
	original := strategy("dca", entity.StrategyDCA)
	f.put(t, original)
	f.delegation.revoked[testWallet] = true

	report, err := f.scheduler.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.executor.Orders())

	stored := f.get(t, testWallet, "dca")
	assert.Equal(t, entity.StrategyInactive, stored.Status)
	assert.Equal(t, revokedReason, stored.StatusReason)
	assert.True(t, stored.NextExecution.Equal(original.NextExecution))

	// re-granting delegation does not reactivate the strategy
	f.delegation.revoked[testWallet] = false
	for i := 0; i < 3; i++ {
		f.clock.Advance(48 * time.Hour)
		report, err = f.scheduler.Tick(context.Background(), f.clock.Now())
		require.NoError(t, err)
		assert.Equal(t, 0, report.Due)
	}
	assert.Empty(t, f.executor.Orders())
}

func TestStrategyDispatch(t *testing.T) {
	positive, negative := 4.5, -1.0

	tests := []struct {
		name       string
		strategy   func() *entity.Strategy
		quote      *entity.PriceQuote
		outcome    entity.ExecutionOutcome
		wantAmount string
	}{
		{
			name:       "dca buys the full amount",
			strategy:   func() *entity.Strategy { return strategy("s", entity.StrategyDCA) },
			outcome:    entity.OutcomeExecuted,
			wantAmount: "20",
		},
		{
			name:       "momentum buys on a rising price",
			strategy:   func() *entity.Strategy { return strategy("s", entity.StrategyMomentum) },
			quote:      &entity.PriceQuote{PriceUSD: *dec("1"), PriceChange24h: &positive},
			outcome:    entity.OutcomeExecuted,
			wantAmount: "20",
		},
		{
			name:     "momentum skips a falling price",
			strategy: func() *entity.Strategy { return strategy("s", entity.StrategyMomentum) },
			quote:    &entity.PriceQuote{PriceUSD: *dec("1"), PriceChange24h: &negative},
			outcome:  entity.OutcomeSkipped,
		},
		{
			name: "limit buys at or below the limit",
			strategy: func() *entity.Strategy {
				s := strategy("s", entity.StrategyLimit)
				s.LimitPrice = dec("0.5")
				return s
			},
			quote:      &entity.PriceQuote{PriceUSD: *dec("0.5")},
			outcome:    entity.OutcomeExecuted,
			wantAmount: "20",
		},
		{
			name: "limit skips above the limit",
			strategy: func() *entity.Strategy {
				s := strategy("s", entity.StrategyLimit)
				s.LimitPrice = dec("0.5")
				return s
			},
			quote:   &entity.PriceQuote{PriceUSD: *dec("0.51")},
			outcome: entity.OutcomeSkipped,
		},
		{
			name:       "rebalance buys half",
			strategy:   func() *entity.Strategy { return strategy("s", entity.StrategyRebalance) },
			outcome:    entity.OutcomeExecuted,
			wantAmount: "10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture()
			if tt.quote != nil {
				f.prices.quotes[bonkMint] = tt.quote
			}
			f.put(t, tt.strategy())

			report, err := f.scheduler.Tick(context.Background(), testNow)
			require.NoError(t, err)
			require.Len(t, report.Results, 1)
			assert.Equal(t, tt.outcome, report.Results[0].Outcome)

			orders := f.executor.Orders()
			if tt.wantAmount == "" {
				assert.Empty(t, orders)
				return
			}
			require.Len(t, orders, 1)
			assert.Equal(t, tt.wantAmount, orders[0].Amount.String())
			assert.Equal(t, entity.USDCMint, orders[0].InputMint)
			assert.Equal(t, bonkMint, orders[0].OutputMint)
		})
	}
}

func TestFailedSwapIsIsolated(t *testing.T) {
	f := newSchedulerFixture()
	f.executor.err = errors.New("simulation failed")

	other := strategy("other", entity.StrategyDCA)
	other.WalletAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	f.put(t, strategy("dca", entity.StrategyDCA))
	f.put(t, other)

	report, err := f.scheduler.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	stored := f.get(t, testWallet, "dca")
	assert.Contains(t, stored.LastError, "simulation failed")
	assert.True(t, testNow.Add(24*time.Hour).Equal(stored.NextExecution))
	assert.Equal(t, entity.StrategyActive, stored.Status)
}

func TestLostClaimIsSkipped(t *testing.T) {
	f := newSchedulerFixture()
	s := strategy("dca", entity.StrategyDCA)
	f.put(t, s)

	item, err := f.store.Get(context.Background(), repository.StrategyKey(testWallet, "dca"))
	require.NoError(t, err)

	// another tick claims the strategy between the scan and the claim
	rival, err := repository.NewItem(item.PK, item.SK, s)
	require.NoError(t, err)
	require.NoError(t, f.store.Put(context.Background(), rival))

	result := f.scheduler.executeOne(context.Background(), item, s)
	assert.Equal(t, entity.OutcomeSkipped, result.Outcome)
	assert.Empty(t, f.executor.Orders())
}

func TestIdempotencyKeyIsStablePerSlot(t *testing.T) {
	a := IdempotencyKey("strategy-1", testNow)
	assert.Equal(t, a, IdempotencyKey("strategy-1", testNow.In(time.FixedZone("X", 3600))))
	assert.NotEqual(t, a, IdempotencyKey("strategy-1", testNow.Add(time.Hour)))
	assert.NotEqual(t, a, IdempotencyKey("strategy-2", testNow))
}

func TestSchedulerConcurrencyLimit(t *testing.T) {
	f := newSchedulerFixture()
	f.scheduler.config.MaxConcurrency = 2
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s := strategy(id, entity.StrategyDCA)
		f.put(t, s)
	}

	report, err := f.scheduler.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Executed)
	assert.Len(t, f.executor.Orders(), 5)
}

// contextStore fails writes whose context is already done, like a network store
type contextStore struct {
	*database.MemoryKeyedStore
}

func (s contextStore) CompareAndSwap(ctx context.Context, item *repository.Item, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryKeyedStore.CompareAndSwap(ctx, item, expectedVersion)
}

// blockingExecutor waits for its context to end
type blockingExecutor struct{}

func (blockingExecutor) ExecuteSwap(ctx context.Context, order *service.SwapOrder) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type panickingPrices struct{}

func (panickingPrices) GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	panic("price feed exploded")
}

func TestOutcomeRecordedAfterExecutionTimeout(t *testing.T) {
	f := newSchedulerFixture()
	store := contextStore{MemoryKeyedStore: f.store}
	cfg := &config.SchedulerConfig{ExecutionTimeout: 50 * time.Millisecond, InputMint: entity.USDCMint}
	scheduler := NewStrategyScheduler(store, f.delegation, blockingExecutor{}, f.prices, f.clock, metrics.New(), cfg, logger.NewNop())
	f.put(t, strategy("dca", entity.StrategyDCA))

	report, err := scheduler.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	stored := f.get(t, testWallet, "dca")
	assert.Contains(t, stored.LastError, context.DeadlineExceeded.Error())
	assert.True(t, testNow.Add(24*time.Hour).Equal(stored.NextExecution))
}

func TestOutcomeRecordedWhenCallerGoesAway(t *testing.T) {
	f := newSchedulerFixture()
	store := contextStore{MemoryKeyedStore: f.store}
	cfg := &config.SchedulerConfig{InputMint: entity.USDCMint}
	scheduler := NewStrategyScheduler(store, f.delegation, blockingExecutor{}, f.prices, f.clock, metrics.New(), cfg, logger.NewNop())
	f.put(t, strategy("dca", entity.StrategyDCA))

	item, err := f.store.Get(context.Background(), repository.StrategyKey(testWallet, "dca"))
	require.NoError(t, err)
	var s entity.Strategy
	require.NoError(t, item.Decode(&s))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := scheduler.executeOne(ctx, item, &s)
	assert.Equal(t, entity.OutcomeFailed, result.Outcome)

	stored := f.get(t, testWallet, "dca")
	assert.Contains(t, stored.LastError, context.Canceled.Error())
	assert.True(t, testNow.Add(24*time.Hour).Equal(stored.NextExecution))
}

func TestPanickingCollaboratorFailsOnlyItsStrategy(t *testing.T) {
	f := newSchedulerFixture()
	cfg := &config.SchedulerConfig{InputMint: entity.USDCMint}
	scheduler := NewStrategyScheduler(f.store, f.delegation, f.executor, panickingPrices{}, f.clock, metrics.New(), cfg, logger.NewNop())
	f.put(t, strategy("dca", entity.StrategyDCA))
	f.put(t, strategy("momentum", entity.StrategyMomentum))

	report, err := scheduler.Tick(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Failed)

	momentum := f.get(t, testWallet, "momentum")
	assert.Contains(t, momentum.LastError, "price feed exploded")
	assert.True(t, testNow.Add(24*time.Hour).Equal(momentum.NextExecution))
	assert.Len(t, f.executor.Orders(), 1)
}
