package service

import (
	"context"
	"sync"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"

	"github.com/shopspring/decimal"
)

const (
	testUser   = "user-0001"
	testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	bonkMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// stubSource is a metadata tier with a fixed answer
type stubSource struct {
	name     entity.MetadataSourceName
	metadata *entity.TokenMetadata
	err      error

	mu    sync.Mutex
	calls int
}

func (s *stubSource) Name() entity.MetadataSourceName { return s.name }

func (s *stubSource) FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil || s.metadata == nil {
		return nil, s.err
	}
	copied := *s.metadata
	copied.Address = mint
	return &copied, nil
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubPrices answers quotes from a map
type stubPrices struct {
	quotes map[string]*entity.PriceQuote
	err    error
}

func (s *stubPrices) GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.quotes[mint], nil
}

// stubResolver returns fixed metadata per mint
type stubResolver map[string]*entity.TokenMetadata

func (r stubResolver) Resolve(ctx context.Context, mint string) *entity.TokenMetadata {
	if m, ok := r[mint]; ok {
		copied := *m
		return &copied
	}
	return nil
}

// stubDelegation reports a fixed delegation state per wallet
type stubDelegation struct {
	revoked map[string]bool
	err     error
}

func (d *stubDelegation) IsDelegated(ctx context.Context, wallet string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return !d.revoked[wallet], nil
}

// recordingExecutor records orders and returns a fixed hash
type recordingExecutor struct {
	mu     sync.Mutex
	orders []*service.SwapOrder
	err    error
}

func (e *recordingExecutor) ExecuteSwap(ctx context.Context, order *service.SwapOrder) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	e.orders = append(e.orders, order)
	return "tx-" + order.IdempotencyKey[:8], nil
}

func (e *recordingExecutor) Orders() []*service.SwapOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*service.SwapOrder(nil), e.orders...)
}

// fakeRules is an in-test rule registry
type fakeRules struct {
	mu        sync.Mutex
	rules     map[string]*service.Rule
	createErr error
	deleteErr error
	deleted   []string
}

func newFakeRules() *fakeRules {
	return &fakeRules{rules: make(map[string]*service.Rule)}
}

func (r *fakeRules) CreateRule(ctx context.Context, rule *service.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.rules[rule.Name] = rule
	return nil
}

func (r *fakeRules) DeleteRule(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, name)
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.rules, name)
	return nil
}
