package service

import (
	"context"
	"testing"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/cache"
	"wallet-watcher-engine/internal/infrastructure/clock"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(clk clock.Clock, prices service.PriceSource, sources ...service.MetadataSource) *TokenMetadataResolverService {
	return NewTokenMetadataResolver(
		sources,
		prices,
		cache.NewTTLCache[string, *entity.TokenMetadata](5*time.Minute, clk),
		metrics.New(),
		logger.NewNop(),
	)
}

func TestResolveFallsThroughToOnChainAndCaches(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)

	primary := &stubSource{name: entity.SourceJupiter, err: entity.ErrUpstreamUnavailable}
	secondary := &stubSource{name: entity.SourceDexScreener}
	onChain := &stubSource{name: entity.SourceOnChain, metadata: &entity.TokenMetadata{
		Symbol:   "DezX...B263",
		Name:     "Unknown Token",
		Decimals: entity.IntPtr(5),
		Source:   entity.SourceOnChain,
	}}

	resolver := newResolver(clk, nil, primary, secondary, onChain)

	first := resolver.Resolve(ctx, bonkMint)
	require.NotNil(t, first)
	assert.Equal(t, entity.SourceOnChain, first.Source)
	assert.Equal(t, 5, *first.Decimals)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 1, onChain.Calls())

	second := resolver.Resolve(ctx, bonkMint)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, secondary.Calls())
	assert.Equal(t, 1, onChain.Calls())
}

func TestResolvePlaceholderIsNotCached(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)

	source := &stubSource{name: entity.SourceJupiter}
	resolver := newResolver(clk, nil, source)

	metadata := resolver.Resolve(ctx, bonkMint)
	require.NotNil(t, metadata)
	assert.Equal(t, entity.SourcePlaceholder, metadata.Source)
	assert.Equal(t, "DezX...B263", metadata.Symbol)
	assert.Nil(t, metadata.PriceUSD)

	resolver.Resolve(ctx, bonkMint)
	assert.Equal(t, 2, source.Calls())

	// a source that recovers is picked up on the next call
	source.metadata = &entity.TokenMetadata{Symbol: "BONK", Source: entity.SourceJupiter}
	metadata = resolver.Resolve(ctx, bonkMint)
	assert.Equal(t, "BONK", metadata.Symbol)
}

func TestResolveCacheExpires(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(testNow)

	source := &stubSource{name: entity.SourceJupiter, metadata: &entity.TokenMetadata{Symbol: "BONK", Source: entity.SourceJupiter}}
	resolver := newResolver(clk, nil, source)

	resolver.Resolve(ctx, bonkMint)
	resolver.Resolve(ctx, bonkMint)
	assert.Equal(t, 1, source.Calls())

	clk.Advance(6 * time.Minute)
	resolver.Resolve(ctx, bonkMint)
	assert.Equal(t, 2, source.Calls())
}

func TestResolveNativeShortCircuits(t *testing.T) {
	ctx := context.Background()
	source := &stubSource{name: entity.SourceJupiter}
	prices := &stubPrices{quotes: map[string]*entity.PriceQuote{
		entity.NativeMint: {Mint: entity.NativeMint, PriceUSD: *dec("142.5")},
	}}
	resolver := newResolver(clock.NewFake(testNow), prices, source)

	metadata := resolver.Resolve(ctx, entity.NativeMint)
	require.NotNil(t, metadata)
	assert.Equal(t, "SOL", metadata.Symbol)
	assert.Equal(t, 9, *metadata.Decimals)
	assert.Equal(t, "142.5", metadata.PriceUSD.String())
	assert.Equal(t, entity.SourceNative, metadata.Source)
	assert.Equal(t, 0, source.Calls())
}

func TestResolveNativeWithoutPrice(t *testing.T) {
	prices := &stubPrices{err: entity.ErrUpstreamUnavailable}
	resolver := newResolver(clock.NewFake(testNow), prices)

	metadata := resolver.Resolve(context.Background(), entity.NativeMint)
	require.NotNil(t, metadata)
	assert.Equal(t, "SOL", metadata.Symbol)
	assert.Nil(t, metadata.PriceUSD)
}

func TestResolveAttachesPriceToMetadataWithoutOne(t *testing.T) {
	source := &stubSource{name: entity.SourceOnChain, metadata: &entity.TokenMetadata{Symbol: "BONK", Source: entity.SourceOnChain}}
	prices := &stubPrices{quotes: map[string]*entity.PriceQuote{
		bonkMint: {Mint: bonkMint, PriceUSD: *dec("0.00002")},
	}}
	resolver := newResolver(clock.NewFake(testNow), prices, source)

	metadata := resolver.Resolve(context.Background(), bonkMint)
	require.NotNil(t, metadata.PriceUSD)
	assert.Equal(t, "0.00002", metadata.PriceUSD.String())
}
