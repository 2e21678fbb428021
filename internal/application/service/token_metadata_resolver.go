package service

import (
	"context"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/cache"
	"wallet-watcher-engine/internal/infrastructure/logger"
	"wallet-watcher-engine/internal/infrastructure/metrics"

	"go.uber.org/zap"
)

const (
	metadataCacheName = "token_metadata"
	nativeDecimals    = 9
	unknownTokenName  = "Unknown Token"
)

// MetadataCache holds resolved token metadata keyed by mint
type MetadataCache = cache.TTLCache[string, *entity.TokenMetadata]

// TokenMetadataResolverService resolves mints through an ordered waterfall of
// sources. Tier errors are treated as a miss and never surface to the caller.
type TokenMetadataResolverService struct {
	sources []service.MetadataSource
	prices  service.PriceSource
	cache   *MetadataCache
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewTokenMetadataResolver creates a resolver. sources are tried in order.
func NewTokenMetadataResolver(
	sources []service.MetadataSource,
	prices service.PriceSource,
	metadataCache *MetadataCache,
	m *metrics.Metrics,
	logger *logger.Logger,
) *TokenMetadataResolverService {
	return &TokenMetadataResolverService{
		sources: sources,
		prices:  prices,
		cache:   metadataCache,
		metrics: m,
		logger:  logger.WithComponent("token-metadata-resolver"),
	}
}

// Resolve implements TokenMetadataResolver
func (r *TokenMetadataResolverService) Resolve(ctx context.Context, mint string) *entity.TokenMetadata {
	if mint == "" {
		return nil
	}

	if mint == entity.NativeMint {
		r.metrics.ResolverTier.WithLabelValues(string(entity.SourceNative)).Inc()
		return r.native(ctx)
	}

	if cached, ok := r.cache.Get(mint); ok {
		r.metrics.ObserveCache(metadataCacheName, true)
		r.metrics.ResolverTier.WithLabelValues(string(entity.SourceCache)).Inc()
		copied := *cached
		return &copied
	}
	r.metrics.ObserveCache(metadataCacheName, false)

	for _, source := range r.sources {
		metadata, err := source.FetchMetadata(ctx, mint)
		if err != nil {
			r.logger.Debug("Metadata tier failed",
				zap.String("mint", mint),
				zap.String("source", string(source.Name())),
				zap.Error(err))
			continue
		}
		if metadata == nil || metadata.Symbol == "" {
			continue
		}

		if metadata.PriceUSD == nil {
			r.attachPrice(ctx, metadata)
		}

		r.cache.Set(mint, metadata)
		r.metrics.ResolverTier.WithLabelValues(string(metadata.Source)).Inc()
		copied := *metadata
		return &copied
	}

	// not cached, so the real tiers are retried once the cache rolls over
	r.logger.Info("Falling back to placeholder metadata", zap.String("mint", mint))
	r.metrics.ResolverTier.WithLabelValues(string(entity.SourcePlaceholder)).Inc()
	return &entity.TokenMetadata{
		Address: mint,
		Symbol:  entity.ShortAddress(mint),
		Name:    unknownTokenName,
		Source:  entity.SourcePlaceholder,
	}
}

// native returns the well-known SOL entry with a live price
func (r *TokenMetadataResolverService) native(ctx context.Context) *entity.TokenMetadata {
	metadata := &entity.TokenMetadata{
		Address:  entity.NativeMint,
		Symbol:   "SOL",
		Name:     "Wrapped SOL",
		Decimals: entity.IntPtr(nativeDecimals),
		Source:   entity.SourceNative,
	}
	r.attachPrice(ctx, metadata)
	return metadata
}

// attachPrice fills in the live price when the price source has one
func (r *TokenMetadataResolverService) attachPrice(ctx context.Context, metadata *entity.TokenMetadata) {
	if r.prices == nil {
		return
	}
	quote, err := r.prices.GetPrice(ctx, metadata.Address)
	if err != nil {
		r.logger.Debug("Price lookup failed", zap.String("mint", metadata.Address), zap.Error(err))
		return
	}
	if quote != nil {
		price := quote.PriceUSD
		metadata.PriceUSD = &price
	}
}
