package market

import (
	"context"
	"fmt"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
)

// allower is the subset of redis_rate.Limiter used for throttling
type allower interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// ThrottledSource caps the outbound request rate to a metadata source across
// all replicas. A throttled call reports nothing usable so the waterfall moves on.
type ThrottledSource struct {
	source  service.MetadataSource
	limiter allower
	limit   redis_rate.Limit
	logger  *logger.Logger
}

// NewThrottledSource wraps source with a shared per-second budget
func NewThrottledSource(source service.MetadataSource, limiter allower, perSecond int, logger *logger.Logger) *ThrottledSource {
	return &ThrottledSource{
		source:  source,
		limiter: limiter,
		limit:   redis_rate.PerSecond(perSecond),
		logger:  logger.WithComponent("throttled-source"),
	}
}

// Name implements MetadataSource
func (s *ThrottledSource) Name() entity.MetadataSourceName {
	return s.source.Name()
}

// FetchMetadata implements MetadataSource
func (s *ThrottledSource) FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error) {
	key := fmt.Sprintf("source:%s", s.source.Name())
	res, err := s.limiter.Allow(ctx, key, s.limit)
	if err != nil {
		// the limiter being down must not take the source down with it
		s.logger.Warn("Rate limiter unavailable, calling source unthrottled", zap.Error(err))
		return s.source.FetchMetadata(ctx, mint)
	}
	if res.Allowed == 0 {
		s.logger.Debug("Source throttled",
			zap.String("source", string(s.source.Name())),
			zap.Duration("retry_after", res.RetryAfter))
		return nil, nil
	}
	return s.source.FetchMetadata(ctx, mint)
}

// FallbackPriceSource asks each source in order and returns the first quote
type FallbackPriceSource struct {
	sources []service.PriceSource
	logger  *logger.Logger
}

// NewFallbackPriceSource creates a price source chain
func NewFallbackPriceSource(logger *logger.Logger, sources ...service.PriceSource) *FallbackPriceSource {
	return &FallbackPriceSource{
		sources: sources,
		logger:  logger.WithComponent("price-source"),
	}
}

// GetPrice implements PriceSource. It fails only when every source failed.
func (s *FallbackPriceSource) GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	var lastErr error
	for _, source := range s.sources {
		quote, err := source.GetPrice(ctx, mint)
		if err != nil {
			s.logger.Debug("Price source failed", zap.String("mint", mint), zap.Error(err))
			lastErr = err
			continue
		}
		if quote != nil {
			return quote, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
