package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// errNotListed marks a 404 from a source, meaning it has nothing for the mint
var errNotListed = errors.New("not listed")

// getJSON issues a GET and decodes a 2xx body into out. Transport failures and
// unexpected statuses wrap ErrUpstreamUnavailable.
func getJSON(ctx context.Context, client *http.Client, log *logger.Logger, endpoint string, out interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")

	start := time.Now()
	response, err := client.Do(request)
	if err != nil {
		log.Warn("Source request failed", zap.String("url", endpoint), zap.Error(err))
		return fmt.Errorf("%w: %v", entity.ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close()

	log.Debug("Source request complete",
		zap.String("url", endpoint),
		zap.Int("status", response.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if response.StatusCode == http.StatusNotFound {
		return errNotListed
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", entity.ErrUpstreamUnavailable, response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", entity.ErrUpstreamUnavailable, err)
	}
	return nil
}
