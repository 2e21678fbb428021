package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/domain/service"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// Client talks to the delegated signing service that holds session keys for
// wallets that opted into automated trading
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logger.Logger
}

type delegationResponse struct {
	Delegated bool `json:"delegated"`
}

type swapResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// NewClient creates a signer client
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithComponent("signer-client"),
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return request, nil
}

// IsDelegated implements DelegationVerifier. A wallet unknown to the signer is not delegated.
func (c *Client) IsDelegated(ctx context.Context, walletAddress string) (bool, error) {
	endpoint := fmt.Sprintf("%s/delegations/%s", c.baseURL, url.PathEscape(walletAddress))
	request, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	response, err := c.client.Do(request)
	if err != nil {
		c.logger.Error("Delegation check failed", zap.String("wallet", walletAddress), zap.Error(err))
		return false, fmt.Errorf("%w: %v", entity.ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return false, nil
	case response.StatusCode < 200 || response.StatusCode >= 300:
		return false, fmt.Errorf("%w: signer status %d", entity.ErrUpstreamUnavailable, response.StatusCode)
	}

	var payload delegationResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("failed to decode delegation response: %w", err)
	}
	return payload.Delegated, nil
}

// ExecuteSwap implements SwapExecutor. The idempotency key makes a retried
// order for the same schedule slot a no-op on the signer side.
func (c *Client) ExecuteSwap(ctx context.Context, order *service.SwapOrder) (string, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("failed to marshal swap order: %w", err)
	}

	request, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/swaps", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	request.Header.Set("Idempotency-Key", order.IdempotencyKey)

	start := time.Now()
	response, err := c.client.Do(request)
	if err != nil {
		c.logger.Error("Swap request failed", zap.String("wallet", order.WalletAddress), zap.Error(err))
		return "", fmt.Errorf("%w: %v", entity.ErrExecution, err)
	}
	defer response.Body.Close()

	c.logger.Info("Swap request complete",
		zap.String("wallet", order.WalletAddress),
		zap.String("output_mint", order.OutputMint),
		zap.String("amount", order.Amount.String()),
		zap.Int("status", response.StatusCode),
		zap.Duration("duration", time.Since(start)))

	var payload swapResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil && response.StatusCode < 300 {
		return "", fmt.Errorf("%w: failed to decode swap response: %v", entity.ErrExecution, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		if payload.Error != "" {
			return "", fmt.Errorf("%w: %s", entity.ErrExecution, payload.Error)
		}
		return "", fmt.Errorf("%w: signer status %d", entity.ErrExecution, response.StatusCode)
	}
	if payload.TxHash == "" {
		return "", fmt.Errorf("%w: signer returned no transaction", entity.ErrExecution)
	}
	return payload.TxHash, nil
}
