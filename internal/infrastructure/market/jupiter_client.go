package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet-watcher-engine/internal/domain/entity"
	"wallet-watcher-engine/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
)

// JupiterClient reads the Jupiter token list and price APIs
type JupiterClient struct {
	tokenURL string
	priceURL string
	client   *http.Client
	logger   *logger.Logger
}

type jupiterToken struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals *int   `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

type jupiterPriceResponse struct {
	Data map[string]*struct {
		ID    string              `json:"id"`
		Price decimal.NullDecimal `json:"price"`
	} `json:"data"`
}

// NewJupiterClient creates a Jupiter client
func NewJupiterClient(tokenURL, priceURL string, timeout time.Duration, logger *logger.Logger) *JupiterClient {
	return &JupiterClient{
		tokenURL: strings.TrimRight(tokenURL, "/"),
		priceURL: strings.TrimRight(priceURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithComponent("jupiter-client"),
	}
}

// Name implements MetadataSource
func (c *JupiterClient) Name() entity.MetadataSourceName {
	return entity.SourceJupiter
}

// FetchMetadata implements MetadataSource
func (c *JupiterClient) FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error) {
	var token jupiterToken
	endpoint := fmt.Sprintf("%s/token/%s", c.tokenURL, url.PathEscape(mint))
	if err := getJSON(ctx, c.client, c.logger, endpoint, &token); err != nil {
		if errors.Is(err, errNotListed) {
			return nil, nil
		}
		return nil, err
	}
	if token.Symbol == "" {
		return nil, nil
	}

	metadata := &entity.TokenMetadata{
		Address:  mint,
		Symbol:   token.Symbol,
		Name:     token.Name,
		Decimals: token.Decimals,
		LogoURI:  token.LogoURI,
		Source:   entity.SourceJupiter,
	}

	// price is best effort, the metadata is usable without it
	if quote, err := c.GetPrice(ctx, mint); err == nil && quote != nil {
		price := quote.PriceUSD
		metadata.PriceUSD = &price
	}
	return metadata, nil
}

// GetPrice implements PriceSource. Jupiter has no 24h change, so the quote leaves it nil.
func (c *JupiterClient) GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	var payload jupiterPriceResponse
	endpoint := fmt.Sprintf("%s?ids=%s", c.priceURL, url.QueryEscape(mint))
	if err := getJSON(ctx, c.client, c.logger, endpoint, &payload); err != nil {
		if errors.Is(err, errNotListed) {
			return nil, nil
		}
		return nil, err
	}

	entry, ok := payload.Data[mint]
	if !ok || entry == nil || !entry.Price.Valid {
		return nil, nil
	}
	return &entity.PriceQuote{Mint: mint, PriceUSD: entry.Price.Decimal}, nil
}
