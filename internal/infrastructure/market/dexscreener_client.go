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

// DexScreenerClient reads pair data from DexScreener
type DexScreenerClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

type dexScreenerToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type dexScreenerPair struct {
	ChainID     string              `json:"chainId"`
	BaseToken   dexScreenerToken    `json:"baseToken"`
	QuoteToken  dexScreenerToken    `json:"quoteToken"`
	PriceUSD    decimal.NullDecimal `json:"priceUsd"`
	PriceChange struct {
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Info struct {
		ImageURL string `json:"imageUrl"`
	} `json:"info"`
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

// NewDexScreenerClient creates a DexScreener client
func NewDexScreenerClient(baseURL string, timeout time.Duration, logger *logger.Logger) *DexScreenerClient {
	return &DexScreenerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithComponent("dexscreener-client"),
	}
}

// Name implements MetadataSource
func (c *DexScreenerClient) Name() entity.MetadataSourceName {
	return entity.SourceDexScreener
}

// bestPair returns the most liquid pair quoting mint as its base token
func (c *DexScreenerClient) bestPair(ctx context.Context, mint string) (*dexScreenerPair, error) {
	var payload dexScreenerResponse
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, url.PathEscape(mint))
	if err := getJSON(ctx, c.client, c.logger, endpoint, &payload); err != nil {
		if errors.Is(err, errNotListed) {
			return nil, nil
		}
		return nil, err
	}

	var best *dexScreenerPair
	for i := range payload.Pairs {
		pair := &payload.Pairs[i]
		if pair.BaseToken.Address != mint {
			continue
		}
		if best == nil || pair.Liquidity.USD > best.Liquidity.USD {
			best = pair
		}
	}
	return best, nil
}

// FetchMetadata implements MetadataSource. DexScreener carries no decimals.
func (c *DexScreenerClient) FetchMetadata(ctx context.Context, mint string) (*entity.TokenMetadata, error) {
	pair, err := c.bestPair(ctx, mint)
	if err != nil || pair == nil || pair.BaseToken.Symbol == "" {
		return nil, err
	}

	metadata := &entity.TokenMetadata{
		Address: mint,
		Symbol:  pair.BaseToken.Symbol,
		Name:    pair.BaseToken.Name,
		LogoURI: pair.Info.ImageURL,
		Source:  entity.SourceDexScreener,
	}
	if pair.PriceUSD.Valid {
		price := pair.PriceUSD.Decimal
		metadata.PriceUSD = &price
	}
	return metadata, nil
}

// GetPrice implements PriceSource
func (c *DexScreenerClient) GetPrice(ctx context.Context, mint string) (*entity.PriceQuote, error) {
	pair, err := c.bestPair(ctx, mint)
	if err != nil || pair == nil || !pair.PriceUSD.Valid {
		return nil, err
	}
	return &entity.PriceQuote{
		Mint:           mint,
		PriceUSD:       pair.PriceUSD.Decimal,
		PriceChange24h: pair.PriceChange.H24,
	}, nil
}
