package entity

import (
	"github.com/shopspring/decimal"
)

// NativeMint is the wrapped SOL mint used to denote the native asset
const NativeMint = "So11111111111111111111111111111111111111112"

// Well-known quote mints
const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// IsQuoteMint reports whether a mint is the native asset or a USD stablecoin
func IsQuoteMint(mint string) bool {
	switch mint {
	case NativeMint, USDCMint, USDTMint:
		return true
	}
	return false
}

// MetadataSourceName identifies the resolver tier that produced a metadata entry
type MetadataSourceName string

const (
	SourceCache       MetadataSourceName = "cache"
	SourceNative      MetadataSourceName = "native"
	SourceJupiter     MetadataSourceName = "jupiter"
	SourceDexScreener MetadataSourceName = "dexscreener"
	SourceOnChain     MetadataSourceName = "onchain"
	SourcePlaceholder MetadataSourceName = "placeholder"
)

// TokenMetadata describes a token mint
type TokenMetadata struct {
	Address  string             `json:"address"`
	Symbol   string             `json:"symbol"`
	Name     string             `json:"name"`
	Decimals *int               `json:"decimals,omitempty"`
	LogoURI  string             `json:"logo_uri,omitempty"`
	PriceUSD *decimal.Decimal   `json:"price_usd,omitempty"`
	Source   MetadataSourceName `json:"source"`
}

// PriceQuote is a live market quote for a mint
type PriceQuote struct {
	Mint           string          `json:"mint"`
	PriceUSD       decimal.Decimal `json:"price_usd"`
	PriceChange24h *float64        `json:"price_change_24h,omitempty"`
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

// ShortAddress abbreviates an address for display, e.g. "DezX...B263"
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}
