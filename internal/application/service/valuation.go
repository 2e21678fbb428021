package service

import (
	"wallet-watcher-engine/internal/domain/entity"

	"github.com/shopspring/decimal"
)

// humanScaleCeiling is the raw magnitude under which an amount of unknown
// decimals is assumed to be in whole tokens already
var humanScaleCeiling = decimal.NewFromInt(1_000_000)

// applyMetadata copies resolved metadata onto a leg. The leg keeps its raw
// symbol when resolution produced nothing.
func applyMetadata(leg *entity.TokenLeg, metadata *entity.TokenMetadata) {
	if metadata == nil {
		return
	}
	if metadata.Source != entity.SourcePlaceholder || leg.Symbol == "" {
		leg.Symbol = metadata.Symbol
	}
	if metadata.Name != "" {
		leg.Name = metadata.Name
	}
	if leg.Decimals == nil && metadata.Decimals != nil {
		leg.Decimals = entity.IntPtr(*metadata.Decimals)
	}
	if metadata.PriceUSD != nil {
		price := *metadata.PriceUSD
		leg.PriceUSD = &price
	}
}

// adjustedAmount converts a raw amount to whole tokens. Authoritative decimals
// win; the magnitude heuristic only applies when decimals are unknown.
func adjustedAmount(leg *entity.TokenLeg) decimal.Decimal {
	if leg.Scaled {
		return leg.RawAmount
	}
	if leg.Decimals != nil {
		if *leg.Decimals == 0 {
			return leg.RawAmount
		}
		return leg.RawAmount.Shift(-int32(*leg.Decimals))
	}
	if leg.RawAmount.Abs().LessThan(humanScaleCeiling) {
		return leg.RawAmount
	}
	return leg.RawAmount.Shift(-nativeDecimals)
}

// valueLeg sets the whole-token amount and the USD value of a leg. The value
// stays nil without a price.
func valueLeg(leg *entity.TokenLeg) decimal.Decimal {
	leg.Amount = adjustedAmount(leg)
	if leg.PriceUSD == nil {
		leg.ValueUSD = nil
		return decimal.Zero
	}
	value := leg.Amount.Mul(*leg.PriceUSD).Round(6)
	leg.ValueUSD = &value
	return value
}

// valueSwap values both legs; the swap is worth the larger of the two
func valueSwap(swap *entity.Swap) decimal.Decimal {
	fromValue := valueLeg(&swap.From)
	toValue := valueLeg(&swap.To)
	swap.ValueUSD = decimal.Max(fromValue, toValue)
	return swap.ValueUSD
}
