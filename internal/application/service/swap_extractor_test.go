package service

import (
	"testing"

	"wallet-watcher-engine/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func swapEvent(description string) *entity.RawNotification {
	return &entity.RawNotification{
		Type:        entity.SwapEventType,
		Source:      "JUPITER",
		Description: description,
		Signature:   "sig-1",
		Timestamp:   testNow.Unix(),
		FeePayer:    testWallet,
		AccountData: []entity.RawAccountData{{Account: testWallet}},
	}
}

func TestExtractSwapFromDescription(t *testing.T) {
	event := swapEvent(testWallet + " swapped 1.5 SOL for 1,250,000 BONK")
	event.TokenTransfers = []entity.RawTokenTransfer{
		{FromUserAccount: "pool", ToUserAccount: testWallet, Mint: bonkMint, TokenAmount: 1250000},
	}

	swap, ok := ExtractSwap(event)
	require.True(t, ok)

	assert.Equal(t, entity.NativeMint, swap.From.Mint)
	assert.Equal(t, "1.5", swap.From.RawAmount.String())
	assert.Equal(t, "SOL", swap.From.Symbol)
	assert.True(t, swap.From.Scaled)

	assert.Equal(t, bonkMint, swap.To.Mint)
	assert.Equal(t, "1250000", swap.To.RawAmount.String())
	assert.Equal(t, entity.ActivityBuy, swap.Activity)
	assert.Equal(t, testWallet, swap.Holder)
	assert.Equal(t, testNow, swap.Timestamp)
}

func TestExtractSwapSellDirection(t *testing.T) {
	swap, ok := ExtractSwap(swapEvent(testWallet + " swapped 500 BONK for 12.5 USDC"))
	require.True(t, ok)
	assert.Equal(t, entity.USDCMint, swap.To.Mint)
	assert.Equal(t, entity.ActivitySell, swap.Activity)
	// no transfer to match, so the mint stays unknown
	assert.Equal(t, "", swap.From.Mint)
}

func TestExtractSwapFallsBackToTransfers(t *testing.T) {
	event := swapEvent("Unknown instruction")
	event.TokenTransfers = []entity.RawTokenTransfer{
		{FromUserAccount: testWallet, ToUserAccount: "pool", Mint: entity.USDCMint, TokenAmount: 250},
		{FromUserAccount: testWallet, ToUserAccount: "fees", Mint: entity.USDCMint, TokenAmount: 0.5},
		{FromUserAccount: "pool", ToUserAccount: testWallet, Mint: bonkMint, TokenAmount: 9000000},
		{FromUserAccount: "pool", ToUserAccount: testWallet, Mint: "dust", TokenAmount: 3},
	}
	event.NativeTransfers = []entity.RawNativeTransfer{
		{FromUserAccount: testWallet, ToUserAccount: "tip", Amount: 5000},
	}

	swap, ok := ExtractSwap(event)
	require.True(t, ok)
	assert.Equal(t, entity.USDCMint, swap.From.Mint)
	assert.Equal(t, "250.5", swap.From.RawAmount.String())
	assert.Equal(t, bonkMint, swap.To.Mint)
	assert.Equal(t, entity.ActivityBuy, swap.Activity)
}

func TestExtractSwapFromBalanceChanges(t *testing.T) {
	event := swapEvent("")
	usdc := entity.RawTokenBalanceChange{UserAccount: testWallet, Mint: entity.USDCMint}
	usdc.RawTokenAmount.TokenAmount = "-100000000"
	usdc.RawTokenAmount.Decimals = entity.IntPtr(6)
	bonk := entity.RawTokenBalanceChange{UserAccount: testWallet, Mint: bonkMint}
	bonk.RawTokenAmount.TokenAmount = "500000000000"
	bonk.RawTokenAmount.Decimals = entity.IntPtr(5)
	event.AccountData = []entity.RawAccountData{{Account: testWallet, TokenBalanceChanges: []entity.RawTokenBalanceChange{usdc, bonk}}}

	swap, ok := ExtractSwap(event)
	require.True(t, ok)
	assert.Equal(t, "100000000", swap.From.RawAmount.String())
	assert.Equal(t, 6, *swap.From.Decimals)
	assert.Equal(t, "500000000000", swap.To.RawAmount.String())

	valueSwap(swap)
	assert.Equal(t, "100", swap.From.Amount.String())
	assert.Equal(t, "5000000", swap.To.Amount.String())
}

func TestBalanceChangesWithoutDecimalsUseResolvedDecimals(t *testing.T) {
	event := swapEvent("")
	usdc := entity.RawTokenBalanceChange{UserAccount: testWallet, Mint: entity.USDCMint}
	usdc.RawTokenAmount.TokenAmount = "-250000000"
	bonk := entity.RawTokenBalanceChange{UserAccount: testWallet, Mint: bonkMint}
	bonk.RawTokenAmount.TokenAmount = "2500000000"
	event.AccountData = []entity.RawAccountData{{Account: testWallet, TokenBalanceChanges: []entity.RawTokenBalanceChange{usdc, bonk}}}

	swap, ok := ExtractSwap(event)
	require.True(t, ok)
	assert.Nil(t, swap.From.Decimals)
	assert.Nil(t, swap.To.Decimals)

	applyMetadata(&swap.From, &entity.TokenMetadata{Symbol: "USDC", Decimals: entity.IntPtr(6), PriceUSD: dec("1"), Source: entity.SourceJupiter})
	applyMetadata(&swap.To, nil)
	valueSwap(swap)

	// resolved decimals for USDC, magnitude fallback for the unknown mint
	assert.Equal(t, "250", swap.From.Amount.String())
	assert.Equal(t, "2.5", swap.To.Amount.String())
	assert.Equal(t, "250", swap.ValueUSD.String())
}

func TestExtractSwapRejectsOneSidedEvents(t *testing.T) {
	event := swapEvent("something happened")
	event.TokenTransfers = []entity.RawTokenTransfer{
		{FromUserAccount: testWallet, ToUserAccount: "friend", Mint: bonkMint, TokenAmount: 10},
	}

	_, ok := ExtractSwap(event)
	assert.False(t, ok)

	_, ok = ExtractSwap(swapEvent(""))
	assert.False(t, ok)
}

func TestAdjustedAmount(t *testing.T) {
	tests := []struct {
		name string
		leg  entity.TokenLeg
		want string
	}{
		{"scaled amount is kept", entity.TokenLeg{RawAmount: *dec("1.5"), Decimals: entity.IntPtr(9), Scaled: true}, "1.5"},
		{"authoritative decimals", entity.TokenLeg{RawAmount: *dec("1500000"), Decimals: entity.IntPtr(6)}, "1.5"},
		{"authoritative decimals beat the heuristic", entity.TokenLeg{RawAmount: *dec("250"), Decimals: entity.IntPtr(2)}, "2.5"},
		{"zero decimals", entity.TokenLeg{RawAmount: *dec("42"), Decimals: entity.IntPtr(0)}, "42"},
		{"unknown decimals, small amount", entity.TokenLeg{RawAmount: *dec("999999")}, "999999"},
		{"unknown decimals, large amount", entity.TokenLeg{RawAmount: *dec("2000000000")}, "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leg := tt.leg
			assert.Equal(t, tt.want, adjustedAmount(&leg).String())
		})
	}
}

func TestValueSwapTakesLargerLeg(t *testing.T) {
	swap := &entity.Swap{
		From: entity.TokenLeg{RawAmount: *dec("2"), Scaled: true, PriceUSD: dec("50")},
		To:   entity.TokenLeg{RawAmount: *dec("1000"), Scaled: true, PriceUSD: dec("0.12")},
	}

	value := valueSwap(swap)
	assert.Equal(t, "120", value.String())
	assert.Equal(t, "120", swap.To.ValueUSD.String())
	assert.Equal(t, "100", swap.From.ValueUSD.String())

	unpriced := &entity.Swap{
		From: entity.TokenLeg{RawAmount: *dec("2"), Scaled: true},
		To:   entity.TokenLeg{RawAmount: *dec("3"), Scaled: true},
	}
	assert.True(t, valueSwap(unpriced).IsZero())
	assert.Nil(t, unpriced.From.ValueUSD)
}
