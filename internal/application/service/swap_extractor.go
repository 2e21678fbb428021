package service

import (
	"regexp"
	"strings"
	"time"

	"wallet-watcher-engine/internal/domain/entity"

	"github.com/shopspring/decimal"
)

// swapDescriptionPattern matches "<holder> swapped <amt> <sym> for <amt> <sym>"
var swapDescriptionPattern = regexp.MustCompile(`(?i)swapped\s+([0-9][0-9,]*(?:\.[0-9]+)?)\s+(\S+)\s+for\s+([0-9][0-9,]*(?:\.[0-9]+)?)\s+(\S+)`)

var lamportsPerSOL = decimal.New(1, nativeDecimals)

// wellKnownSymbols maps quote symbols to their mints
var wellKnownSymbols = map[string]string{
	"SOL":  entity.NativeMint,
	"WSOL": entity.NativeMint,
	"USDC": entity.USDCMint,
	"USDT": entity.USDTMint,
}

// ExtractSwap builds the two-sided swap of a notification. The description is
// tried first and the holder's transfer legs second. It reports false when
// neither yields two distinct legs.
func ExtractSwap(event *entity.RawNotification) (*entity.Swap, bool) {
	holder := event.Holder()
	if holder == "" {
		return nil, false
	}

	from, to, ok := legsFromDescription(event, holder)
	if !ok {
		from, to, ok = legsFromTransfers(event, holder)
	}
	if !ok {
		return nil, false
	}

	activity := entity.ActivitySell
	if entity.IsQuoteMint(from.Mint) {
		activity = entity.ActivityBuy
	}

	return &entity.Swap{
		Signature: event.Signature,
		Timestamp: time.Unix(event.Timestamp, 0).UTC(),
		Holder:    holder,
		Source:    event.Source,
		From:      from,
		To:        to,
		Activity:  activity,
	}, true
}

func legsFromDescription(event *entity.RawNotification, holder string) (entity.TokenLeg, entity.TokenLeg, bool) {
	match := swapDescriptionPattern.FindStringSubmatch(event.Description)
	if match == nil {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}

	fromAmount, err := decimal.NewFromString(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}
	toAmount, err := decimal.NewFromString(strings.ReplaceAll(match[3], ",", ""))
	if err != nil {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}
	if !fromAmount.IsPositive() || !toAmount.IsPositive() {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}

	fromSymbol := strings.TrimRight(match[2], ".,")
	toSymbol := strings.TrimRight(match[4], ".,")

	from := entity.TokenLeg{
		Mint:      mintForSymbol(event, holder, fromSymbol, fromAmount, true),
		RawAmount: fromAmount,
		Symbol:    fromSymbol,
		Scaled:    true,
	}
	to := entity.TokenLeg{
		Mint:      mintForSymbol(event, holder, toSymbol, toAmount, false),
		RawAmount: toAmount,
		Symbol:    toSymbol,
		Scaled:    true,
	}
	if strings.EqualFold(fromSymbol, toSymbol) {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}
	return from, to, true
}

// mintForSymbol finds the mint of a description leg: quote symbols are fixed,
// others are matched against the holder's transfers on the same side
func mintForSymbol(event *entity.RawNotification, holder, symbol string, amount decimal.Decimal, outgoing bool) string {
	if mint, ok := wellKnownSymbols[strings.ToUpper(symbol)]; ok {
		return mint
	}

	var candidates []entity.RawTokenTransfer
	for _, transfer := range event.TokenTransfers {
		if entity.IsQuoteMint(transfer.Mint) {
			continue
		}
		if outgoing && transfer.FromUserAccount == holder || !outgoing && transfer.ToUserAccount == holder {
			candidates = append(candidates, transfer)
		}
	}
	for _, transfer := range candidates {
		if decimal.NewFromFloat(transfer.TokenAmount).Equal(amount) {
			return transfer.Mint
		}
	}
	if len(candidates) == 1 {
		return candidates[0].Mint
	}
	return ""
}

// legsFromTransfers nets the holder's movements per mint and picks the
// largest outflow and the largest inflow
func legsFromTransfers(event *entity.RawNotification, holder string) (entity.TokenLeg, entity.TokenLeg, bool) {
	type movement struct {
		amount   decimal.Decimal
		decimals *int
		scaled   bool
	}
	whole := func(m *movement) decimal.Decimal {
		return adjustedAmount(&entity.TokenLeg{RawAmount: m.amount, Decimals: m.decimals, Scaled: m.scaled})
	}

	net := make(map[string]*movement)
	order := []string{}
	add := func(mint string, delta decimal.Decimal, decimals *int, scaled bool) {
		m, ok := net[mint]
		if !ok {
			net[mint] = &movement{amount: delta, decimals: decimals, scaled: scaled}
			order = append(order, mint)
			return
		}
		if m.scaled != scaled {
			// one mint seen in two unit systems: fold both into whole tokens
			if !m.scaled {
				m.amount = whole(m)
				m.scaled = true
			}
			if !scaled {
				delta = adjustedAmount(&entity.TokenLeg{RawAmount: delta, Decimals: decimals})
			}
		}
		if m.decimals == nil {
			m.decimals = decimals
		}
		m.amount = m.amount.Add(delta)
	}

	for _, transfer := range event.TokenTransfers {
		if entity.IsQuoteMint(transfer.Mint) {
			continue
		}
		if outgoing && transfer.FromUserAccount == holder || !outgoing && transfer.ToUserAccount == holder {
			candidates = append(candidates, transfer)
		}
	}
	for _, transfer := range candidates {
		if decimal.NewFromFloat(transfer.TokenAmount).Equal(amount) {
			return transfer.Mint
		}
	}
	if len(candidates) == 1 {
		return candidates[0].Mint
	}
	return ""
}

// legsFromTransfers nets the holder's movements per mint and picks the
// largest outflow and the largest inflow
func legsFromTransfers(event *entity.RawNotification, holder string) (entity.TokenLeg, entity.TokenLeg, bool) {
	type movement struct {
		amount   decimal.Decimal
		decimals *int
		scaled   bool
	}
	net := make(map[string]*movement)
	order := []string{}
	add := func(mint string, delta decimal.Decimal, decimals *int, scaled bool) {
		m, ok := net[mint]
		if !ok {
			m = &movement{decimals: decimals, scaled: scaled}
			net[mint] = m
			order = append(order, mint)
		}
		m.amount = m.amount.Add(delta)
	}

	for _, transfer := range event.TokenTransfers {
		amount := decimal.NewFromFloat(transfer.TokenAmount)
		if transfer.FromUserAccount == holder {
			add(transfer.Mint, amount.Neg(), nil, true)
		}
		if transfer.ToUserAccount == holder {
			add(transfer.Mint, amount, nil, true)
		}
	}

	if len(net) == 0 {
		// balance deltas carry raw base units; decimals may be absent
		for _, account := range event.AccountData {
			for _, change := range account.TokenBalanceChanges {
				if change.UserAccount != holder {
					continue
				}
				raw, err := decimal.NewFromString(change.RawTokenAmount.TokenAmount)
				if err != nil {
					continue
				}
				add(change.Mint, raw, change.RawTokenAmount.Decimals, false)
			}
		}
	}

	for _, transfer := range event.NativeTransfers {
		lamports := decimal.NewFromInt(transfer.Amount)
		if transfer.FromUserAccount == holder {
			add(entity.NativeMint, lamports.Neg().Div(lamportsPerSOL), entity.IntPtr(nativeDecimals), true)
		}
		if transfer.ToUserAccount == holder {
			add(entity.NativeMint, lamports.Div(lamportsPerSOL), entity.IntPtr(nativeDecimals), true)
		}
	}

	var fromMint, toMint string
	for _, mint := range order {
		amount := whole(net[mint])
		switch {
		case amount.IsNegative():
			if fromMint == "" || amount.Abs().GreaterThan(whole(net[fromMint]).Abs()) {
				fromMint = mint
			}
		case amount.IsPositive():
			if toMint == "" || amount.GreaterThan(whole(net[toMint])) {
				toMint = mint
			}
		}
	}
	if fromMint == "" || toMint == "" {
		return entity.TokenLeg{}, entity.TokenLeg{}, false
	}

	leg := func(mint string) entity.TokenLeg {
		m := net[mint]
		return entity.TokenLeg{
			Mint:      mint,
			RawAmount: m.amount.Abs(),
			Symbol:    entity.ShortAddress(mint),
			Decimals:  m.decimals,
			Scaled:    m.scaled,
		}
	}
	return leg(fromMint), leg(toMint), true
}
