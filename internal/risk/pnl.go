package risk

import (
	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// PriceChange is the signed move from entry to exit in the position's favour.
func PriceChange(side domain.PositionSide, entry, exit decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	return exit.Sub(entry).Div(entry).Mul(decimal.NewFromInt(side.Sign()))
}

// LegFraction is the capital fraction realized when legQty of filled closes at exit.
func LegFraction(side domain.PositionSide, entry, exit decimal.Decimal, leverage int, legQty, filled decimal.Decimal) decimal.Decimal {
	if !filled.IsPositive() {
		return decimal.Zero
	}
	return PriceChange(side, entry, exit).
		Mul(decimal.NewFromInt(int64(leverage))).
		Mul(legQty.Div(filled))
}

// HedgeNet is the fee-adjusted fraction for closing a whole hedge side.
func HedgeNet(side domain.PositionSide, entry, exit decimal.Decimal, leverage int, feeRate decimal.Decimal) decimal.Decimal {
	lev := decimal.NewFromInt(int64(leverage))
	return PriceChange(side, entry, exit).Mul(lev).Sub(feeRate.Mul(lev).Mul(two))
}

// Compound applies a realized fraction to capital.
func Compound(capital, fraction decimal.Decimal) decimal.Decimal {
	return capital.Mul(one.Add(fraction))
}

// Percent converts a fraction to percent points.
func Percent(fraction decimal.Decimal) decimal.Decimal {
	return fraction.Mul(hundred)
}

// UnrealizedPct is the leveraged open PnL in percent at price.
func UnrealizedPct(side domain.PositionSide, entry, price decimal.Decimal, leverage int) decimal.Decimal {
	return Percent(PriceChange(side, entry, price).Mul(decimal.NewFromInt(int64(leverage))))
}
