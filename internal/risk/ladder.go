// Package risk derives protective order ladders and realized PnL fractions.
package risk

import (
	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/sizing"
)

var one = decimal.NewFromInt(1)

// TriggerPrice moves entry by offset in the position's favour and rounds up to the tick.
func TriggerPrice(side domain.PositionSide, entry, offset, tick decimal.Decimal) decimal.Decimal {
	signed := offset.Mul(decimal.NewFromInt(side.Sign()))
	return sizing.CeilToTick(entry.Mul(one.Add(signed)), tick)
}

// DeriveLadder builds TP1, TP2 and SL for a filled entry.
// TP1 takes a fraction of the fill, TP2 a fraction of what remains after TP1,
// and the SL covers the whole fill.
func DeriveLadder(side domain.PositionSide, entry, filled decimal.Decimal, spec domain.LadderSpec, f domain.SymbolFilters) domain.Ladder {
	tp1Qty := sizing.FloorToStep(filled.Mul(spec.TP1Fraction), f.StepSize)
	tp2Qty := sizing.FloorToStep(filled.Sub(tp1Qty).Mul(spec.TP2Fraction), f.StepSize)

	return domain.Ladder{
		Side:   side,
		Entry:  entry,
		Filled: filled,
		TP1: domain.LadderLeg{
			Kind:  domain.ExitTP1,
			Type:  domain.OrderTypeTakeProfitMarket,
			Price: TriggerPrice(side, entry, spec.TP1Offset, f.TickSize),
			Qty:   tp1Qty,
		},
		TP2: domain.LadderLeg{
			Kind:  domain.ExitTP2,
			Type:  domain.OrderTypeTakeProfitMarket,
			Price: TriggerPrice(side, entry, spec.TP2Offset, f.TickSize),
			Qty:   tp2Qty,
		},
		SL: domain.LadderLeg{
			Kind:  domain.ExitStopLoss,
			Type:  domain.OrderTypeStopMarket,
			Price: TriggerPrice(side, entry, spec.SLOffset, f.TickSize),
			Qty:   filled,
		},
	}
}

// RelocatedStop returns the stop that replaces the SL after the given TP leg fills.
func RelocatedStop(side domain.PositionSide, entry, remaining decimal.Decimal, after domain.ExitKind, spec domain.LadderSpec, f domain.SymbolFilters) domain.LadderLeg {
	offset := spec.SLAfterTP1Offset
	if after == domain.ExitTP2 {
		offset = spec.SLAfterTP2Offset
	}
	return domain.LadderLeg{
		Kind:  domain.ExitStopLoss,
		Type:  domain.OrderTypeStopMarket,
		Price: TriggerPrice(side, entry, offset, f.TickSize),
		Qty:   remaining,
	}
}
