package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// LadderSpec configures the staged exits for one side of a profile.
// Offsets are signed moves relative to entry in the position's favour:
// 0.005 is half a percent of profit, -0.005 half a percent of loss.
type LadderSpec struct {
	TP1Offset   decimal.Decimal
	TP1Fraction decimal.Decimal // Of filled quantity
	TP2Offset   decimal.Decimal
	TP2Fraction decimal.Decimal // Of the remainder after TP1
	SLOffset    decimal.Decimal

	// Stop relocation after each TP fill.
	SLAfterTP1Offset decimal.Decimal
	SLAfterTP2Offset decimal.Decimal
}

// DefaultLongLadder mirrors the long ladder the desk has traded with.
func DefaultLongLadder() LadderSpec {
	return LadderSpec{
		TP1Offset:        decimal.RequireFromString("0.005"),
		TP1Fraction:      decimal.RequireFromString("0.2"),
		TP2Offset:        decimal.RequireFromString("0.012"),
		TP2Fraction:      decimal.RequireFromString("0.4"),
		SLOffset:         decimal.RequireFromString("-0.005"),
		SLAfterTP1Offset: decimal.RequireFromString("0.001"),
		SLAfterTP2Offset: decimal.RequireFromString("0.005"),
	}
}

// DefaultShortLadder mirrors the short ladder the desk has traded with.
func DefaultShortLadder() LadderSpec {
	return LadderSpec{
		TP1Offset:        decimal.RequireFromString("0.005"),
		TP1Fraction:      decimal.RequireFromString("0.2"),
		TP2Offset:        decimal.RequireFromString("0.015"),
		TP2Fraction:      decimal.RequireFromString("0.3"),
		SLOffset:         decimal.RequireFromString("-0.005"),
		SLAfterTP1Offset: decimal.RequireFromString("-0.005"),
		SLAfterTP2Offset: decimal.RequireFromString("0.003"),
	}
}

// Validate checks fractions are in (0, 1] and TP offsets are favourable.
func (l LadderSpec) Validate() error {
	var errs []error
	one := decimal.NewFromInt(1)
	for name, f := range map[string]decimal.Decimal{"tp1_fraction": l.TP1Fraction, "tp2_fraction": l.TP2Fraction} {
		if !f.IsPositive() || f.GreaterThan(one) {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %s", name, f))
		}
	}
	if !l.TP1Offset.IsPositive() {
		errs = append(errs, fmt.Errorf("tp1_offset must be positive, got %s", l.TP1Offset))
	}
	if !l.TP2Offset.IsPositive() {
		errs = append(errs, fmt.Errorf("tp2_offset must be positive, got %s", l.TP2Offset))
	}
	if !l.SLOffset.IsNegative() {
		errs = append(errs, fmt.Errorf("sl_offset must be negative, got %s", l.SLOffset))
	}
	return errors.Join(errs...)
}

// LadderLeg is one protective order derived from the entry.
type LadderLeg struct {
	Kind    ExitKind
	Type    OrderType
	Price   decimal.Decimal
	Qty     decimal.Decimal
	OrderID int64 // Zero when the order was not placed
}

// Placed reports whether the exchange accepted the leg.
func (l LadderLeg) Placed() bool {
	return l.OrderID != 0
}

// Ladder is the set of exits for one position generation.
type Ladder struct {
	Side   PositionSide
	Entry  decimal.Decimal
	Filled decimal.Decimal
	TP1    LadderLeg
	TP2    LadderLeg
	SL     LadderLeg
}

// Profile groups the sizing and ladder settings a webhook route trades with.
type Profile struct {
	Name           string
	Leverage       int
	InitialCapital decimal.Decimal
	Compounding    bool
	Allocation     decimal.Decimal
	FeeRate        decimal.Decimal
	Long           LadderSpec
	Short          LadderSpec
}

// Ladder returns the spec for the given side.
func (p Profile) Ladder(side PositionSide) LadderSpec {
	if side == SideShort {
		return p.Short
	}
	return p.Long
}
