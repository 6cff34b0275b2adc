package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolFilters holds the exchange precision rules for a symbol.
type SymbolFilters struct {
	Symbol   string
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
	TickSize decimal.Decimal
}

// ExitEvent asks the state store to realize PnL for one exit.
type ExitEvent struct {
	Kind       ExitKind
	Generation uint64
	Price      decimal.Decimal // Trigger price for TP legs, exit price otherwise
	Qty        decimal.Decimal // Leg quantity for TP legs, ignored for flat kinds
	At         time.Time
}

// ExitRecord is an applied exit, as written to the journal.
type ExitRecord struct {
	ID            int64
	Profile       string
	Symbol        string
	Side          PositionSide
	Kind          ExitKind
	Generation    uint64
	EntryPrice    decimal.Decimal
	ExitPrice     decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      int
	PnL           decimal.Decimal // Fraction applied to capital
	CapitalBefore decimal.Decimal
	CapitalAfter  decimal.Decimal
	EntryTime     time.Time
	ExitTime      time.Time
}
