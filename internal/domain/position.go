package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Key identifies a symbol state record. Profiles keep independent ledgers
// for the same symbol.
type Key struct {
	Profile string
	Symbol  string
}

func (k Key) String() string {
	return k.Profile + "/" + k.Symbol
}

// Leg is one staged exit of the current position.
type Leg struct {
	Done    bool            `json:"done"`
	OrderID int64           `json:"order_id,omitempty"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	PnL     decimal.Decimal `json:"pnl"` // Realized fraction applied to capital
	Time    time.Time       `json:"time,omitempty"`
}

// HedgeLeg is one side of a hedge-mode position as last reported by the exchange.
type HedgeLeg struct {
	Qty           decimal.Decimal `json:"qty"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	LastOrderQty  decimal.Decimal `json:"last_order_qty"`
	Adds          int             `json:"adds"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}

// IsOpen reports whether the exchange holds a position on this side.
func (h HedgeLeg) IsOpen() bool {
	return !h.Qty.IsZero()
}

// Counters accumulate until an explicit reset.
type Counters struct {
	TradeCount    int             `json:"trade_count"`
	FirstTPCount  int             `json:"first_tp_count"`
	SecondTPCount int             `json:"second_tp_count"`
	SLCount       int             `json:"sl_count"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"` // Percent
	LastReset     time.Time       `json:"last_reset"`
}

// SymbolState is the mutable ledger for one (profile, symbol).
type SymbolState struct {
	Key `json:"-"`

	Capital        decimal.Decimal `json:"capital"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Compounding    bool            `json:"compounding"`

	// One-way position snapshot. PositionQty is signed: long > 0, short < 0.
	Side        PositionSide    `json:"side,omitempty"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	PositionQty decimal.Decimal `json:"position_qty"`
	EntryTime   time.Time       `json:"entry_time,omitempty"`
	Leverage    int             `json:"leverage"`

	FirstTP  Leg  `json:"first_tp"`
	SecondTP Leg  `json:"second_tp"`
	StopLoss Leg  `json:"stop_loss"`
	Closed   bool `json:"closed"`

	// Generation identifies the position lifecycle the monitor belongs to.
	// Retired is set by the switch coordinator before it touches the orders
	// of that generation.
	Generation uint64 `json:"generation"`
	Retired    bool   `json:"retired"`

	Counters

	Long  HedgeLeg `json:"long"`
	Short HedgeLeg `json:"short"`

	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPct decimal.Decimal `json:"unrealized_pct"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}

// NewSymbolState returns a fresh ledger with capital set to initialCapital.
func NewSymbolState(key Key, initialCapital decimal.Decimal, compounding bool, leverage int, now time.Time) *SymbolState {
	return &SymbolState{
		Key:            key,
		Capital:        initialCapital,
		InitialCapital: initialCapital,
		Compounding:    compounding,
		Leverage:       leverage,
		Counters: Counters{
			DailyPnL:  decimal.Zero,
			LastReset: now,
		},
	}
}

// FilledQty is the absolute quantity filled at entry.
func (s *SymbolState) FilledQty() decimal.Decimal {
	return s.PositionQty.Abs()
}

// HasOpenEntry reports whether the current generation has not been closed yet.
func (s *SymbolState) HasOpenEntry() bool {
	return s.Generation > 0 && !s.Closed && !s.PositionQty.IsZero()
}

// AnyTPDone reports whether a take-profit leg of the current generation was realized.
func (s *SymbolState) AnyTPDone() bool {
	return s.FirstTP.Done || s.SecondTP.Done
}

// RemainingQty is the filled quantity minus realized TP legs.
func (s *SymbolState) RemainingQty() decimal.Decimal {
	rem := s.FilledQty()
	if s.FirstTP.Done {
		rem = rem.Sub(s.FirstTP.Qty)
	}
	if s.SecondTP.Done {
		rem = rem.Sub(s.SecondTP.Qty)
	}
	return rem
}

// SizingBase is the capital used to size the next entry.
func (s *SymbolState) SizingBase() decimal.Decimal {
	if s.Compounding {
		return s.Capital
	}
	return s.InitialCapital
}

// HedgeLeg returns a pointer to the named hedge side.
func (s *SymbolState) HedgeLeg(side PositionSide) *HedgeLeg {
	if side == SideShort {
		return &s.Short
	}
	return &s.Long
}
