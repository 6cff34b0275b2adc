package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide identifies the leg of a futures position.
// SideBoth is used in one-way mode, SideLong/SideShort in hedge mode.
type PositionSide string

const (
	SideBoth  PositionSide = "BOTH"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// EntrySide returns the order side that opens (or adds to) the position side.
func (p PositionSide) EntrySide() OrderSide {
	if p == SideShort {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that reduces the position side.
func (p PositionSide) ExitSide() OrderSide {
	return p.EntrySide().Opposite()
}

// Sign is +1 for long and -1 for short.
func (p PositionSide) Sign() int64 {
	if p == SideShort {
		return -1
	}
	return 1
}

// Lower returns "long" or "short", used in skip reasons and reports.
func (p PositionSide) Lower() string {
	return strings.ToLower(string(p))
}

// OrderType is the exchange order type the executor submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// Action is an inbound webhook signal.
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionBuyStop  Action = "BUY_STOP"
	ActionSellStop Action = "SELL_STOP"
)

// ParseAction upper-cases raw and reports whether it is a known action.
func ParseAction(raw string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(raw)))
	switch a {
	case ActionBuy, ActionSell, ActionBuyStop, ActionSellStop:
		return a, true
	default:
		return a, false
	}
}

// IsStop reports whether the action flattens a side instead of opening one.
func (a Action) IsStop() bool {
	return a == ActionBuyStop || a == ActionSellStop
}

// Side returns the position side the action refers to.
// BUY and BUY_STOP both refer to the long side.
func (a Action) Side() PositionSide {
	if a == ActionSell || a == ActionSellStop {
		return SideShort
	}
	return SideLong
}

// NormalizeSymbol turns "eth/usdt" into "ETHUSDT".
func NormalizeSymbol(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "/", ""))
}

// ExitKind indicates which event realized PnL.
type ExitKind string

const (
	ExitTP1       ExitKind = "TP1"
	ExitTP2       ExitKind = "TP2"
	ExitStopLoss  ExitKind = "SL"         // Flat detected by the monitor before any TP
	ExitSwitch    ExitKind = "SWITCH"     // Closed by an opposite signal
	ExitStop      ExitKind = "STOP"       // Closed by BUY_STOP / SELL_STOP in one-way mode
	ExitHedgeStop ExitKind = "HEDGE_STOP" // Closed by BUY_STOP / SELL_STOP in hedge mode
)

// IsTakeProfit reports whether the kind is a partial take-profit.
func (k ExitKind) IsTakeProfit() bool {
	return k == ExitTP1 || k == ExitTP2
}

// IsFlat reports whether the kind closes the remaining position.
func (k ExitKind) IsFlat() bool {
	return k == ExitStopLoss || k == ExitSwitch || k == ExitStop
}
