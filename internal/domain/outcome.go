package domain

import (
	"github.com/shopspring/decimal"
)

// OutcomeStatus is the top-level result of handling a signal.
type OutcomeStatus string

const (
	StatusOK      OutcomeStatus = "ok"
	StatusSkipped OutcomeStatus = "skipped"
	StatusDryRun  OutcomeStatus = "dry_run"
)

// SkipReason explains a skipped signal. Skips are not errors.
type SkipReason string

const (
	SkipAlreadyLong     SkipReason = "already_long"
	SkipAlreadyShort    SkipReason = "already_short"
	SkipCloseFailed     SkipReason = "close_failed"
	SkipNoLongPosition  SkipReason = "no_long_position"
	SkipNoShortPosition SkipReason = "no_short_position"
	SkipUnknownAction   SkipReason = "unknown_action"
	SkipLeverageFailed  SkipReason = "leverage_failed"
)

// AlreadyOpen returns the skip reason for a signal matching the open side.
func AlreadyOpen(side PositionSide) SkipReason {
	if side == SideShort {
		return SkipAlreadyShort
	}
	return SkipAlreadyLong
}

// NoPosition returns the skip reason for a stop on a flat side.
func NoPosition(side PositionSide) SkipReason {
	if side == SideShort {
		return SkipNoShortPosition
	}
	return SkipNoLongPosition
}

// OrderIDs are the exchange ids of an entry and its ladder.
type OrderIDs struct {
	Entry int64 `json:"entry"`
	TP1   int64 `json:"tp1,omitempty"`
	TP2   int64 `json:"tp2,omitempty"`
	SL    int64 `json:"sl,omitempty"`
}

// EntryResult describes a placed entry.
type EntryResult struct {
	Profile    string          `json:"profile"`
	Symbol     string          `json:"symbol"`
	Side       PositionSide    `json:"side"`
	FilledQty  decimal.Decimal `json:"filled_qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   int             `json:"leverage"`
	Generation uint64          `json:"generation,omitempty"`
	OrderIDs   OrderIDs        `json:"order_ids"`
	Closed     *ExitResult     `json:"closed,omitempty"` // Opposite position closed first
}

// ExitResult describes a coordinator-driven close.
type ExitResult struct {
	Done      string          `json:"done"`
	Side      PositionSide    `json:"side"`
	ExitPrice decimal.Decimal `json:"exit_price"`
	PnL       decimal.Decimal `json:"pnl"` // Percent
	Applied   bool            `json:"applied"`
}

// Outcome is Ok, Skipped or DryRun. Failures travel as errors.
type Outcome struct {
	Status OutcomeStatus
	Reason SkipReason
	Entry  *EntryResult
	Exit   *ExitResult
}

func Entered(r *EntryResult) Outcome { return Outcome{Status: StatusOK, Entry: r} }
func Exited(r *ExitResult) Outcome   { return Outcome{Status: StatusOK, Exit: r} }
func Skipped(reason SkipReason) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}
func DryRun() Outcome { return Outcome{Status: StatusDryRun} }

// Result returns the payload carried by an ok outcome.
func (o Outcome) Result() interface{} {
	switch {
	case o.Entry != nil:
		return o.Entry
	case o.Exit != nil:
		return o.Exit
	default:
		return nil
	}
}
