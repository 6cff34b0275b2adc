package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
	"hookTrader/internal/risk"
)

// switchOneWay applies the decision table for single-position mode.
func (s *TradingService) switchOneWay(ctx context.Context, key domain.Key, profile domain.Profile, action domain.Action, leverage int) (domain.Outcome, error) {
	op := "switchOneWay"
	cur, err := s.exchange.GetPositionAmount(ctx, key.Symbol, domain.SideBoth)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%s: read position: %w", op, err)
	}
	want := action.Side()

	if action.IsStop() {
		if int64(cur.Sign()) != want.Sign() {
			return domain.Skipped(domain.NoPosition(want)), nil
		}
		closed, err := s.closePosition(ctx, key, want, cur, domain.ExitStop, strings.ToLower(string(action)))
		if errors.Is(err, ports.ErrCloseTimeout) {
			return domain.Skipped(domain.SkipCloseFailed), nil
		}
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Exited(closed), nil
	}

	switch {
	case int64(cur.Sign()) == want.Sign():
		// Existing ladder stays in place.
		return domain.Skipped(domain.AlreadyOpen(want)), nil

	case !cur.IsZero():
		opposite := domain.SideLong
		if cur.IsNegative() {
			opposite = domain.SideShort
		}
		closed, err := s.closePosition(ctx, key, opposite, cur, domain.ExitSwitch, "close_"+opposite.Lower())
		if errors.Is(err, ports.ErrCloseTimeout) {
			return domain.Skipped(domain.SkipCloseFailed), nil
		}
		if err != nil {
			return domain.Outcome{}, err
		}
		res, err := s.enter(ctx, key, profile, want, leverage)
		if err != nil {
			return domain.Outcome{}, err
		}
		res.Closed = closed
		return domain.Entered(res), nil

	default:
		s.settleRetired(ctx, key)
		res, err := s.enter(ctx, key, profile, want, leverage)
		if err != nil {
			return domain.Outcome{}, err
		}
		return domain.Entered(res), nil
	}
}

// closePosition retires the current generation, cancels its protective
// orders, market-closes amount and waits for the exchange to report flat.
// PnL is applied unless a take-profit of the generation already realized.
func (s *TradingService) closePosition(ctx context.Context, key domain.Key, side domain.PositionSide, amount decimal.Decimal, kind domain.ExitKind, done string) (*domain.ExitResult, error) {
	op := "closePosition"
	fields := map[string]interface{}{"profile": key.Profile, "symbol": key.Symbol, "side": side, "amount": amount.String(), "kind": kind}

	// Retire first so the monitor cannot read the cancellations below as fills.
	gen := s.store.Retire(key)
	fields["generation"] = gen
	s.logger.Info(ctx, op+": Closing position", fields)

	s.cancelReduceOnly(ctx, key.Symbol)

	exitPrice, err := s.closeMarket(ctx, key.Symbol, side, domain.SideBoth, amount)
	if err != nil {
		// Ladder is cancelled and the monitor retired; nothing guards the position now.
		s.logger.Error(ctx, err, op+": Close order failed, position left unprotected", fields)
		s.metrics.ObserveAbandoned(domain.ExitStopLoss)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.waitFlat(ctx, key.Symbol, domain.SideBoth); err != nil {
		s.logger.Warn(ctx, op+": Position not confirmed flat", fields)
		return nil, err
	}

	result := &domain.ExitResult{Done: done, Side: side, ExitPrice: exitPrice, PnL: decimal.Zero}
	rec, err := s.store.ApplyExit(key, domain.ExitEvent{Kind: kind, Generation: gen, Price: exitPrice})
	switch {
	case err == nil:
		result.Applied = true
		result.PnL = risk.Percent(rec.PnL)
		s.recordExit(ctx, rec)
	case errors.Is(err, ports.ErrAlreadyRealized), errors.Is(err, ports.ErrNoOpenEntry), errors.Is(err, ports.ErrStaleGeneration):
		// TP accounting already applied, or the position was opened outside this process.
		fields["reason"] = err.Error()
		s.logger.Info(ctx, op+": Close not applied to capital", fields)
	default:
		s.logger.Error(ctx, err, op+": Failed to apply close", fields)
	}
	return result, nil
}

// settleRetired handles a position that went flat on the exchange before its
// monitor noticed. The generation is retired and any unaccounted flat exit is
// realized at the mark price, exactly as the monitor would have.
func (s *TradingService) settleRetired(ctx context.Context, key domain.Key) {
	op := "settleRetired"
	gen := s.store.Retire(key)
	snap := s.store.Snapshot(key)
	if !snap.HasOpenEntry() || snap.AnyTPDone() {
		return
	}
	mark, err := s.exchange.GetMarkPrice(ctx, key.Symbol)
	if err != nil {
		s.logger.Warn(ctx, op+": Mark price unavailable, leaving exit to the monitor", map[string]interface{}{"symbol": key.Symbol, "error": err.Error()})
		return
	}
	rec, err := s.store.ApplyExit(key, domain.ExitEvent{Kind: domain.ExitStopLoss, Generation: gen, Price: mark})
	if err != nil {
		return
	}
	s.recordExit(ctx, rec)
}

// waitFlat polls the position until it is zero or MaxWait elapses.
func (s *TradingService) waitFlat(ctx context.Context, symbol string, side domain.PositionSide) error {
	op := "waitFlat"
	deadline := time.NewTimer(s.cfg.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		amt, err := s.exchange.GetPositionAmount(ctx, symbol, side)
		if err != nil {
			s.logger.Warn(ctx, op+": Position poll failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		} else if amt.IsZero() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("%s: %w: %s %s after %s", op, ports.ErrCloseTimeout, symbol, side, s.cfg.MaxWait)
		case <-ticker.C:
		}
	}
}
