package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
	"hookTrader/internal/retry"
	"hookTrader/internal/risk"
	"hookTrader/internal/sizing"
)

// switchHedge handles a signal in dual-side mode. Each side is independent:
// BUY adds to the long side, SELL to the short side, and the stop actions
// close only the named side. No ladder is placed.
func (s *TradingService) switchHedge(ctx context.Context, key domain.Key, profile domain.Profile, action domain.Action, requestedLeverage int) (domain.Outcome, error) {
	op := "switchHedge"
	side := action.Side()

	positions, err := s.exchange.GetPositions(ctx, key.Symbol)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%s: read positions: %w", op, err)
	}
	s.store.SyncHedge(key, positions)

	if action.IsStop() {
		return s.hedgeStop(ctx, key, profile, action, positions)
	}

	// Leverage is sticky while either side is open.
	anyOpen := !sideAmount(positions, domain.SideLong).IsZero() || !sideAmount(positions, domain.SideShort).IsZero()
	leverage, push := s.store.ResolveLeverage(key, requestedLeverage, anyOpen)
	fields := map[string]interface{}{"profile": key.Profile, "symbol": key.Symbol, "side": side, "leverage": leverage}
	if push {
		if err := s.exchange.SetLeverage(ctx, key.Symbol, leverage); err != nil {
			s.logger.Warn(ctx, op+": Exchange refused leverage change", mergeFields(fields, "error", err.Error()))
			return domain.Skipped(domain.SkipLeverageFailed), nil
		}
	}

	filters, err := s.exchange.GetSymbolFilters(ctx, key.Symbol)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%s: symbol filters: %w", op, err)
	}
	mark, err := s.exchange.GetMarkPrice(ctx, key.Symbol)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%s: mark price: %w", op, err)
	}
	snap := s.store.Snapshot(key)
	qty, err := sizing.Quantity(snap.SizingBase(), leverage, profile.Allocation, mark, *filters)
	if err != nil {
		s.logger.Warn(ctx, op+": Sizing failed, no order placed", fields)
		return domain.Outcome{}, fmt.Errorf("%s: %w", op, err)
	}

	s.store.IncrementTrades(key)
	quantityStr := sizing.FormatQty(qty, *filters)
	order, err := retry.Do(ctx, s.entryPolicy, func(ctx context.Context) (*ports.OrderResponse, error) {
		return s.exchange.PlaceMarketOrder(ctx, ports.MarketOrderRequest{
			Symbol:       key.Symbol,
			Side:         side.EntrySide(),
			Quantity:     quantityStr,
			PositionSide: side,
		})
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to place hedge entry order", fields)
		return domain.Outcome{}, fmt.Errorf("hedge entry order failed: %w", err)
	}
	price := s.fillPrice(ctx, key.Symbol, order, mark)
	filled := fillQty(order, qty)
	s.store.RecordHedgeAdd(key, side, filled, leverage)
	s.syncHedge(ctx, key)

	s.logger.Info(ctx, op+": Hedge side increased", mergeFields(fields, "orderID", order.OrderID, "filled", filled.String(), "price", price.String()))
	return domain.Entered(&domain.EntryResult{
		Profile:    key.Profile,
		Symbol:     key.Symbol,
		Side:       side,
		FilledQty:  filled,
		EntryPrice: price,
		Leverage:   leverage,
		OrderIDs:   domain.OrderIDs{Entry: order.OrderID},
	}), nil
}

// hedgeStop closes the side named by action and realizes its fee-adjusted PnL.
func (s *TradingService) hedgeStop(ctx context.Context, key domain.Key, profile domain.Profile, action domain.Action, positions []ports.PositionRisk) (domain.Outcome, error) {
	op := "hedgeStop"
	side := action.Side()
	pos, ok := sidePosition(positions, side)
	if !ok || pos.PositionAmt.IsZero() {
		return domain.Skipped(domain.NoPosition(side)), nil
	}

	leverage := pos.Leverage
	if leverage <= 0 {
		leverage = s.store.Snapshot(key).Leverage
	}
	qty := pos.PositionAmt.Abs()

	exitPrice, err := s.closeMarket(ctx, key.Symbol, side, side, qty)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.waitFlat(ctx, key.Symbol, side); err != nil {
		if errors.Is(err, ports.ErrCloseTimeout) {
			s.logger.Warn(ctx, op+": Side not confirmed flat, no PnL applied", map[string]interface{}{"symbol": key.Symbol, "side": side})
			return domain.Skipped(domain.SkipCloseFailed), nil
		}
		return domain.Outcome{}, err
	}

	rec := s.store.ApplyHedgeExit(key, side, pos.EntryPrice, exitPrice, qty, leverage, profile.FeeRate)
	s.recordExit(ctx, rec)
	s.syncHedge(ctx, key)

	return domain.Exited(&domain.ExitResult{
		Done:      strings.ToLower(string(action)),
		Side:      side,
		ExitPrice: exitPrice,
		PnL:       risk.Percent(rec.PnL),
		Applied:   true,
	}), nil
}

// syncHedge refreshes both hedge ledgers from the exchange.
func (s *TradingService) syncHedge(ctx context.Context, key domain.Key) {
	positions, err := s.exchange.GetPositions(ctx, key.Symbol)
	if err != nil {
		s.logger.Warn(ctx, "syncHedge: Could not refresh positions", map[string]interface{}{"symbol": key.Symbol, "error": err.Error()})
		return
	}
	s.store.SyncHedge(key, positions)
}

func sidePosition(positions []ports.PositionRisk, side domain.PositionSide) (ports.PositionRisk, bool) {
	for _, p := range positions {
		if p.PositionSide == side {
			return p, true
		}
	}
	return ports.PositionRisk{}, false
}

func sideAmount(positions []ports.PositionRisk, side domain.PositionSide) decimal.Decimal {
	p, _ := sidePosition(positions, side)
	return p.PositionAmt
}
