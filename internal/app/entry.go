package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
	"hookTrader/internal/retry"
	"hookTrader/internal/risk"
	"hookTrader/internal/sizing"
)

// enter opens a one-way position on side, places its ladder and starts the
// exit monitor. The caller must have confirmed the symbol is flat.
func (s *TradingService) enter(ctx context.Context, key domain.Key, profile domain.Profile, side domain.PositionSide, requestedLeverage int) (*domain.EntryResult, error) {
	op := "enter"
	fields := map[string]interface{}{"profile": key.Profile, "symbol": key.Symbol, "side": side}

	// 1. Leverage policy; the position is flat here so the request is honoured
	leverage, push := s.store.ResolveLeverage(key, requestedLeverage, false)
	fields["leverage"] = leverage
	if push {
		if err := s.exchange.SetLeverage(ctx, key.Symbol, leverage); err != nil {
			s.logger.Error(ctx, err, op+": Failed to set leverage", fields)
			return nil, fmt.Errorf("%s: set leverage: %w", op, err)
		}
	}

	// 2. Stale TP/SL of a closed position must not linger
	s.cancelReduceOnly(ctx, key.Symbol)

	// 3. Sizing
	filters, err := s.exchange.GetSymbolFilters(ctx, key.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: symbol filters: %w", op, err)
	}
	mark, err := s.exchange.GetMarkPrice(ctx, key.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: mark price: %w", op, err)
	}
	snap := s.store.Snapshot(key)
	qty, err := sizing.Quantity(snap.SizingBase(), leverage, profile.Allocation, mark, *filters)
	if err != nil {
		fields["base"] = snap.SizingBase().String()
		fields["mark"] = mark.String()
		s.logger.Warn(ctx, op+": Sizing failed, no order placed", fields)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	quantityStr := sizing.FormatQty(qty, *filters)
	fields["quantity"] = quantityStr

	// 4. Entry order, bounded retry on overload only
	s.store.IncrementTrades(key)
	s.logger.Info(ctx, op+": Placing entry market order...", fields)
	entryOrder, err := retry.Do(ctx, s.entryPolicy, func(ctx context.Context) (*ports.OrderResponse, error) {
		return s.exchange.PlaceMarketOrder(ctx, ports.MarketOrderRequest{
			Symbol:       key.Symbol,
			Side:         side.EntrySide(),
			Quantity:     quantityStr,
			PositionSide: domain.SideBoth,
		})
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to place entry market order", fields)
		return nil, fmt.Errorf("entry market order failed: %w", err)
	}

	entryPrice := s.fillPrice(ctx, key.Symbol, entryOrder, mark)
	filled := fillQty(entryOrder, qty)
	fields["orderID"] = entryOrder.OrderID
	fields["entryPrice"] = entryPrice.String()
	fields["filled"] = filled.String()
	s.logger.Info(ctx, op+": Entry order filled", fields)

	// 5. New generation, then its ladder
	gen := s.store.BeginPosition(key, side, entryPrice, filled, leverage)
	ladder := risk.DeriveLadder(side, entryPrice, filled, profile.Ladder(side), *filters)
	s.placeLadder(s.baseCtx, key.Symbol, &ladder, *filters)
	if err := s.store.RecordLadder(key, gen, ladder); err != nil {
		// Only possible if another writer bumped the generation, which the key lock prevents.
		s.logger.Error(ctx, err, op+": Failed to record ladder", fields)
	}

	// 6. Exit monitor
	s.startMonitor(key, gen, profile.Ladder(side), ladder, *filters)

	return &domain.EntryResult{
		Profile:    key.Profile,
		Symbol:     key.Symbol,
		Side:       side,
		FilledQty:  filled,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		Generation: gen,
		OrderIDs: domain.OrderIDs{
			Entry: entryOrder.OrderID,
			TP1:   ladder.TP1.OrderID,
			TP2:   ladder.TP2.OrderID,
			SL:    ladder.SL.OrderID,
		},
	}, nil
}

// placeLadder submits TP1, TP2 and SL. A leg that cannot be placed is left
// with a zero order id and the position continues without it.
func (s *TradingService) placeLadder(ctx context.Context, symbol string, l *domain.Ladder, f domain.SymbolFilters) {
	for _, leg := range []*domain.LadderLeg{&l.TP1, &l.TP2, &l.SL} {
		id, err := s.placeProtective(ctx, symbol, l.Side, *leg, f)
		if err != nil {
			continue
		}
		leg.OrderID = id
	}
}

// placeProtective submits one reduce-only trigger order under the unbounded
// overload policy. Any other error abandons the leg.
func (s *TradingService) placeProtective(ctx context.Context, symbol string, side domain.PositionSide, leg domain.LadderLeg, f domain.SymbolFilters) (int64, error) {
	op := "placeProtective"
	fields := map[string]interface{}{
		"symbol":    symbol,
		"kind":      leg.Kind,
		"type":      leg.Type,
		"stopPrice": sizing.FormatPrice(leg.Price, f),
		"quantity":  sizing.FormatQty(leg.Qty, f),
	}
	if !leg.Qty.IsPositive() {
		s.logger.Warn(ctx, op+": Leg quantity rounds to zero, not placed", fields)
		return 0, nil
	}

	order, err := retry.Do(ctx, s.protectivePolicy, func(ctx context.Context) (*ports.OrderResponse, error) {
		return s.exchange.PlaceStopOrder(ctx, ports.StopOrderRequest{
			Symbol:       symbol,
			Side:         side.ExitSide(),
			Type:         leg.Type,
			Quantity:     sizing.FormatQty(leg.Qty, f),
			StopPrice:    sizing.FormatPrice(leg.Price, f),
			PositionSide: domain.SideBoth,
			ReduceOnly:   true,
		})
	})
	if err != nil {
		s.metrics.ObserveAbandoned(leg.Kind)
		s.logger.Error(ctx, err, op+": Protective order abandoned, position is unprotected for this leg", fields)
		return 0, err
	}
	fields["orderID"] = order.OrderID
	s.logger.Info(ctx, op+": Protective order placed", fields)
	return order.OrderID, nil
}

// closeMarket flattens qty on side with a reduce-only market order and
// returns the resolved exit price.
func (s *TradingService) closeMarket(ctx context.Context, symbol string, side domain.PositionSide, positionSide domain.PositionSide, qty decimal.Decimal) (decimal.Decimal, error) {
	op := "closeMarket"
	filters, err := s.exchange.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: symbol filters: %w", op, err)
	}
	req := ports.MarketOrderRequest{
		Symbol:       symbol,
		Side:         side.ExitSide(),
		Quantity:     sizing.FormatQty(qty.Abs(), *filters),
		PositionSide: positionSide,
		ReduceOnly:   positionSide == domain.SideBoth,
	}
	s.logger.Info(ctx, op+": Placing closing market order...", map[string]interface{}{"symbol": symbol, "side": req.Side, "quantity": req.Quantity, "positionSide": positionSide})
	order, err := retry.Do(ctx, s.entryPolicy, func(ctx context.Context) (*ports.OrderResponse, error) {
		return s.exchange.PlaceMarketOrder(ctx, req)
	})
	if err != nil {
		s.logger.Error(ctx, err, op+": Failed to place closing market order", map[string]interface{}{"symbol": symbol})
		return decimal.Zero, fmt.Errorf("close market order failed: %w", err)
	}
	price := s.fillPrice(ctx, symbol, order, decimal.Zero)
	s.logger.Info(ctx, op+": Closing market order placed successfully", map[string]interface{}{"orderID": order.OrderID, "exitPrice": price.String()})
	return price, nil
}
