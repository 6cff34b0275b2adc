package app

import (
	"context"
	"errors"
	"time"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
	"hookTrader/internal/risk"
)

// monitorPhase is the exit monitor state.
type monitorPhase int

const (
	phaseWatchingTP1TP2 monitorPhase = iota
	phaseWatchingTP2Only
	phaseWatchingClose
	phaseTerminal
)

func (p monitorPhase) String() string {
	switch p {
	case phaseWatchingTP1TP2:
		return "WATCHING_TP1_TP2"
	case phaseWatchingTP2Only:
		return "WATCHING_TP2_ONLY"
	case phaseWatchingClose:
		return "WATCHING_CLOSE"
	default:
		return "TERMINAL"
	}
}

// exitMonitor follows one position generation until it is flat or superseded.
// Every state mutation carries gen; the store rejects it once the generation
// is no longer current.
type exitMonitor struct {
	svc     *TradingService
	key     domain.Key
	gen     uint64
	spec    domain.LadderSpec
	ladder  domain.Ladder
	filters domain.SymbolFilters
	phase   monitorPhase
}

func newExitMonitor(svc *TradingService, key domain.Key, gen uint64, spec domain.LadderSpec, ladder domain.Ladder, f domain.SymbolFilters) *exitMonitor {
	m := &exitMonitor{svc: svc, key: key, gen: gen, spec: spec, ladder: ladder, filters: f}
	switch {
	case ladder.TP1.Placed():
		m.phase = phaseWatchingTP1TP2
	case ladder.TP2.Placed():
		m.phase = phaseWatchingTP2Only
	default:
		m.phase = phaseWatchingClose
	}
	return m
}

func (s *TradingService) startMonitor(key domain.Key, gen uint64, spec domain.LadderSpec, ladder domain.Ladder, f domain.SymbolFilters) {
	m := newExitMonitor(s, key, gen, spec, ladder, f)
	s.tasks.Add(1)
	s.metrics.MonitorStarted()
	go func() {
		defer s.tasks.Done()
		defer s.metrics.MonitorStopped()
		m.run(s.baseCtx)
	}()
}

func (m *exitMonitor) fields() map[string]interface{} {
	return map[string]interface{}{
		"profile":    m.key.Profile,
		"symbol":     m.key.Symbol,
		"generation": m.gen,
		"phase":      m.phase.String(),
	}
}

func (m *exitMonitor) run(ctx context.Context) {
	op := "exitMonitor"
	log := m.svc.logger
	log.Info(ctx, op+": Started", m.fields())

	ticker := time.NewTicker(m.svc.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info(context.Background(), op+": Stopped by shutdown", m.fields())
			return
		case <-ticker.C:
		}
		m.tick(ctx)
		if m.phase == phaseTerminal {
			log.Info(ctx, op+": Terminal", m.fields())
			return
		}
	}
}

// tick runs one poll. Exchange errors leave the phase unchanged so the next
// tick retries.
func (m *exitMonitor) tick(ctx context.Context) {
	op := "exitMonitor.tick"
	svc := m.svc

	if !svc.store.IsCurrent(m.key, m.gen) {
		// Superseded or being closed by the coordinator, which owns the exit now.
		svc.logger.Info(ctx, op+": Generation no longer current, exiting", m.fields())
		m.phase = phaseTerminal
		return
	}

	// Flat is checked before the order set: once the position is gone the
	// exchange drops the remaining reduce-only orders too, and those must
	// not read as TP fills.
	amt, err := svc.exchange.GetPositionAmount(ctx, m.key.Symbol, domain.SideBoth)
	if err != nil {
		svc.logger.Warn(ctx, op+": Position poll failed", mergeFields(m.fields(), "error", err.Error()))
		return
	}
	if amt.IsZero() {
		m.onFlat(ctx)
		return
	}

	if m.phase == phaseWatchingClose {
		return
	}

	orders, err := svc.exchange.GetOpenOrders(ctx, m.key.Symbol)
	if err != nil {
		svc.logger.Warn(ctx, op+": Open orders poll failed", mergeFields(m.fields(), "error", err.Error()))
		return
	}
	open := make(map[int64]bool, len(orders))
	for _, o := range orders {
		open[o.OrderID] = true
	}

	if m.phase == phaseWatchingTP1TP2 && !open[m.ladder.TP1.OrderID] {
		if !m.onTakeProfit(ctx, m.ladder.TP1) {
			return
		}
		m.phase = phaseWatchingTP2Only
		if !m.ladder.TP2.Placed() {
			m.phase = phaseWatchingClose
		}
	}
	if m.phase == phaseWatchingTP2Only && !open[m.ladder.TP2.OrderID] {
		if !m.onTakeProfit(ctx, m.ladder.TP2) {
			return
		}
		m.phase = phaseWatchingClose
	}
}

// onTakeProfit realizes a TP leg and relocates the stop. It returns false when
// the monitor should stop advancing (stale generation or terminal).
func (m *exitMonitor) onTakeProfit(ctx context.Context, leg domain.LadderLeg) bool {
	op := "exitMonitor.onTakeProfit"
	svc := m.svc
	fields := mergeFields(m.fields(), "kind", leg.Kind)

	rec, err := svc.store.ApplyExit(m.key, domain.ExitEvent{Kind: leg.Kind, Generation: m.gen, Price: leg.Price, Qty: leg.Qty})
	switch {
	case err == nil:
		svc.recordExit(ctx, rec)
	case errors.Is(err, ports.ErrAlreadyRealized):
		svc.logger.Debug(ctx, op+": Take profit already realized", fields)
	case errors.Is(err, ports.ErrStaleGeneration):
		svc.logger.Info(ctx, op+": Generation retired before the fill was credited", fields)
		m.phase = phaseTerminal
		return false
	default:
		svc.logger.Error(ctx, err, op+": Failed to apply take profit", fields)
		return false
	}

	m.relocateStop(ctx, leg.Kind)
	return m.phase != phaseTerminal
}

// relocateStop replaces the stop with one at the tightened offset covering
// the remaining quantity.
func (m *exitMonitor) relocateStop(ctx context.Context, after domain.ExitKind) {
	op := "exitMonitor.relocateStop"
	svc := m.svc

	snap := svc.store.Snapshot(m.key)
	remaining := snap.RemainingQty()
	next := risk.RelocatedStop(m.ladder.Side, m.ladder.Entry, remaining, after, m.spec, m.filters)

	if m.ladder.SL.Placed() {
		if err := svc.cancelOrderWarn(ctx, m.key.Symbol, m.ladder.SL.OrderID, "SL"); err != nil {
			svc.logger.Warn(ctx, op+": Old stop still resting, placing the new one anyway", m.fields())
		}
	}
	id, err := svc.placeProtective(ctx, m.key.Symbol, m.ladder.Side, next, m.filters)
	if err == nil {
		next.OrderID = id
	}
	m.ladder.SL = next

	if err := svc.store.RecordStop(m.key, m.gen, next); err != nil {
		// Retired while we were placing: the coordinator may already have swept
		// the book, so remove what we just added.
		if next.Placed() {
			_ = svc.cancelOrderWarn(ctx, m.key.Symbol, next.OrderID, "SL")
		}
		svc.logger.Info(ctx, op+": Generation retired during relocation", m.fields())
		m.phase = phaseTerminal
		return
	}
	svc.logger.Info(ctx, op+": Stop relocated", mergeFields(m.fields(), "stopPrice", next.Price.String(), "quantity", next.Qty.String(), "orderID", next.OrderID))
}

// onFlat settles the generation when the exchange reports no position.
func (m *exitMonitor) onFlat(ctx context.Context) {
	op := "exitMonitor.onFlat"
	svc := m.svc

	mark, err := svc.exchange.GetMarkPrice(ctx, m.key.Symbol)
	if err != nil {
		svc.logger.Warn(ctx, op+": Mark price unavailable, retrying next tick", mergeFields(m.fields(), "error", err.Error()))
		return
	}

	rec, err := svc.store.ApplyExit(m.key, domain.ExitEvent{Kind: domain.ExitStopLoss, Generation: m.gen, Price: mark})
	switch {
	case err == nil:
		svc.logger.Info(ctx, op+": Stop loss realized", mergeFields(m.fields(), "exitPrice", mark.String()))
		svc.recordExit(ctx, rec)
	case errors.Is(err, ports.ErrAlreadyRealized):
		svc.logger.Info(ctx, op+": Flat after take profit, nothing further to apply", m.fields())
	default:
		svc.logger.Info(ctx, op+": Flat exit not applied", mergeFields(m.fields(), "reason", err.Error()))
	}

	// Leftover legs of this generation only; never the whole book.
	for _, leg := range []domain.LadderLeg{m.ladder.TP1, m.ladder.TP2, m.ladder.SL} {
		if leg.Placed() {
			_ = svc.cancelOrderWarn(ctx, m.key.Symbol, leg.OrderID, string(leg.Kind))
		}
	}
	m.phase = phaseTerminal
}

func mergeFields(base map[string]interface{}, kv ...interface{}) map[string]interface{} {
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			base[k] = kv[i+1]
		}
	}
	return base
}
