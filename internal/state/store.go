// Package state owns the per-(profile, symbol) ledgers.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
	"hookTrader/internal/risk"
)

// Factory builds the initial ledger for a key the first time it is seen.
type Factory func(key domain.Key, now time.Time) *domain.SymbolState

// Store is a keyed set of SymbolState records. Each record has its own lock;
// the store lock only guards the map.
type Store struct {
	mu      sync.Mutex
	entries map[domain.Key]*entry
	factory Factory
	now     func() time.Time
}

type entry struct {
	mu sync.Mutex
	st *domain.SymbolState
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(factory Factory, opts ...Option) *Store {
	s := &Store{
		entries: make(map[domain.Key]*entry),
		factory: factory,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(key domain.Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{st: s.factory(key, s.now())}
		e.st.Key = key
		s.entries[key] = e
	}
	return e
}

func (s *Store) with(key domain.Key, fn func(st *domain.SymbolState) error) error {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.st)
}

// Snapshot returns a copy of the record, creating it if needed.
func (s *Store) Snapshot(key domain.Key) domain.SymbolState {
	var out domain.SymbolState
	_ = s.with(key, func(st *domain.SymbolState) error {
		out = *st
		return nil
	})
	return out
}

// Lookup returns a copy of the record without creating one.
func (s *Store) Lookup(key domain.Key) (domain.SymbolState, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return domain.SymbolState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.st, true
}

// Keys lists every known key in stable order.
func (s *Store) Keys() []domain.Key {
	s.mu.Lock()
	keys := make([]domain.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Profile != keys[j].Profile {
			return keys[i].Profile < keys[j].Profile
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}

// Snapshots copies every record in key order.
func (s *Store) Snapshots() []domain.SymbolState {
	keys := s.Keys()
	out := make([]domain.SymbolState, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Snapshot(k))
	}
	return out
}

// ResolveLeverage applies the leverage policy. While a position is open the
// recorded leverage wins; otherwise the request is recorded and should be
// pushed to the exchange.
func (s *Store) ResolveLeverage(key domain.Key, requested int, positionOpen bool) (effective int, push bool) {
	_ = s.with(key, func(st *domain.SymbolState) error {
		if positionOpen && st.Leverage > 0 {
			effective = st.Leverage
			return nil
		}
		if requested <= 0 {
			requested = st.Leverage
		}
		st.Leverage = requested
		effective, push = requested, true
		return nil
	})
	return effective, push
}

// IncrementTrades counts an attempted entry.
func (s *Store) IncrementTrades(key domain.Key) {
	_ = s.with(key, func(st *domain.SymbolState) error {
		st.TradeCount++
		return nil
	})
}

// Retire marks the current generation as being closed by the coordinator and
// returns it. Monitors of a retired generation may no longer credit TP fills.
func (s *Store) Retire(key domain.Key) uint64 {
	var gen uint64
	_ = s.with(key, func(st *domain.SymbolState) error {
		st.Retired = true
		gen = st.Generation
		return nil
	})
	return gen
}

// BeginPosition records a fresh entry and returns its generation.
func (s *Store) BeginPosition(key domain.Key, side domain.PositionSide, entryPrice, filled decimal.Decimal, leverage int) uint64 {
	var gen uint64
	_ = s.with(key, func(st *domain.SymbolState) error {
		st.Generation++
		st.Retired = false
		st.Closed = false
		st.Side = side
		st.EntryPrice = entryPrice
		st.PositionQty = filled.Mul(decimal.NewFromInt(side.Sign()))
		st.EntryTime = s.now()
		st.Leverage = leverage
		st.FirstTP = domain.Leg{}
		st.SecondTP = domain.Leg{}
		st.StopLoss = domain.Leg{}
		st.CurrentPrice = entryPrice
		st.UnrealizedPct = decimal.Zero
		st.UpdatedAt = st.EntryTime
		gen = st.Generation
		return nil
	})
	return gen
}

// IsCurrent reports whether gen is the live, unretired generation.
func (s *Store) IsCurrent(key domain.Key, gen uint64) bool {
	current := false
	_ = s.with(key, func(st *domain.SymbolState) error {
		current = st.Generation == gen && !st.Retired
		return nil
	})
	return current
}

// RecordLadder stores the placed ladder legs for gen.
func (s *Store) RecordLadder(key domain.Key, gen uint64, l domain.Ladder) error {
	return s.with(key, func(st *domain.SymbolState) error {
		if st.Generation != gen {
			return ports.ErrStaleGeneration
		}
		st.FirstTP = pendingLeg(l.TP1)
		st.SecondTP = pendingLeg(l.TP2)
		st.StopLoss = pendingLeg(l.SL)
		return nil
	})
}

// RecordStop stores a relocated stop for gen.
func (s *Store) RecordStop(key domain.Key, gen uint64, leg domain.LadderLeg) error {
	return s.with(key, func(st *domain.SymbolState) error {
		if st.Generation != gen || st.Retired {
			return ports.ErrStaleGeneration
		}
		st.StopLoss = pendingLeg(leg)
		return nil
	})
}

func pendingLeg(l domain.LadderLeg) domain.Leg {
	return domain.Leg{OrderID: l.OrderID, Price: l.Price, Qty: l.Qty}
}

// ApplyExit realizes PnL for ev exactly once.
//
// TP kinds require the generation to be current and unretired and are gated
// by the leg's Done flag. Flat kinds are accepted for a retired generation
// and gated by Closed; when a TP already realized they only close the
// generation and return ErrAlreadyRealized.
func (s *Store) ApplyExit(key domain.Key, ev domain.ExitEvent) (*domain.ExitRecord, error) {
	var rec *domain.ExitRecord
	err := s.with(key, func(st *domain.SymbolState) error {
		if ev.Generation != st.Generation {
			return fmt.Errorf("exit %s for generation %d, current %d: %w", ev.Kind, ev.Generation, st.Generation, ports.ErrStaleGeneration)
		}
		if st.PositionQty.IsZero() {
			return ports.ErrNoOpenEntry
		}
		if st.Closed {
			return ports.ErrAlreadyRealized
		}
		at := ev.At
		if at.IsZero() {
			at = s.now()
		}

		switch {
		case ev.Kind.IsTakeProfit():
			if st.Retired {
				return fmt.Errorf("exit %s for retired generation %d: %w", ev.Kind, ev.Generation, ports.ErrStaleGeneration)
			}
			leg := &st.FirstTP
			if ev.Kind == domain.ExitTP2 {
				leg = &st.SecondTP
			}
			if leg.Done {
				return ports.ErrAlreadyRealized
			}
			fraction := risk.LegFraction(st.Side, st.EntryPrice, ev.Price, st.Leverage, ev.Qty, st.FilledQty())
			rec = s.realize(st, ev.Kind, ev.Price, ev.Qty, fraction, at)
			leg.Done = true
			leg.Price = ev.Price
			leg.Qty = ev.Qty
			leg.PnL = fraction
			leg.Time = at
			if ev.Kind == domain.ExitTP1 {
				st.FirstTPCount++
			} else {
				st.SecondTPCount++
			}

		case ev.Kind.IsFlat():
			st.Closed = true
			if st.AnyTPDone() {
				return ports.ErrAlreadyRealized
			}
			remaining := st.RemainingQty()
			fraction := risk.LegFraction(st.Side, st.EntryPrice, ev.Price, st.Leverage, remaining, st.FilledQty())
			rec = s.realize(st, ev.Kind, ev.Price, remaining, fraction, at)
			if ev.Kind != domain.ExitStop {
				st.StopLoss.Done = true
				st.StopLoss.Price = ev.Price
				st.StopLoss.Qty = remaining
				st.StopLoss.PnL = fraction
				st.StopLoss.Time = at
				st.SLCount++
			}

		default:
			return fmt.Errorf("exit kind %q: %w", ev.Kind, ports.ErrInvalidRequest)
		}
		return nil
	})
	return rec, err
}

// ApplyHedgeExit realizes the fee-adjusted PnL of closing one hedge side.
func (s *Store) ApplyHedgeExit(key domain.Key, side domain.PositionSide, entryPrice, exitPrice, qty decimal.Decimal, leverage int, feeRate decimal.Decimal) *domain.ExitRecord {
	var rec *domain.ExitRecord
	_ = s.with(key, func(st *domain.SymbolState) error {
		fraction := risk.HedgeNet(side, entryPrice, exitPrice, leverage, feeRate)
		rec = s.realize(st, domain.ExitHedgeStop, exitPrice, qty, fraction, s.now())
		rec.Side = side
		rec.EntryPrice = entryPrice
		rec.Leverage = leverage
		leg := st.HedgeLeg(side)
		leg.Qty = decimal.Zero
		leg.UnrealizedPnL = decimal.Zero
		leg.UpdatedAt = rec.ExitTime
		return nil
	})
	return rec
}

// realize mutates capital and daily PnL. Caller holds the entry lock.
func (s *Store) realize(st *domain.SymbolState, kind domain.ExitKind, price, qty, fraction decimal.Decimal, at time.Time) *domain.ExitRecord {
	before := st.Capital
	if st.Compounding {
		st.Capital = risk.Compound(st.Capital, fraction)
	}
	st.DailyPnL = st.DailyPnL.Add(risk.Percent(fraction))
	st.UpdatedAt = at
	return &domain.ExitRecord{
		Profile:       st.Profile,
		Symbol:        st.Symbol,
		Side:          st.Side,
		Kind:          kind,
		Generation:    st.Generation,
		EntryPrice:    st.EntryPrice,
		ExitPrice:     price,
		Quantity:      qty,
		Leverage:      st.Leverage,
		PnL:           fraction,
		CapitalBefore: before,
		CapitalAfter:  st.Capital,
		EntryTime:     st.EntryTime,
		ExitTime:      at,
	}
}

// RecordHedgeAdd counts an add on a hedge side.
func (s *Store) RecordHedgeAdd(key domain.Key, side domain.PositionSide, qty decimal.Decimal, leverage int) {
	_ = s.with(key, func(st *domain.SymbolState) error {
		leg := st.HedgeLeg(side)
		leg.Adds++
		leg.LastOrderQty = qty
		leg.UpdatedAt = s.now()
		st.Leverage = leverage
		return nil
	})
}

// SyncHedge overwrites the exchange-reported fields of both hedge sides.
func (s *Store) SyncHedge(key domain.Key, positions []ports.PositionRisk) {
	_ = s.with(key, func(st *domain.SymbolState) error {
		now := s.now()
		for _, p := range positions {
			if p.PositionSide != domain.SideLong && p.PositionSide != domain.SideShort {
				continue
			}
			leg := st.HedgeLeg(p.PositionSide)
			leg.Qty = p.PositionAmt.Abs()
			leg.EntryPrice = p.EntryPrice
			leg.UnrealizedPnL = p.UnRealizedProfit
			leg.UpdatedAt = now
		}
		return nil
	})
}

// UpdatePrice stores the latest display price and unrealized PnL.
func (s *Store) UpdatePrice(key domain.Key, price decimal.Decimal) {
	_ = s.with(key, func(st *domain.SymbolState) error {
		st.CurrentPrice = price
		if st.HasOpenEntry() {
			st.UnrealizedPct = risk.UnrealizedPct(st.Side, st.EntryPrice, price, st.Leverage)
		} else {
			st.UnrealizedPct = decimal.Zero
		}
		st.UpdatedAt = s.now()
		return nil
	})
}

// ResetCounters clears the counters and returns the record as it was before.
// Capital is never touched.
func (s *Store) ResetCounters(key domain.Key) domain.SymbolState {
	var before domain.SymbolState
	_ = s.with(key, func(st *domain.SymbolState) error {
		before = *st
		st.Counters = domain.Counters{DailyPnL: decimal.Zero, LastReset: s.now()}
		st.Long.Adds = 0
		st.Short.Adds = 0
		return nil
	})
	return before
}
