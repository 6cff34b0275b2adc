package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
)

// StateView is a ledger as shown to monitor clients.
type StateView struct {
	Profile string `json:"profile"`
	Symbol  string `json:"symbol"`
	domain.SymbolState
}

// Snapshot is the message broadcast to live viewers.
type Snapshot struct {
	Type   string      `json:"type"`
	Time   time.Time   `json:"time"`
	States []StateView `json:"states"`
}

// Status returns every ledger.
func (s *TradingService) Status() []StateView {
	snaps := s.store.Snapshots()
	views := make([]StateView, 0, len(snaps))
	for _, st := range snaps {
		views = append(views, StateView{Profile: st.Profile, Symbol: st.Symbol, SymbolState: st})
	}
	return views
}

func (s *TradingService) publishSnapshots() {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Snapshot{Type: "snapshot", Time: time.Now().UTC(), States: s.Status()})
}

// WatchPrices refreshes display prices of open ledgers until ctx is done.
func (s *TradingService) WatchPrices(ctx context.Context) {
	interval := s.cfg.PricePollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshPrices(ctx)
		}
	}
}

// refreshPrices runs one pass. Each symbol's mark is fetched once even when
// several profiles trade it.
func (s *TradingService) refreshPrices(ctx context.Context) {
	op := "refreshPrices"
	marks := make(map[string]decimal.Decimal)
	updated := false
	for _, key := range s.store.Keys() {
		st := s.store.Snapshot(key)
		if !st.HasOpenEntry() && !st.Long.IsOpen() && !st.Short.IsOpen() {
			continue
		}
		mark, ok := marks[key.Symbol]
		if !ok {
			var err error
			mark, err = s.exchange.GetMarkPrice(ctx, key.Symbol)
			if err != nil {
				s.logger.Warn(ctx, op+": Mark price unavailable", map[string]interface{}{"symbol": key.Symbol, "error": err.Error()})
				continue
			}
			marks[key.Symbol] = mark
		}
		s.store.UpdatePrice(key, mark)
		if s.cfg.HedgeMode {
			s.syncHedge(ctx, key)
		}
		updated = true
	}
	if updated {
		s.publishSnapshots()
	}
}
