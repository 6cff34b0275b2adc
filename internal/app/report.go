package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/analytics"
	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// Report is the daily summary of one ledger.
type Report struct {
	Profile          string          `json:"profile"`
	Symbol           string          `json:"symbol"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	Capital          decimal.Decimal `json:"capital"`
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	CumulativeReturn decimal.Decimal `json:"cumulative_return"` // Percent
	Leverage         int             `json:"leverage"`
	domain.Counters
	Reset bool `json:"reset"`
}

// ReportPeriod returns the window ending at the most recent cutoff hour in loc.
func ReportPeriod(now time.Time, loc *time.Location, cutoffHour int) (start, end time.Time) {
	local := now.In(loc)
	end = time.Date(local.Year(), local.Month(), local.Day(), cutoffHour, 0, 0, 0, loc)
	if local.Before(end) {
		end = end.AddDate(0, 0, -1)
	}
	return end.AddDate(0, 0, -1), end
}

// Reports builds a report for every ledger of profile, or only symbol when set.
// With reset the counters are cleared after being read; capital is kept.
func (s *TradingService) Reports(ctx context.Context, profile, symbol string, reset bool) ([]Report, error) {
	p, ok := s.cfg.Profile(profile)
	if !ok {
		return nil, fmt.Errorf("Reports: %w: %q", ports.ErrUnknownProfile, profile)
	}

	var keys []domain.Key
	if symbol != "" {
		key := domain.Key{Profile: p.Name, Symbol: domain.NormalizeSymbol(symbol)}
		if _, ok := s.store.Lookup(key); !ok {
			return nil, fmt.Errorf("Reports: %w: no data for %s", ports.ErrNotFound, key.Symbol)
		}
		keys = []domain.Key{key}
	} else {
		for _, k := range s.store.Keys() {
			if k.Profile == p.Name {
				keys = append(keys, k)
			}
		}
	}

	start, end := ReportPeriod(time.Now(), s.cfg.ReportLocation, s.cfg.ReportCutoffHour)
	out := make([]Report, 0, len(keys))
	for _, key := range keys {
		var st domain.SymbolState
		if reset {
			unlock := s.lockKey(key)
			st = s.store.ResetCounters(key)
			unlock()
			s.logger.Info(ctx, "Reports: Counters reset", map[string]interface{}{"profile": key.Profile, "symbol": key.Symbol})
		} else {
			st = s.store.Snapshot(key)
		}
		out = append(out, buildReport(st, start, end, reset))
	}
	return out, nil
}

func buildReport(st domain.SymbolState, start, end time.Time, reset bool) Report {
	cumulative := decimal.Zero
	if st.InitialCapital.IsPositive() {
		cumulative = st.Capital.Div(st.InitialCapital).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(4)
	}
	return Report{
		Profile:          st.Profile,
		Symbol:           st.Symbol,
		PeriodStart:      start,
		PeriodEnd:        end,
		Capital:          st.Capital,
		InitialCapital:   st.InitialCapital,
		CumulativeReturn: cumulative,
		Leverage:         st.Leverage,
		Counters:         st.Counters,
		Reset:            reset,
	}
}

// History is the journaled exits of a key with their performance summary.
type History struct {
	Exits       []*domain.ExitRecord          `json:"exits"`
	Performance *analytics.PerformanceMetrics `json:"performance"`
}

// History reads the exit journal. It fails with ErrNotFound when no journal is configured.
func (s *TradingService) History(ctx context.Context, profile, symbol string, limit int) (*History, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("History: exit journal disabled: %w", ports.ErrNotFound)
	}
	p, ok := s.cfg.Profile(profile)
	if !ok {
		return nil, fmt.Errorf("History: %w: %q", ports.ErrUnknownProfile, profile)
	}
	exits, err := s.journal.FindByKey(ctx, p.Name, domain.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("History: %w", err)
	}
	return &History{
		Exits:       exits,
		Performance: analytics.AnalyzeExits(exits, p.InitialCapital.InexactFloat64()),
	}, nil
}
