package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookTrader/config"
	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockExchange is a small in-memory futures account. Market orders move the
// position immediately; stop orders rest until filled or cancelled.
type mockExchange struct {
	mu sync.Mutex

	mark     decimal.Decimal
	filters  domain.SymbolFilters
	position decimal.Decimal // One-way (BOTH) amount
	hedge    map[domain.PositionSide]decimal.Decimal
	hedgeAvg map[domain.PositionSide]decimal.Decimal

	// flattenOnClose makes closing orders flatten the position; without it
	// the position never confirms flat.
	flattenOnClose bool

	nextID      int64
	openOrders  map[int64]ports.OpenOrder
	market      []ports.MarketOrderRequest
	stops       []ports.StopOrderRequest
	cancelled   []int64
	leverages   []int
	leverageErr error
	marketErrs  []error // Consumed one per call
	stopErrs    []error // Consumed one per call
	calls       int
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		mark: dec("2000"),
		filters: domain.SymbolFilters{
			Symbol:   "ETHUSDT",
			StepSize: dec("0.001"),
			MinQty:   dec("0.001"),
			TickSize: dec("0.01"),
		},
		position:       decimal.Zero,
		hedge:          map[domain.PositionSide]decimal.Decimal{domain.SideLong: decimal.Zero, domain.SideShort: decimal.Zero},
		hedgeAvg:       map[domain.PositionSide]decimal.Decimal{domain.SideLong: decimal.Zero, domain.SideShort: decimal.Zero},
		flattenOnClose: true,
		nextID:         100,
		openOrders:     make(map[int64]ports.OpenOrder),
	}
}

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }

func (m *mockExchange) SetPositionMode(ctx context.Context, hedge bool) error { return nil }

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.leverages = append(m.leverages, leverage)
	return m.leverageErr
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.mark, nil
}

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	f := m.filters
	f.Symbol = symbol
	return &f, nil
}

func (m *mockExchange) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]ports.OpenOrder, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		out = append(out, o)
	}
	return out, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if _, ok := m.openOrders[orderID]; !ok {
		return nil, fmt.Errorf("CancelOrder failed: %w", ports.ErrOrderNotFound)
	}
	delete(m.openOrders, orderID)
	m.cancelled = append(m.cancelled, orderID)
	return &ports.OrderResponse{OrderID: orderID, Status: "CANCELED"}, nil
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, req ports.MarketOrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.market = append(m.market, req)
	if len(m.marketErrs) > 0 {
		err := m.marketErrs[0]
		m.marketErrs = m.marketErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	qty := dec(req.Quantity)
	signed := qty
	if req.Side == domain.Sell {
		signed = qty.Neg()
	}
	switch req.PositionSide {
	case domain.SideLong, domain.SideShort:
		if req.Side == req.PositionSide.ExitSide() {
			if m.flattenOnClose {
				m.hedge[req.PositionSide] = decimal.Zero
			}
		} else {
			m.hedge[req.PositionSide] = m.hedge[req.PositionSide].Add(signed)
			m.hedgeAvg[req.PositionSide] = m.mark
		}
	default:
		if req.ReduceOnly {
			if m.flattenOnClose {
				m.position = decimal.Zero
			}
		} else {
			m.position = m.position.Add(signed)
		}
	}

	m.nextID++
	return &ports.OrderResponse{
		OrderID:     m.nextID,
		Symbol:      req.Symbol,
		AvgPrice:    m.mark,
		ExecutedQty: qty,
		Status:      "FILLED",
		Type:        string(domain.OrderTypeMarket),
		Side:        string(req.Side),
	}, nil
}

func (m *mockExchange) PlaceStopOrder(ctx context.Context, req ports.StopOrderRequest) (*ports.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.stops = append(m.stops, req)
	if len(m.stopErrs) > 0 {
		err := m.stopErrs[0]
		m.stopErrs = m.stopErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.nextID++
	m.openOrders[m.nextID] = ports.OpenOrder{
		OrderID:      m.nextID,
		Symbol:       req.Symbol,
		Type:         string(req.Type),
		Side:         string(req.Side),
		StopPrice:    dec(req.StopPrice),
		OrigQuantity: dec(req.Quantity),
		ReduceOnly:   req.ReduceOnly,
	}
	return &ports.OrderResponse{OrderID: m.nextID, Symbol: req.Symbol, Status: "NEW"}, nil
}

func (m *mockExchange) GetPositions(ctx context.Context, symbol string) ([]ports.PositionRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []ports.PositionRisk
	for _, side := range []domain.PositionSide{domain.SideLong, domain.SideShort} {
		out = append(out, ports.PositionRisk{
			Symbol:       symbol,
			PositionSide: side,
			PositionAmt:  m.hedge[side],
			EntryPrice:   m.hedgeAvg[side],
			MarkPrice:    m.mark,
			Leverage:     10,
		})
	}
	return out, nil
}

func (m *mockExchange) GetPositionAmount(ctx context.Context, symbol string, side domain.PositionSide) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if side == domain.SideBoth {
		return m.position, nil
	}
	return m.hedge[side], nil
}

// fill simulates a resting reduce-only order executing.
func (m *mockExchange) fill(orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.openOrders[orderID]
	if !ok {
		return
	}
	delete(m.openOrders, orderID)
	if m.position.IsPositive() {
		m.position = m.position.Sub(o.OrigQuantity)
	} else {
		m.position = m.position.Add(o.OrigQuantity)
	}
}

// stopOut simulates the stop loss triggering at mark: the position goes flat
// and the exchange drops every remaining reduce-only order.
func (m *mockExchange) stopOut(mark decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark = mark
	m.position = decimal.Zero
	m.openOrders = make(map[int64]ports.OpenOrder)
}

func (m *mockExchange) setMark(mark decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark = mark
}

func (m *mockExchange) setPosition(amt decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = amt
}

func (m *mockExchange) marketOrders() []ports.MarketOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.MarketOrderRequest(nil), m.market...)
}

func (m *mockExchange) stopOrders() []ports.StopOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.StopOrderRequest(nil), m.stops...)
}

func (m *mockExchange) wasCancelled(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cancelled {
		if c == id {
			return true
		}
	}
	return false
}

func (m *mockExchange) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockJournal struct {
	mu    sync.Mutex
	exits []*domain.ExitRecord
	err   error
}

func (m *mockJournal) RecordExit(ctx context.Context, rec *domain.ExitRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	cp := *rec
	m.exits = append(m.exits, &cp)
	return int64(len(m.exits)), nil
}

func (m *mockJournal) FindByKey(ctx context.Context, profile, symbol string, limit int) ([]*domain.ExitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ExitRecord
	for _, e := range m.exits {
		if e.Profile == profile && (symbol == "" || e.Symbol == symbol) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockJournal) FindAll(ctx context.Context) ([]*domain.ExitRecord, error) {
	return m.FindByKey(ctx, "default", "", 0)
}

func (m *mockJournal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exits)
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (m *mockPublisher) Publish(msg interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Helper function to create test config
func createTestConfig() *config.Config {
	profile := domain.Profile{
		Name:           config.DefaultProfileName,
		Leverage:       10,
		InitialCapital: dec("100"),
		Compounding:    true,
		Allocation:     dec("1"),
		FeeRate:        dec("0.0004"),
		Long:           domain.DefaultLongLadder(),
		Short:          domain.DefaultShortLadder(),
	}
	return &config.Config{
		Profiles:          map[string]domain.Profile{profile.Name: profile},
		DefaultProfile:    profile.Name,
		PollInterval:      5 * time.Millisecond,
		MaxWait:           150 * time.Millisecond,
		PricePollInterval: time.Hour,
		EntryMaxAttempts:  3,
		EntryBackoff:      time.Millisecond,
		ProtectiveRetry:   time.Millisecond,
		ReportLocation:    time.UTC,
		ReportCutoffHour:  9,
	}
}

type testHarness struct {
	svc       *TradingService
	exchange  *mockExchange
	journal   *mockJournal
	publisher *mockPublisher
	logger    *mockLogger
	key       domain.Key
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *testHarness {
	t.Helper()
	cfg := createTestConfig()
	if mutate != nil {
		mutate(cfg)
	}
	h := &testHarness{
		exchange:  newMockExchange(),
		journal:   &mockJournal{},
		publisher: &mockPublisher{},
		logger:    &mockLogger{},
		key:       domain.Key{Profile: config.DefaultProfileName, Symbol: "ETHUSDT"},
	}
	svc, err := NewTradingService(cfg, h.logger, h.exchange, h.journal, h.publisher, nil)
	require.NoError(t, err)
	h.svc = svc
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, svc.Stop(ctx))
	})
	return h
}

func (h *testHarness) signal(t *testing.T, action string) domain.Outcome {
	t.Helper()
	out, err := h.svc.Switch(context.Background(), Signal{Symbol: "eth/usdt", Action: action})
	require.NoError(t, err)
	return out
}

func (h *testHarness) snapshot() domain.SymbolState {
	return h.svc.Store().Snapshot(h.key)
}

func TestNewTradingService_Validation(t *testing.T) {
	logger := &mockLogger{}
	exchange := newMockExchange()

	_, err := NewTradingService(nil, logger, exchange, nil, nil, nil)
	assert.Error(t, err)

	cfg := createTestConfig()
	cfg.DefaultProfile = "missing"
	_, err = NewTradingService(cfg, logger, exchange, nil, nil, nil)
	assert.Error(t, err)

	cfg = createTestConfig()
	cfg.PollInterval = 0
	_, err = NewTradingService(cfg, logger, exchange, nil, nil, nil)
	assert.Error(t, err)

	svc, err := NewTradingService(createTestConfig(), logger, exchange, nil, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc.Store())
}

func TestSwitch_OneWayDecisionTable(t *testing.T) {
	tests := []struct {
		name       string
		current    string
		action     string
		wantStatus domain.OutcomeStatus
		wantReason domain.SkipReason
		wantSide   domain.PositionSide
		wantClosed string
		wantDone   string
	}{
		{name: "flat buy opens long", current: "0", action: "BUY", wantStatus: domain.StatusOK, wantSide: domain.SideLong},
		{name: "flat sell opens short", current: "0", action: "SELL", wantStatus: domain.StatusOK, wantSide: domain.SideShort},
		{name: "long buy is skipped", current: "5", action: "BUY", wantStatus: domain.StatusSkipped, wantReason: domain.SkipAlreadyLong},
		{name: "short sell is skipped", current: "-5", action: "SELL", wantStatus: domain.StatusSkipped, wantReason: domain.SkipAlreadyShort},
		{name: "long sell switches", current: "5", action: "SELL", wantStatus: domain.StatusOK, wantSide: domain.SideShort, wantClosed: "close_long"},
		{name: "short buy switches", current: "-5", action: "BUY", wantStatus: domain.StatusOK, wantSide: domain.SideLong, wantClosed: "close_short"},
		{name: "buy stop while flat", current: "0", action: "BUY_STOP", wantStatus: domain.StatusSkipped, wantReason: domain.SkipNoLongPosition},
		{name: "buy stop while short", current: "-5", action: "BUY_STOP", wantStatus: domain.StatusSkipped, wantReason: domain.SkipNoLongPosition},
		{name: "buy stop while long", current: "5", action: "BUY_STOP", wantStatus: domain.StatusOK, wantDone: "buy_stop"},
		{name: "sell stop while long", current: "5", action: "SELL_STOP", wantStatus: domain.StatusSkipped, wantReason: domain.SkipNoShortPosition},
		{name: "sell stop while short", current: "-5", action: "sell_stop", wantStatus: domain.StatusOK, wantDone: "sell_stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.exchange.setPosition(dec(tt.current))

			out := h.signal(t, tt.action)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantReason, out.Reason)

			switch {
			case tt.wantSide != "":
				require.NotNil(t, out.Entry)
				assert.Equal(t, tt.wantSide, out.Entry.Side)
				assert.Equal(t, "ETHUSDT", out.Entry.Symbol)
				if tt.wantClosed != "" {
					require.NotNil(t, out.Entry.Closed)
					assert.Equal(t, tt.wantClosed, out.Entry.Closed.Done)
					// Position was opened outside this process, nothing to realize.
					assert.False(t, out.Entry.Closed.Applied)
				} else {
					assert.Nil(t, out.Entry.Closed)
				}
			case tt.wantDone != "":
				require.NotNil(t, out.Exit)
				assert.Equal(t, tt.wantDone, out.Exit.Done)
				assert.Len(t, h.exchange.marketOrders(), 1)
			default:
				assert.Empty(t, h.exchange.marketOrders())
			}
		})
	}
}

func TestSwitch_EntryPlacesLadder(t *testing.T) {
	h := newHarness(t, nil)

	out := h.signal(t, "BUY")
	require.Equal(t, domain.StatusOK, out.Status)
	require.NotNil(t, out.Entry)

	// 100 capital * 1.0 allocation * 10x / 2000 mark
	assert.True(t, out.Entry.FilledQty.Equal(dec("0.5")), out.Entry.FilledQty.String())
	assert.True(t, out.Entry.EntryPrice.Equal(dec("2000")))
	assert.Equal(t, 10, out.Entry.Leverage)
	assert.Equal(t, uint64(1), out.Entry.Generation)
	assert.NotZero(t, out.Entry.OrderIDs.TP1)
	assert.NotZero(t, out.Entry.OrderIDs.TP2)
	assert.NotZero(t, out.Entry.OrderIDs.SL)

	market := h.exchange.marketOrders()
	require.Len(t, market, 1)
	assert.Equal(t, domain.Buy, market[0].Side)
	assert.Equal(t, "0.500", market[0].Quantity)
	assert.Equal(t, domain.SideBoth, market[0].PositionSide)

	stops := h.exchange.stopOrders()
	require.Len(t, stops, 3)
	assert.Equal(t, ports.StopOrderRequest{Symbol: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeTakeProfitMarket, Quantity: "0.100", StopPrice: "2010.00", PositionSide: domain.SideBoth, ReduceOnly: true}, stops[0])
	assert.Equal(t, ports.StopOrderRequest{Symbol: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeTakeProfitMarket, Quantity: "0.160", StopPrice: "2024.00", PositionSide: domain.SideBoth, ReduceOnly: true}, stops[1])
	assert.Equal(t, ports.StopOrderRequest{Symbol: "ETHUSDT", Side: domain.Sell, Type: domain.OrderTypeStopMarket, Quantity: "0.500", StopPrice: "1990.00", PositionSide: domain.SideBoth, ReduceOnly: true}, stops[2])

	st := h.snapshot()
	assert.Equal(t, domain.SideLong, st.Side)
	assert.Equal(t, 1, st.TradeCount)
	assert.Equal(t, out.Entry.OrderIDs.TP1, st.FirstTP.OrderID)
	assert.Equal(t, []int{10}, h.exchange.leverages)
	assert.Positive(t, h.publisher.count())
}

func TestSwitch_TakeProfitRelocatesStop(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	ids := out.Entry.OrderIDs

	h.exchange.fill(ids.TP1)

	require.Eventually(t, func() bool {
		return h.snapshot().FirstTP.Done
	}, time.Second, 5*time.Millisecond)

	// 0.5% move * 10x on 20% of the fill
	st := h.snapshot()
	assert.True(t, st.Capital.Equal(dec("101")), st.Capital.String())
	assert.Equal(t, 1, st.FirstTPCount)
	assert.Equal(t, 0, st.SLCount)

	require.Eventually(t, func() bool {
		return h.exchange.wasCancelled(ids.SL) && len(h.exchange.stopOrders()) == 4
	}, time.Second, 5*time.Millisecond)
	relocated := h.exchange.stopOrders()[3]
	assert.Equal(t, domain.OrderTypeStopMarket, relocated.Type)
	assert.Equal(t, "2002.00", relocated.StopPrice)
	assert.Equal(t, "0.400", relocated.Quantity)

	// A stop out after TP1 closes the generation without touching capital again.
	h.exchange.stopOut(dec("2002"))
	require.Eventually(t, func() bool {
		return h.snapshot().Closed
	}, time.Second, 5*time.Millisecond)
	st = h.snapshot()
	assert.True(t, st.Capital.Equal(dec("101")), st.Capital.String())
	assert.Equal(t, 0, st.SLCount)
	assert.Equal(t, 1, h.journal.count())
}

func TestSwitch_StopLossRealizedOnFlat(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)

	h.exchange.stopOut(dec("1990"))

	require.Eventually(t, func() bool {
		return h.journal.count() == 1
	}, time.Second, 5*time.Millisecond)

	st := h.snapshot()
	assert.True(t, st.Closed)
	assert.True(t, st.Capital.Equal(dec("95")), st.Capital.String())
	assert.Equal(t, 1, st.SLCount)
	assert.Equal(t, 0, st.FirstTPCount)
	assert.True(t, st.StopLoss.Done)
	assert.True(t, st.DailyPnL.Equal(dec("-5")), st.DailyPnL.String())

	exits, err := h.journal.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitStopLoss, exits[0].Kind)
	assert.True(t, exits[0].ExitPrice.Equal(dec("1990")))
}

func TestSwitch_OppositeSignalRetiresMonitor(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	first := out.Entry.OrderIDs

	out = h.signal(t, "SELL")
	require.Equal(t, domain.StatusOK, out.Status)
	require.NotNil(t, out.Entry)
	require.NotNil(t, out.Entry.Closed)
	assert.Equal(t, "close_long", out.Entry.Closed.Done)
	assert.True(t, out.Entry.Closed.Applied)
	assert.Equal(t, domain.SideShort, out.Entry.Side)
	assert.Equal(t, uint64(2), out.Entry.Generation)

	// The ladder of the first generation was cancelled by the coordinator;
	// none of those cancellations may read as a take profit.
	assert.True(t, h.exchange.wasCancelled(first.TP1))
	assert.True(t, h.exchange.wasCancelled(first.TP2))
	assert.True(t, h.exchange.wasCancelled(first.SL))

	time.Sleep(50 * time.Millisecond)
	st := h.snapshot()
	assert.Equal(t, 0, st.FirstTPCount)
	assert.Equal(t, 0, st.SecondTPCount)
	assert.Equal(t, 1, st.SLCount)
	assert.Equal(t, 2, st.TradeCount)
	assert.True(t, st.Capital.Equal(dec("100")), st.Capital.String())
	assert.Equal(t, domain.ExitSwitch, h.journal.exits[0].Kind)
}

func TestSwitch_CloseRealizesLeveragedPnL(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.PollInterval = time.Hour })
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)

	// +0.5% on the whole position at 10x.
	h.exchange.setMark(dec("2010"))
	out = h.signal(t, "SELL")
	require.NotNil(t, out.Entry)
	require.NotNil(t, out.Entry.Closed)
	assert.True(t, out.Entry.Closed.PnL.Equal(dec("5")), out.Entry.Closed.PnL.String())

	st := h.snapshot()
	assert.True(t, st.Capital.Equal(dec("105")), st.Capital.String())
	exits, err := h.journal.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitSwitch, exits[0].Kind)
	assert.True(t, exits[0].PnL.Equal(dec("0.05")), exits[0].PnL.String())
}

func TestSwitch_CloseTimeoutSkipsEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.exchange.flattenOnClose = false
	h.exchange.setPosition(dec("5"))

	out := h.signal(t, "SELL")
	assert.Equal(t, domain.StatusSkipped, out.Status)
	assert.Equal(t, domain.SkipCloseFailed, out.Reason)

	market := h.exchange.marketOrders()
	require.Len(t, market, 1, "only the close is sent")
	assert.True(t, market[0].ReduceOnly)
	assert.Equal(t, 0, h.snapshot().TradeCount)
}

func TestSwitch_ZeroPositionSettlesRetiredGeneration(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.PollInterval = time.Hour })
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)

	// Stopped out on the exchange; the monitor has not polled yet.
	h.exchange.stopOut(dec("1990"))

	out = h.signal(t, "BUY")
	require.Equal(t, domain.StatusOK, out.Status)
	require.NotNil(t, out.Entry)
	assert.Equal(t, uint64(2), out.Entry.Generation)

	st := h.snapshot()
	assert.True(t, st.Capital.Equal(dec("95")), st.Capital.String())
	assert.Equal(t, 1, st.SLCount)
	assert.Equal(t, 2, st.TradeCount)
	assert.Equal(t, uint64(2), st.Generation)

	exits, err := h.journal.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.ExitStopLoss, exits[0].Kind)
	assert.Equal(t, uint64(1), exits[0].Generation)
	assert.True(t, exits[0].ExitPrice.Equal(dec("1990")))
}

func TestSwitch_FailedCloseIsReportedUnprotected(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)

	h.exchange.mu.Lock()
	h.exchange.marketErrs = []error{fmt.Errorf("close: %w", ports.ErrExchangeRejected)}
	h.exchange.mu.Unlock()

	_, err := h.svc.Switch(context.Background(), Signal{Symbol: "ETHUSDT", Action: "SELL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExchangeRejected)

	h.logger.mu.Lock()
	defer h.logger.mu.Unlock()
	assert.Contains(t, h.logger.errorMsgs, "closePosition: Close order failed, position left unprotected")
}

func TestSwitch_QuantityTooLow(t *testing.T) {
	h := newHarness(t, nil)
	h.exchange.setMark(dec("1000000000"))

	_, err := h.svc.Switch(context.Background(), Signal{Symbol: "ETHUSDT", Action: "BUY"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrQuantityTooLow)
	assert.Empty(t, h.exchange.marketOrders())
	assert.Equal(t, 0, h.snapshot().TradeCount)
}

func TestSwitch_EntryRetriesOnOverload(t *testing.T) {
	h := newHarness(t, nil)
	h.exchange.marketErrs = []error{ports.ErrExchangeOverloaded, ports.ErrExchangeOverloaded}

	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	assert.Len(t, h.exchange.marketOrders(), 3)

	h2 := newHarness(t, nil)
	h2.exchange.marketErrs = []error{ports.ErrExchangeOverloaded, ports.ErrExchangeOverloaded, ports.ErrExchangeOverloaded}
	_, err := h2.svc.Switch(context.Background(), Signal{Symbol: "ETHUSDT", Action: "BUY"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrExchangeOverloaded)
	assert.Len(t, h2.exchange.marketOrders(), 3)
	assert.Equal(t, 1, h2.snapshot().TradeCount)
}

func TestSwitch_ProtectiveLegAbandoned(t *testing.T) {
	h := newHarness(t, nil)
	// TP1 overloads twice then succeeds; TP2 is rejected outright.
	h.exchange.stopErrs = []error{ports.ErrExchangeOverloaded, ports.ErrExchangeOverloaded, nil, ports.ErrExchangeRejected}

	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	assert.NotZero(t, out.Entry.OrderIDs.TP1)
	assert.Zero(t, out.Entry.OrderIDs.TP2)
	assert.NotZero(t, out.Entry.OrderIDs.SL)
	assert.Len(t, h.exchange.stopOrders(), 5)
}

func TestSwitch_RejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out, err := h.svc.Switch(ctx, Signal{Symbol: "ETHUSDT", Action: "HOLD"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSkipped, out.Status)
	assert.Equal(t, domain.SkipUnknownAction, out.Reason)

	_, err = h.svc.Switch(ctx, Signal{Profile: "nope", Symbol: "ETHUSDT", Action: "BUY"})
	assert.ErrorIs(t, err, ports.ErrUnknownProfile)

	_, err = h.svc.Switch(ctx, Signal{Symbol: " ", Action: "BUY"})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = h.svc.Switch(ctx, Signal{Symbol: "ETHUSDT", Action: "BUY", Leverage: -1})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	assert.Zero(t, h.exchange.callCount())
}

func TestSwitch_DryRun(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.DryRun = true })

	out := h.signal(t, "BUY")
	assert.Equal(t, domain.StatusDryRun, out.Status)
	assert.Zero(t, h.exchange.callCount())
}

func TestSwitch_LeverageIsStickyOnlyWhileOpen(t *testing.T) {
	h := newHarness(t, nil)
	out, err := h.svc.Switch(context.Background(), Signal{Symbol: "ETHUSDT", Action: "BUY", Leverage: 20})
	require.NoError(t, err)
	require.NotNil(t, out.Entry)
	assert.Equal(t, 20, out.Entry.Leverage)

	// Open long ignores the new request.
	out, err = h.svc.Switch(context.Background(), Signal{Symbol: "ETHUSDT", Action: "BUY", Leverage: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.SkipAlreadyLong, out.Reason)
	assert.Equal(t, 20, h.snapshot().Leverage)
	assert.Equal(t, []int{20}, h.exchange.leverages)
}

func TestHedge_AddAndStop(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.HedgeMode = true })

	out := h.signal(t, "BUY")
	require.Equal(t, domain.StatusOK, out.Status)
	require.NotNil(t, out.Entry)
	assert.Equal(t, domain.SideLong, out.Entry.Side)
	assert.Zero(t, out.Entry.OrderIDs.TP1, "no ladder in hedge mode")
	assert.Empty(t, h.exchange.stopOrders())

	market := h.exchange.marketOrders()
	require.Len(t, market, 1)
	assert.Equal(t, domain.SideLong, market[0].PositionSide)
	assert.False(t, market[0].ReduceOnly)

	st := h.snapshot()
	assert.True(t, st.Long.Qty.Equal(dec("0.5")), st.Long.Qty.String())
	assert.Equal(t, 1, st.Long.Adds)

	out = h.signal(t, "SELL_STOP")
	assert.Equal(t, domain.SkipNoShortPosition, out.Reason)

	h.exchange.setMark(dec("2020"))
	out = h.signal(t, "BUY_STOP")
	require.Equal(t, domain.StatusOK, out.Status)
	require.NotNil(t, out.Exit)
	assert.Equal(t, "buy_stop", out.Exit.Done)
	// 1% * 10x minus 2 * 0.04% fee * 10x
	assert.True(t, out.Exit.PnL.Equal(dec("9.2")), out.Exit.PnL.String())

	st = h.snapshot()
	assert.True(t, st.Capital.Equal(dec("109.2")), st.Capital.String())
	assert.False(t, st.Long.IsOpen())
	require.Equal(t, 1, h.journal.count())
	assert.Equal(t, domain.ExitHedgeStop, h.journal.exits[0].Kind)
}

func TestHedge_LeverageFailureSkips(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.HedgeMode = true })
	h.exchange.leverageErr = ports.ErrExchangeRejected

	out := h.signal(t, "SELL")
	assert.Equal(t, domain.StatusSkipped, out.Status)
	assert.Equal(t, domain.SkipLeverageFailed, out.Reason)
	assert.Empty(t, h.exchange.marketOrders())
}

func TestReportPeriod(t *testing.T) {
	seoul := time.FixedZone("KST", 9*60*60)

	start, end := ReportPeriod(time.Date(2024, 3, 10, 8, 0, 0, 0, seoul), seoul, 9)
	assert.Equal(t, time.Date(2024, 3, 9, 9, 0, 0, 0, seoul), end)
	assert.Equal(t, time.Date(2024, 3, 8, 9, 0, 0, 0, seoul), start)

	start, end = ReportPeriod(time.Date(2024, 3, 10, 9, 30, 0, 0, seoul), seoul, 9)
	assert.Equal(t, time.Date(2024, 3, 10, 9, 0, 0, 0, seoul), end)
	assert.Equal(t, time.Date(2024, 3, 9, 9, 0, 0, 0, seoul), start)
}

func TestReports_ResetKeepsCapital(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	h.exchange.stopOut(dec("1990"))
	require.Eventually(t, func() bool { return h.snapshot().Closed }, time.Second, 5*time.Millisecond)

	reports, err := h.svc.Reports(context.Background(), "", "", true)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "ETHUSDT", r.Symbol)
	assert.Equal(t, 1, r.TradeCount)
	assert.Equal(t, 1, r.SLCount)
	assert.True(t, r.CumulativeReturn.Equal(dec("-5")), r.CumulativeReturn.String())
	assert.True(t, r.Reset)

	st := h.snapshot()
	assert.Equal(t, 0, st.TradeCount)
	assert.Equal(t, 0, st.SLCount)
	assert.True(t, st.Capital.Equal(dec("95")))

	_, err = h.svc.Reports(context.Background(), "nope", "", false)
	assert.ErrorIs(t, err, ports.ErrUnknownProfile)
}

func TestReports_UnknownSymbolIsNotCreated(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Reports(context.Background(), "", "DOGE/USDT", false)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	_, err = h.svc.Reports(context.Background(), "", "DOGE/USDT", true)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Empty(t, h.svc.Status())

	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	reports, err := h.svc.Reports(context.Background(), "", "eth/usdt", false)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].TradeCount)
	assert.Len(t, h.svc.Status(), 1)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	h.exchange.stopOut(dec("1990"))
	require.Eventually(t, func() bool { return h.journal.count() == 1 }, time.Second, 5*time.Millisecond)

	hist, err := h.svc.History(context.Background(), "", "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, hist.Exits, 1)
	assert.Equal(t, 1, hist.Performance.TotalExits)
	assert.Equal(t, 1, hist.Performance.LosingExits)

	svc, err := NewTradingService(createTestConfig(), &mockLogger{}, newMockExchange(), nil, nil, nil)
	require.NoError(t, err)
	_, err = svc.History(context.Background(), "", "ETHUSDT", 10)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestRefreshPrices(t *testing.T) {
	h := newHarness(t, nil)
	out := h.signal(t, "BUY")
	require.NotNil(t, out.Entry)
	published := h.publisher.count()

	h.exchange.setMark(dec("2010"))
	h.svc.refreshPrices(context.Background())

	st := h.snapshot()
	assert.True(t, st.CurrentPrice.Equal(dec("2010")))
	assert.True(t, st.UnrealizedPct.Equal(dec("5")), st.UnrealizedPct.String())
	assert.Equal(t, published+1, h.publisher.count())

	views := h.svc.Status()
	require.Len(t, views, 1)
	assert.Equal(t, "ETHUSDT", views[0].Symbol)
}
