package app

import (
	"context"
	"errors" // Need for error checking in cancelOrderWarn
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/config"
	"hookTrader/internal/domain"
	"hookTrader/internal/observability"
	"hookTrader/internal/ports"
	"hookTrader/internal/retry"
	"hookTrader/internal/state"
)

// Signal is an inbound webhook request.
type Signal struct {
	Profile  string // Empty selects the default profile
	Symbol   string
	Action   string
	Leverage int // Zero keeps the recorded leverage
}

// TradingService orchestrates the position lifecycle for every (profile, symbol).
type TradingService struct {
	cfg       *config.Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	journal   ports.ExitJournal       // Optional
	publisher ports.SnapshotPublisher // Optional
	metrics   *observability.Metrics  // Optional
	store     *state.Store

	entryPolicy      retry.Policy
	protectivePolicy retry.Policy

	// Serialises signals per key. Monitors do not take these locks.
	locksMu  sync.Mutex
	keyLocks map[domain.Key]*sync.Mutex

	// Background tasks (monitors, price watcher) run on baseCtx.
	baseCtx  context.Context
	cancel   context.CancelFunc
	tasks    sync.WaitGroup
	stopOnce sync.Once
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	journal ports.ExitJournal,
	publisher ports.SnapshotPublisher,
	metrics *observability.Metrics,
) (*TradingService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || exchange == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}

	// Validate config values needed by service
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("at least one profile must be configured")
	}
	if _, ok := cfg.Profile(""); !ok {
		return nil, fmt.Errorf("default profile %q is not configured", cfg.DefaultProfile)
	}
	if cfg.PollInterval <= 0 || cfg.MaxWait <= 0 {
		return nil, fmt.Errorf("configuration PollInterval and MaxWait must be positive")
	}
	if cfg.EntryMaxAttempts <= 0 {
		return nil, fmt.Errorf("configuration EntryMaxAttempts must be positive")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &TradingService{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		journal:   journal,
		publisher: publisher,
		metrics:   metrics,
		keyLocks:  make(map[domain.Key]*sync.Mutex),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
	s.store = state.NewStore(s.newSymbolState)

	s.entryPolicy = retry.Bounded(cfg.EntryMaxAttempts, cfg.EntryBackoff)
	s.entryPolicy.Name = "entry"
	s.entryPolicy.OnRetry = s.onRetry("entry")
	s.protectivePolicy = retry.Unbounded(cfg.ProtectiveRetry)
	s.protectivePolicy.Name = "protective"
	s.protectivePolicy.OnRetry = s.onRetry("protective")

	return s, nil
}

// newSymbolState seeds a ledger from the key's profile.
func (s *TradingService) newSymbolState(key domain.Key, now time.Time) *domain.SymbolState {
	p, ok := s.cfg.Profiles[key.Profile]
	if !ok {
		p, _ = s.cfg.Profile("")
	}
	return domain.NewSymbolState(key, p.InitialCapital, p.Compounding, p.Leverage, now)
}

func (s *TradingService) onRetry(policy string) func(attempt int, wait time.Duration, err error) {
	return func(attempt int, wait time.Duration, err error) {
		s.logger.Warn(s.baseCtx, "retry: exchange overloaded, backing off", map[string]interface{}{
			"policy":  policy,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
		s.metrics.ObserveRetry(policy)
	}
}

// Store exposes the ledgers for reporting.
func (s *TradingService) Store() *state.Store {
	return s.store
}

// Start prepares the exchange account and launches the price watcher.
func (s *TradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"hedgeMode": s.cfg.HedgeMode,
		"dryRun":    s.cfg.DryRun,
		"profiles":  len(s.cfg.Profiles),
	})

	// --- Initialization Steps ---
	if !s.cfg.DryRun {
		// 1. Set server time (important for API calls)
		if err := s.exchange.SetServerTime(ctx); err != nil {
			s.logger.Error(ctx, err, "Failed to synchronize server time")
			return fmt.Errorf("failed to set server time: %w", err)
		}
		s.logger.Info(ctx, "Server time synchronized")

		// 2. Position mode follows HEDGE_MODE for the whole account
		if err := s.exchange.SetPositionMode(ctx, s.cfg.HedgeMode); err != nil {
			s.logger.Error(ctx, err, "Failed to set position mode", map[string]interface{}{"hedge": s.cfg.HedgeMode})
			return fmt.Errorf("failed to set position mode: %w", err)
		}
	}

	// 3. Price display loop
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.WatchPrices(s.baseCtx)
	}()

	s.logger.Info(ctx, "Trading Service started")
	return nil
}

// Stop cancels monitors and the price watcher and waits for them to exit.
func (s *TradingService) Stop(ctx context.Context) error {
	s.stopOnce.Do(s.cancel)
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info(ctx, "Trading Service stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}

// Switch handles one signal and returns its outcome. Failures are returned as errors.
func (s *TradingService) Switch(ctx context.Context, sig Signal) (domain.Outcome, error) {
	op := "Switch"

	action, ok := domain.ParseAction(sig.Action)
	if !ok {
		s.logger.Warn(ctx, op+": Unknown action, skipping", map[string]interface{}{"action": sig.Action, "symbol": sig.Symbol})
		s.metrics.ObserveSignal(sig.Profile, string(domain.SkipUnknownAction))
		return domain.Skipped(domain.SkipUnknownAction), nil
	}
	profile, ok := s.cfg.Profile(sig.Profile)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%s: %w: %q", op, ports.ErrUnknownProfile, sig.Profile)
	}
	symbol := domain.NormalizeSymbol(sig.Symbol)
	if symbol == "" {
		return domain.Outcome{}, fmt.Errorf("%s: %w: empty symbol", op, ports.ErrInvalidRequest)
	}
	if sig.Leverage < 0 {
		return domain.Outcome{}, fmt.Errorf("%s: %w: negative leverage", op, ports.ErrInvalidRequest)
	}

	fields := map[string]interface{}{"profile": profile.Name, "symbol": symbol, "action": action, "leverage": sig.Leverage}
	if s.cfg.DryRun {
		s.logger.Info(ctx, op+": Dry run, signal acknowledged without exchange calls", fields)
		s.metrics.ObserveSignal(profile.Name, string(domain.StatusDryRun))
		return domain.DryRun(), nil
	}
	s.logger.Info(ctx, op+": Handling signal", fields)

	key := domain.Key{Profile: profile.Name, Symbol: symbol}
	unlock := s.lockKey(key)
	defer unlock()

	var out domain.Outcome
	var err error
	if s.cfg.HedgeMode {
		out, err = s.switchHedge(ctx, key, profile, action, sig.Leverage)
	} else {
		out, err = s.switchOneWay(ctx, key, profile, action, sig.Leverage)
	}

	switch {
	case err != nil:
		s.logger.Error(ctx, err, op+": Signal failed", fields)
		s.metrics.ObserveSignal(profile.Name, "error")
	case out.Status == domain.StatusSkipped:
		fields["reason"] = out.Reason
		s.logger.Info(ctx, op+": Signal skipped", fields)
		s.metrics.ObserveSignal(profile.Name, string(out.Reason))
	default:
		s.logger.Info(ctx, op+": Signal handled", fields)
		s.metrics.ObserveSignal(profile.Name, string(out.Status))
	}
	s.metrics.SetCapital(key, s.store.Snapshot(key).Capital)
	s.publishSnapshots()
	return out, err
}

func (s *TradingService) lockKey(key domain.Key) func() {
	s.locksMu.Lock()
	mu, ok := s.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keyLocks[key] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// recordExit counts an applied exit and appends it to the journal.
func (s *TradingService) recordExit(ctx context.Context, rec *domain.ExitRecord) {
	op := "recordExit"
	if rec == nil {
		return
	}
	s.metrics.ObserveExit(rec)
	s.logger.Info(ctx, op+": Exit applied to capital", map[string]interface{}{
		"profile":       rec.Profile,
		"symbol":        rec.Symbol,
		"kind":          rec.Kind,
		"generation":    rec.Generation,
		"exitPrice":     rec.ExitPrice.String(),
		"pnlPct":        rec.PnL.Shift(2).String(),
		"capitalBefore": rec.CapitalBefore.String(),
		"capitalAfter":  rec.CapitalAfter.String(),
	})
	if s.journal == nil {
		return
	}
	id, err := s.journal.RecordExit(ctx, rec)
	if err != nil {
		s.metrics.ObserveJournalError()
		s.logger.Error(ctx, err, op+": Failed to journal exit", map[string]interface{}{"symbol": rec.Symbol, "kind": rec.Kind})
		return
	}
	rec.ID = id
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (s *TradingService) cancelOrderWarn(ctx context.Context, symbol string, orderID int64, orderType string) error {
	op := "cancelOrderWarn"
	s.logger.Info(ctx, op+": Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID, "type": orderType})
	_, err := s.exchange.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		// Ignore "Order does not exist" errors, as it might have already been filled or cancelled.
		if errors.Is(err, ports.ErrOrderNotFound) {
			s.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"orderID": orderID, "type": orderType})
			return nil // Not an error in this context
		}
		s.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"orderID": orderID, "type": orderType})
		return err // Return other errors
	}
	s.logger.Info(ctx, op+": Order cancelled successfully", map[string]interface{}{"orderID": orderID, "type": orderType})
	return nil
}

// cancelReduceOnly cancels every reduce-only order resting on the symbol.
// A listing failure is logged; cleanup is best effort.
func (s *TradingService) cancelReduceOnly(ctx context.Context, symbol string) {
	op := "cancelReduceOnly"
	orders, err := s.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		s.logger.Warn(ctx, op+": Could not list open orders", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}
	for _, o := range orders {
		if !o.ReduceOnly && !o.ClosePosition {
			continue
		}
		_ = s.cancelOrderWarn(ctx, symbol, o.OrderID, o.Type)
	}
}

// fillPrice resolves an execution price: volume-weighted fills, then the
// order average, then fallback, then a fresh mark price.
func (s *TradingService) fillPrice(ctx context.Context, symbol string, order *ports.OrderResponse, fallback decimal.Decimal) decimal.Decimal {
	if order != nil {
		if vwap, ok := volumeWeighted(order.Fills); ok {
			return vwap
		}
		if order.AvgPrice.IsPositive() {
			return order.AvgPrice
		}
	}
	if fallback.IsPositive() {
		return fallback
	}
	mark, err := s.exchange.GetMarkPrice(ctx, symbol)
	if err != nil {
		s.logger.Warn(ctx, "fillPrice: No fill price and mark price unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return decimal.Zero
	}
	return mark
}

// fillQty resolves the executed quantity: sum of fills, then executed qty, then requested.
func fillQty(order *ports.OrderResponse, requested decimal.Decimal) decimal.Decimal {
	if order == nil {
		return requested
	}
	sum := decimal.Zero
	for _, f := range order.Fills {
		sum = sum.Add(f.Qty)
	}
	if sum.IsPositive() {
		return sum
	}
	if order.ExecutedQty.IsPositive() {
		return order.ExecutedQty
	}
	return requested
}

func volumeWeighted(fills []ports.Fill) (decimal.Decimal, bool) {
	notional, qty := decimal.Zero, decimal.Zero
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(f.Qty))
		qty = qty.Add(f.Qty)
	}
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}
