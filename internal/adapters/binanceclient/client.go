package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	clientOrderPrefix = "hk-"
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	filtersMu sync.RWMutex
	filters   map[string]*domain.SymbolFilters
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		filters:       make(map[string]*domain.SymbolFilters),
	}, nil
}

// mapAPICode translates Binance API error codes into ports errors.
func mapAPICode(code int64) error {
	switch code {
	case -1008: // Server is currently overloaded with other requests
		return ports.ErrExchangeOverloaded
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1021: // Timestamp for this request is outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	case -2010, -2021, -2022: // New order rejected, would immediately trigger, ReduceOnly rejected
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041, -4047: // Margin or position insufficient
		return ports.ErrInsufficientFunds
	case -4003, -4014, -4015: // Qty, price or leverage out of range
		return ports.ErrInvalidRequest
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	case -4059: // No need to change position side
		return ports.ErrNoChangeNeeded
	default:
		return ports.ErrUnknown
	}
}

// handleError translates common Binance API errors into standardized ports errors.
// Every API error other than overload also carries ports.ErrExchangeRejected.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPICode(apiErr.Code)
		var finalErr error
		switch mappedErr {
		case ports.ErrExchangeOverloaded:
			finalErr = fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
			c.logger.Warn(ctx, operation+": exchange overloaded", fields)
			return finalErr
		case ports.ErrNoChangeNeeded:
			finalErr = fmt.Errorf("%s: %w: %w", operation, mappedErr, err)
			c.logger.Debug(ctx, operation+": no change needed", fields)
			return finalErr
		default:
			finalErr = fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchangeRejected, mappedErr, err)
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// SetPositionMode switches between one-way and hedge (dual side) mode.
func (c *Client) SetPositionMode(ctx context.Context, hedge bool) error {
	op := "SetPositionMode"
	err := c.futuresClient.NewChangePositionModeService().DualSide(hedge).Do(ctx)
	if err != nil {
		mapped := c.handleError(ctx, err, op)
		if errors.Is(mapped, ports.ErrNoChangeNeeded) {
			c.logger.Info(ctx, op+": already in requested mode", map[string]interface{}{"hedge": hedge})
			return nil
		}
		return mapped
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"hedge": hedge})
	return nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return decimal.Zero, c.handleError(ctx, err, op)
	}

	price, err := decimal.NewFromString(tickers[0].MarkPrice)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return decimal.Zero, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetSymbolFilters returns the LOT_SIZE and PRICE_FILTER values for a symbol.
// Results are cached for the client's lifetime.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	op := "GetSymbolFilters"
	c.filtersMu.RLock()
	cached, ok := c.filters[symbol]
	c.filtersMu.RUnlock()
	if ok {
		return cached, nil
	}

	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	c.filtersMu.Lock()
	defer c.filtersMu.Unlock()
	for _, s := range info.Symbols {
		f, err := parseFilters(s.Symbol, s.Filters)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping symbol with unreadable filters", map[string]interface{}{"symbol": s.Symbol, "error": err.Error()})
			continue
		}
		c.filters[s.Symbol] = f
	}
	f, ok := c.filters[symbol]
	if !ok {
		return nil, fmt.Errorf("%s failed: %w: %s", op, ports.ErrSymbolNotFound, symbol)
	}
	c.logger.Debug(ctx, op+" loaded", map[string]interface{}{"symbol": symbol, "step": f.StepSize.String(), "minQty": f.MinQty.String(), "tick": f.TickSize.String()})
	return f, nil
}

// GetOpenOrders lists resting orders on the symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.OpenOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, ports.OpenOrder{
			OrderID:       o.OrderID,
			Symbol:        o.Symbol,
			Type:          string(o.Type),
			Side:          string(o.Side),
			PositionSide:  string(o.PositionSide),
			StopPrice:     parseDecimal(o.StopPrice),
			OrigQuantity:  parseDecimal(o.OrigQuantity),
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
		})
	}
	return out, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResponse, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		// handleError maps -2013 to ErrOrderNotFound.
		return nil, c.handleError(ctx, err, op)
	}

	resp := &ports.OrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         parseDecimal(res.Price),
		StopPrice:     parseDecimal(res.StopPrice),
		OrigQuantity:  parseDecimal(res.OrigQuantity),
		ExecutedQty:   parseDecimal(res.ExecutedQuantity),
		Status:        string(res.Status),
		Type:          string(res.Type),
		Side:          string(res.Side),
		PositionSide:  string(res.PositionSide),
		ReduceOnly:    res.ReduceOnly,
		Timestamp:     time.UnixMilli(res.UpdateTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// PlaceMarketOrder places a market order and attaches the fill breakdown when the
// exchange reports it.
func (c *Client) PlaceMarketOrder(ctx context.Context, req ports.MarketOrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	sentAt := time.Now().Add(-time.Second)

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity).
		NewClientOrderID(newClientOrderID()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	svc = withPositionSide(svc, req.PositionSide, req.ReduceOnly)

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	resp.Fills = c.fillsForOrder(ctx, req.Symbol, resp.OrderID, sentAt)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":       req.Symbol,
		"side":         req.Side,
		"positionSide": req.PositionSide,
		"quantity":     req.Quantity,
		"reduceOnly":   req.ReduceOnly,
		"orderID":      resp.OrderID,
		"avgPrice":     resp.AvgPrice.String(),
		"executedQty":  resp.ExecutedQty.String(),
		"fills":        len(resp.Fills),
	})
	return resp, nil
}

// PlaceStopOrder places a STOP_MARKET or TAKE_PROFIT_MARKET order triggered by mark price.
func (c *Client) PlaceStopOrder(ctx context.Context, req ports.StopOrderRequest) (*ports.OrderResponse, error) {
	op := "PlaceStopOrder"
	c.logger.Debug(ctx, op+": Attempting to place order", map[string]interface{}{
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"quantity":  req.Quantity,
		"stopPrice": req.StopPrice,
	})

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Quantity).
		StopPrice(req.StopPrice).
		WorkingType(futures.WorkingTypeMarkPrice).
		NewClientOrderID(newClientOrderID())
	svc = withPositionSide(svc, req.PositionSide, req.ReduceOnly)

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    req.Symbol,
		"side":      req.Side,
		"type":      req.Type,
		"quantity":  req.Quantity,
		"stopPrice": req.StopPrice,
		"orderID":   resp.OrderID,
		"status":    resp.Status,
	})
	return resp, nil
}

// GetPositions returns every position leg reported for the symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]ports.PositionRisk, error) {
	op := "GetPositions"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]ports.PositionRisk, 0, len(positions))
	for _, p := range positions {
		if p == nil {
			continue
		}
		out = append(out, translatePositionRisk(p))
	}
	return out, nil
}

// GetPositionAmount returns the signed amount on the requested side, zero when flat.
func (c *Client) GetPositionAmount(ctx context.Context, symbol string, side domain.PositionSide) (decimal.Decimal, error) {
	positions, err := c.GetPositions(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return AmountForSide(positions, side), nil
}

// AmountForSide picks the amount of one position leg. A missing leg is flat.
func AmountForSide(positions []ports.PositionRisk, side domain.PositionSide) decimal.Decimal {
	for _, p := range positions {
		if p.PositionSide == side {
			return p.PositionAmt
		}
	}
	return decimal.Zero
}

// fillsForOrder reads the trade list for the order. Failures are logged and
// yield no fills so callers fall back to the average price.
func (c *Client) fillsForOrder(ctx context.Context, symbol string, orderID int64, since time.Time) []ports.Fill {
	op := "fillsForOrder"
	trades, err := c.futuresClient.NewListAccountTradeService().
		Symbol(symbol).
		StartTime(since.UnixMilli()).
		Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, op+": could not load fills, using order average", map[string]interface{}{"symbol": symbol, "orderID": orderID, "error": err.Error()})
		return nil
	}
	var fills []ports.Fill
	for _, t := range trades {
		if t.OrderID != orderID {
			continue
		}
		fills = append(fills, ports.Fill{Price: parseDecimal(t.Price), Qty: parseDecimal(t.Quantity)})
	}
	return fills
}

// withPositionSide sets positionSide for hedge mode. Binance rejects
// reduceOnly together with LONG/SHORT, so it is only sent in one-way mode.
func withPositionSide(svc *futures.CreateOrderService, side domain.PositionSide, reduceOnly bool) *futures.CreateOrderService {
	if side == domain.SideLong || side == domain.SideShort {
		return svc.PositionSide(futures.PositionSideType(side))
	}
	if reduceOnly {
		return svc.ReduceOnly(true)
	}
	return svc
}

func newClientOrderID() string {
	return clientOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// --- Translation Helpers ---

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// parseFilters reads LOT_SIZE and PRICE_FILTER from the raw exchange info filters.
func parseFilters(symbol string, raw []map[string]interface{}) (*domain.SymbolFilters, error) {
	f := &domain.SymbolFilters{Symbol: symbol}
	for _, filter := range raw {
		switch filter["filterType"] {
		case "LOT_SIZE":
			f.StepSize = parseDecimal(stringField(filter, "stepSize"))
			f.MinQty = parseDecimal(stringField(filter, "minQty"))
		case "PRICE_FILTER":
			f.TickSize = parseDecimal(stringField(filter, "tickSize"))
		}
	}
	if !f.StepSize.IsPositive() || !f.TickSize.IsPositive() {
		return nil, fmt.Errorf("missing LOT_SIZE or PRICE_FILTER for %s", symbol)
	}
	return f, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         parseDecimal(order.Price),
		StopPrice:     parseDecimal(order.StopPrice),
		AvgPrice:      parseDecimal(order.AvgPrice),
		OrigQuantity:  parseDecimal(order.OrigQuantity),
		ExecutedQty:   parseDecimal(order.ExecutedQuantity),
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		PositionSide:  string(order.PositionSide),
		ReduceOnly:    order.ReduceOnly,
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translatePositionRisk(pos *futures.PositionRisk) ports.PositionRisk {
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance
	side := domain.PositionSide(pos.PositionSide)
	if side == "" {
		side = domain.SideBoth
	}
	return ports.PositionRisk{
		Symbol:           pos.Symbol,
		PositionSide:     side,
		PositionAmt:      parseDecimal(pos.PositionAmt),
		EntryPrice:       parseDecimal(pos.EntryPrice),
		MarkPrice:        parseDecimal(pos.MarkPrice),
		UnRealizedProfit: parseDecimal(pos.UnRealizedProfit),
		LiquidationPrice: parseDecimal(pos.LiquidationPrice),
		Leverage:         leverage,
	}
}
