package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
)

// Fill is one execution reported for an order.
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64           // Exchange's order ID
	Symbol        string          // Symbol for the order
	ClientOrderID string          // User-defined order ID
	Price         decimal.Decimal // Price of the order (zero for market orders)
	StopPrice     decimal.Decimal // Trigger price for stop/take-profit orders
	AvgPrice      decimal.Decimal // Average filled price, zero if not reported
	OrigQuantity  decimal.Decimal // Original quantity requested
	ExecutedQty   decimal.Decimal // Quantity filled, zero if not reported
	Fills         []Fill          // Fill breakdown, empty if not reported
	Status        string          // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string          // Order type (e.g., MARKET, STOP_MARKET)
	Side          string          // Order side (BUY, SELL)
	PositionSide  string          // BOTH, LONG or SHORT
	ReduceOnly    bool
	Timestamp     time.Time // Time the order response was generated
}

// OpenOrder is an order resting on the exchange.
type OpenOrder struct {
	OrderID       int64
	Symbol        string
	Type          string
	Side          string
	PositionSide  string
	StopPrice     decimal.Decimal
	OrigQuantity  decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
}

// PositionRisk represents the exchange view of one position leg.
type PositionRisk struct {
	Symbol           string
	PositionSide     domain.PositionSide
	PositionAmt      decimal.Decimal // Positive for long, negative for short
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnRealizedProfit decimal.Decimal
	LiquidationPrice decimal.Decimal
	Leverage         int
}

// MarketOrderRequest describes a market order.
type MarketOrderRequest struct {
	Symbol       string
	Side         domain.OrderSide
	Quantity     string // Pre-formatted to the symbol's step precision
	PositionSide domain.PositionSide
	ReduceOnly   bool
}

// StopOrderRequest describes a STOP_MARKET or TAKE_PROFIT_MARKET order.
type StopOrderRequest struct {
	Symbol       string
	Side         domain.OrderSide
	Type         domain.OrderType
	Quantity     string // Pre-formatted to the symbol's step precision
	StopPrice    string // Pre-formatted to the symbol's tick precision
	PositionSide domain.PositionSide
	ReduceOnly   bool
}

// ExchangeClient defines the interface for interacting with the futures exchange.
// This abstraction allows decoupling the lifecycle logic from the Binance implementation.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// SetPositionMode switches the account between one-way and hedge mode.
	// Implementations treat "no change needed" as success.
	SetPositionMode(ctx context.Context, hedge bool) error

	// SetLeverage sets the leverage for a specific symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetSymbolFilters returns the lot size and price filters for the symbol.
	GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error)

	// GetOpenOrders lists resting orders on the symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResponse, error)

	// PlaceMarketOrder places a market order and returns its fill details.
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResponse, error)

	// PlaceStopOrder places a reduce-only stop or take-profit market order.
	PlaceStopOrder(ctx context.Context, req StopOrderRequest) (*OrderResponse, error)

	// GetPositions returns every position leg for the symbol, including flat ones.
	GetPositions(ctx context.Context, symbol string) ([]PositionRisk, error)

	// GetPositionAmount returns the signed amount held on the given side.
	// SideBoth is the one-way position.
	GetPositionAmount(ctx context.Context, symbol string, side domain.PositionSide) (decimal.Decimal, error)
}
