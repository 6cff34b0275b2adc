package binanceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// newTestClient points a client at handler.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "key", SecretKey: "secret", UseTestnet: true, Logger: nopLogger{}})
	require.NoError(t, err)
	c.futuresClient.BaseURL = srv.URL
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{APIKey: "k", SecretKey: "s"})
	assert.Error(t, err)
}

func TestMapAPICode(t *testing.T) {
	tests := []struct {
		code int64
		want error
	}{
		{-1008, ports.ErrExchangeOverloaded},
		{-1003, ports.ErrRateLimited},
		{-2013, ports.ErrOrderNotFound},
		{-2019, ports.ErrInsufficientFunds},
		{-4059, ports.ErrNoChangeNeeded},
		{-1111, ports.ErrInvalidRequest},
		{-9999, ports.ErrUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapAPICode(tt.code), "code %d", tt.code)
	}
}

func TestHandleError(t *testing.T) {
	c := &Client{logger: nopLogger{}}
	ctx := context.Background()

	overloaded := c.handleError(ctx, &common.APIError{Code: -1008, Message: "Server is currently overloaded"}, "PlaceMarketOrder")
	assert.ErrorIs(t, overloaded, ports.ErrExchangeOverloaded)
	assert.False(t, errors.Is(overloaded, ports.ErrExchangeRejected), "overload must stay retryable")

	rejected := c.handleError(ctx, &common.APIError{Code: -2019, Message: "Margin is insufficient."}, "PlaceMarketOrder")
	assert.ErrorIs(t, rejected, ports.ErrExchangeRejected)
	assert.ErrorIs(t, rejected, ports.ErrInsufficientFunds)

	assert.ErrorIs(t, c.handleError(ctx, context.DeadlineExceeded, "op"), ports.ErrTimeout)
	assert.ErrorIs(t, c.handleError(ctx, context.Canceled, "op"), ports.ErrContextCanceled)
	assert.ErrorIs(t, c.handleError(ctx, errors.New("dial tcp: connection refused"), "op"), ports.ErrConnectionFailed)
	assert.Nil(t, c.handleError(ctx, nil, "op"))
}

func TestParseFilters(t *testing.T) {
	raw := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.01", "minPrice": "39.86"},
		{"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001", "maxQty": "10000"},
		{"filterType": "MIN_NOTIONAL", "notional": "20"},
	}
	f, err := parseFilters("ETHUSDT", raw)
	require.NoError(t, err)
	assert.True(t, f.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, f.MinQty.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, f.TickSize.Equal(decimal.RequireFromString("0.01")))

	_, err = parseFilters("BROKEN", raw[:1])
	assert.Error(t, err)
}

func TestAmountForSide(t *testing.T) {
	positions := []ports.PositionRisk{
		{PositionSide: domain.SideLong, PositionAmt: decimal.RequireFromString("0.5")},
		{PositionSide: domain.SideShort, PositionAmt: decimal.RequireFromString("-0.2")},
	}
	assert.Equal(t, "0.5", AmountForSide(positions, domain.SideLong).String())
	assert.Equal(t, "-0.2", AmountForSide(positions, domain.SideShort).String())
	assert.True(t, AmountForSide(positions, domain.SideBoth).IsZero())
}

func TestTranslatePositionRisk(t *testing.T) {
	got := translatePositionRisk(&futures.PositionRisk{
		Symbol:           "ETHUSDT",
		PositionAmt:      "-0.250",
		EntryPrice:       "2000.5",
		MarkPrice:        "1990",
		UnRealizedProfit: "2.625",
		Leverage:         "10",
	})
	assert.Equal(t, domain.SideBoth, got.PositionSide)
	assert.Equal(t, 10, got.Leverage)
	assert.True(t, got.PositionAmt.Equal(decimal.RequireFromString("-0.25")))
	assert.True(t, got.UnRealizedProfit.Equal(decimal.RequireFromString("2.625")))
}

func TestGetMarkPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/premiumIndex"), r.URL.Path)
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","markPrice":"2001.25","indexPrice":"2001.00","lastFundingRate":"0.0001","nextFundingTime":0,"time":0}`))
	})
	price, err := c.GetMarkPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "2001.25", price.String())
}

func TestGetPositionAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/positionRisk"), r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"symbol":"ETHUSDT","positionSide":"LONG","positionAmt":"0.300","entryPrice":"2000","markPrice":"2010","unRealizedProfit":"3","liquidationPrice":"0","leverage":"10"},
			{"symbol":"ETHUSDT","positionSide":"SHORT","positionAmt":"0.000","entryPrice":"0","markPrice":"2010","unRealizedProfit":"0","liquidationPrice":"0","leverage":"10"}
		]`))
	})
	amt, err := c.GetPositionAmount(context.Background(), "ETHUSDT", domain.SideLong)
	require.NoError(t, err)
	assert.Equal(t, "0.3", amt.String())

	amt, err = c.GetPositionAmount(context.Background(), "ETHUSDT", domain.SideShort)
	require.NoError(t, err)
	assert.True(t, amt.IsZero())
}

func TestCancelOrder_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	})
	_, err := c.CancelOrder(context.Background(), "ETHUSDT", 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderNotFound)
}

func TestSetPositionMode_NoChangeIsSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-4059,"msg":"No need to change position side."}`))
	})
	assert.NoError(t, c.SetPositionMode(context.Background(), true))
}
