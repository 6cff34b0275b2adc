// Package sizing converts capital into exchange-valid order quantities.
package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"hookTrader/internal/domain"
	"hookTrader/internal/ports"
)

// Quantity returns base*allocation*leverage/mark floored to the step.
// It fails with ports.ErrQuantityTooLow when the result is below min qty.
func Quantity(base decimal.Decimal, leverage int, allocation, mark decimal.Decimal, f domain.SymbolFilters) (decimal.Decimal, error) {
	if !mark.IsPositive() {
		return decimal.Zero, fmt.Errorf("mark price must be positive, got %s: %w", mark, ports.ErrInvalidRequest)
	}
	if leverage <= 0 {
		return decimal.Zero, fmt.Errorf("leverage must be positive, got %d: %w", leverage, ports.ErrInvalidRequest)
	}
	raw := base.Mul(allocation).Mul(decimal.NewFromInt(int64(leverage))).Div(mark)
	qty := FloorToStep(raw, f.StepSize)
	if !qty.IsPositive() || qty.LessThan(f.MinQty) {
		return decimal.Zero, fmt.Errorf("%s qty %s (raw %s) below min %s: %w", f.Symbol, qty, raw, f.MinQty, ports.ErrQuantityTooLow)
	}
	return qty, nil
}

// FloorToStep rounds v toward zero to a multiple of step.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Truncate(0).Mul(step)
}

// CeilToTick rounds v up to a multiple of tick.
func CeilToTick(v, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return v
	}
	return v.Div(tick).Ceil().Mul(tick)
}

// Precision is the number of decimal places in the filter value as the
// exchange wrote it, e.g. "0.00100000" -> 3.
func Precision(filter decimal.Decimal) int32 {
	s := filter.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// FormatQty renders a quantity with the step's precision.
func FormatQty(qty decimal.Decimal, f domain.SymbolFilters) string {
	return qty.StringFixed(Precision(f.StepSize))
}

// FormatPrice renders a price with the tick's precision.
func FormatPrice(price decimal.Decimal, f domain.SymbolFilters) string {
	return price.StringFixed(Precision(f.TickSize))
}
