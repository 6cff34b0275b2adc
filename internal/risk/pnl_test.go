package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hookTrader/internal/domain"
)

func TestLegFraction_TP1Scenario(t *testing.T) {
	// 20% of a 10 unit long at 2000 closes at 2010 with 5x leverage.
	p := LegFraction(domain.SideLong, d("2000"), d("2010"), 5, d("2"), d("10"))
	assert.True(t, d("0.005").Equal(p), "got %s", p)
	assert.Equal(t, "100.5", Compound(d("100"), p).String())
}

func TestPriceChange_Sides(t *testing.T) {
	assert.True(t, d("-0.005").Equal(PriceChange(domain.SideLong, d("2000"), d("1990"))))
	assert.True(t, d("0.005").Equal(PriceChange(domain.SideShort, d("2000"), d("1990"))))
	assert.True(t, PriceChange(domain.SideLong, d("0"), d("1990")).IsZero())
}

func TestCompound(t *testing.T) {
	tests := []struct {
		capital, fraction, want string
	}{
		{"100", "0.005", "100.5"},
		{"100", "-0.025", "97.5"},
		{"50", "0", "50"},
		{"1234.5", "1.5", "3086.25"},
		{"10", "-0.99", "0.1"},
	}
	for _, tt := range tests {
		got := Compound(d(tt.capital), d(tt.fraction))
		assert.True(t, d(tt.want).Equal(got), "%s*(1+%s): want %s got %s", tt.capital, tt.fraction, tt.want, got)
	}
}

func TestHedgeNet(t *testing.T) {
	// +1% on a long at 10x minus 0.04% round-trip fees at 10x.
	got := HedgeNet(domain.SideLong, d("100"), d("101"), 10, d("0.0004"))
	assert.True(t, d("0.092").Equal(got), "got %s", got)

	got = HedgeNet(domain.SideShort, d("100"), d("101"), 10, d("0.0004"))
	assert.True(t, d("-0.108").Equal(got), "got %s", got)
}

func TestUnrealizedPct(t *testing.T) {
	assert.True(t, d("2.5").Equal(UnrealizedPct(domain.SideLong, d("2000"), d("2010"), 5)))
	assert.True(t, d("-2.5").Equal(UnrealizedPct(domain.SideShort, d("2000"), d("2010"), 5)))
}
