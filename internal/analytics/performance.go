package analytics

import (
	"sort"
	"time"

	"hookTrader/internal/domain"
)

// PerformanceMetrics summarises a sequence of realized exits.
// Every exit is replayed on a compounded balance so fixed-capital profiles
// produce the same curve shape as compounding ones.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalExits         int     `json:"total_exits"`
	WinningExits       int     `json:"winning_exits"`
	LosingExits        int     `json:"losing_exits"`
	WinRate            float64 `json:"win_rate"`
	TotalProfit        float64 `json:"total_profit"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	ProfitFactor       float64 `json:"profit_factor"`
	AverageWin         float64 `json:"average_win"`  // Percent of capital
	AverageLoss        float64 `json:"average_loss"` // Percent of capital
	FinalBalance       float64 `json:"final_balance"`
	ReturnOnInvestment float64 `json:"return_on_investment"`

	// Advanced Metrics
	MaxConsecutiveWins   int                `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int                `json:"max_consecutive_losses"`
	AverageHoldTime      time.Duration      `json:"average_hold_time"`
	Expectancy           float64            `json:"expectancy"` // Percent of capital per exit
	ExitsByKind          map[string]int     `json:"exits_by_kind"`
	MonthlyReturns       map[string]float64 `json:"monthly_returns"`
	EquityCurve          []EquityPoint      `json:"equity_curve,omitempty"`
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Drawdown float64   `json:"drawdown"`
}

// AnalyzeExits calculates performance metrics from journaled exits.
// When initialBalance is zero the first exit's CapitalBefore is used.
func AnalyzeExits(exits []*domain.ExitRecord, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ExitsByKind:    make(map[string]int),
		MonthlyReturns: make(map[string]float64),
		EquityCurve:    make([]EquityPoint, 0, len(exits)),
	}
	if len(exits) == 0 {
		return metrics
	}

	sorted := make([]*domain.ExitRecord, len(exits))
	copy(sorted, exits)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})

	if initialBalance <= 0 {
		initialBalance = sorted[0].CapitalBefore.InexactFloat64()
	}

	balance := initialBalance
	peak := initialBalance
	var grossWin, grossLoss float64
	var consecutiveWins, consecutiveLosses int
	var totalHold time.Duration

	for _, e := range sorted {
		r := e.PnL.InexactFloat64()
		profit := balance * r

		metrics.TotalExits++
		metrics.ExitsByKind[string(e.Kind)]++
		if r > 0 {
			metrics.WinningExits++
			grossWin += profit
			consecutiveWins++
			consecutiveLosses = 0
			metrics.AverageWin += r * 100
		} else {
			metrics.LosingExits++
			grossLoss -= profit
			consecutiveLosses++
			consecutiveWins = 0
			metrics.AverageLoss += r * 100
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		balance += profit
		metrics.TotalProfit += profit
		metrics.MonthlyReturns[e.ExitTime.Format("2006-01")] += profit
		if !e.EntryTime.IsZero() {
			totalHold += e.ExitTime.Sub(e.EntryTime)
		}

		if balance > peak {
			peak = balance
		}
		drawdown := 0.0
		if peak > 0 {
			drawdown = (peak - balance) / peak
		}
		if drawdown > metrics.MaxDrawdown {
			metrics.MaxDrawdown = drawdown
		}
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{Time: e.ExitTime, Value: balance, Drawdown: drawdown})
	}

	metrics.FinalBalance = balance
	metrics.WinRate = float64(metrics.WinningExits) / float64(metrics.TotalExits)
	if metrics.WinningExits > 0 {
		metrics.AverageWin /= float64(metrics.WinningExits)
	}
	if metrics.LosingExits > 0 {
		metrics.AverageLoss /= float64(metrics.LosingExits)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossWin / grossLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (balance - initialBalance) / initialBalance
	}
	metrics.AverageHoldTime = totalHold / time.Duration(metrics.TotalExits)
	metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss
	return metrics
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
