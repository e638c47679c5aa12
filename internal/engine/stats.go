package engine

import (
	"github.com/shopspring/decimal"

	"perpetual-engine/internal/ta"
	"perpetual-engine/internal/types"
)

const tradingDaysPerYear = 365

// tracker aggregates daily statistics and lifetime performance.
type tracker struct {
	initial decimal.Decimal
	day     types.DailyStats
	perf    types.Performance

	dailyReturns  []float64 // net / total before settlement, one per settled day
	settledTotals []float64 // capital base after each settlement, starting with the initial vault
}

func newTracker(initial decimal.Decimal, date string) *tracker {
	return &tracker{
		initial:       initial,
		day:           newDailyStats(date),
		settledTotals: []float64{initial.InexactFloat64()},
	}
}

func newDailyStats(date string) types.DailyStats {
	return types.DailyStats{
		Date:      date,
		Profit:    decimal.Zero,
		Loss:      decimal.Zero,
		NetProfit: decimal.Zero,
	}
}

func (t *tracker) recordBuy() {
	t.day.Trades++
	t.day.Buys++
}

// recordClose books a realized result. A close is a win only when pnl > 0;
// anything else is a loss and resets the current streak.
func (t *tracker) recordClose(pnl decimal.Decimal) {
	t.day.Trades++
	t.day.Sells++
	t.day.NetProfit = t.day.NetProfit.Add(pnl)

	t.perf.TotalTrades++
	if pnl.IsPositive() {
		t.day.Wins++
		t.day.Profit = t.day.Profit.Add(pnl)
		t.perf.WinningTrades++
		t.perf.CurrentStreak++
		if t.perf.CurrentStreak > t.perf.BestStreak {
			t.perf.BestStreak = t.perf.CurrentStreak
		}
	} else {
		t.day.Losses++
		t.day.Loss = t.day.Loss.Add(pnl.Abs())
		t.perf.LosingTrades++
		t.perf.CurrentStreak = 0
	}
	t.day.WinRate = float64(t.day.Wins) / float64(t.day.Sells) * 100
}

// rollover closes the current day after the vault was settled and starts
// nextDate with zeroed counters.
//
// Parameters:
//   - nextDate: Date key of the new day
//   - totalBefore: Capital base before settlement
//   - totalAfter: Capital base after settlement
//   - reinvest: Amount credited to reinvested by the settlement
//
// Returns:
//   - closed: The final statistics of the day that ended
func (t *tracker) rollover(nextDate string, totalBefore, totalAfter, reinvest decimal.Decimal) types.DailyStats {
	closed := t.day
	net := closed.NetProfit

	// TotalProfit accumulates compounded days only; losses are absorbed
	// into the vault and show in CompoundGrowth instead.
	t.perf.TotalDays++
	if net.IsPositive() {
		t.perf.ProfitableDays++
		t.perf.TotalProfit = t.perf.TotalProfit.Add(net)
	}
	t.perf.TotalReinvested = t.perf.TotalReinvested.Add(reinvest)
	if t.initial.IsPositive() {
		t.perf.CompoundGrowth = totalAfter.Sub(t.initial).Div(t.initial).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}

	if totalBefore.IsPositive() {
		t.dailyReturns = append(t.dailyReturns, net.Div(totalBefore).InexactFloat64())
	}
	t.settledTotals = append(t.settledTotals, totalAfter.InexactFloat64())
	t.perf.SharpeRatio = ta.Sharpe(t.dailyReturns, tradingDaysPerYear)
	t.perf.MaxDrawdown = ta.MaxDrawdown(t.settledTotals)

	t.day = newDailyStats(nextDate)
	return closed
}

func (t *tracker) daily() types.DailyStats {
	return t.day
}

func (t *tracker) performance() types.Performance {
	return t.perf
}
