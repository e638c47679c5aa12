package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// RSI is the simple-average relative strength index over the last period deltas.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

// Deviation is the signed fraction the last close sits from its n-period SMA.
func Deviation(closes []float64, n int) float64 {
	m := SMA(closes, n)
	if math.IsNaN(m) || m == 0 {
		return math.NaN()
	}
	return (closes[len(closes)-1] - m) / m
}

// Sharpe is mean/stddev of the returns scaled by sqrt(periods). Fewer than two
// returns or a flat series yields 0.
func Sharpe(returns []float64, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := StdDev(returns, len(returns))
	if math.IsNaN(sd) || sd < 1e-12 {
		return 0
	}
	return SMA(returns, len(returns)) / sd * math.Sqrt(periods)
}

// MaxDrawdown is the largest peak-to-trough fall of the series, in percent.
func MaxDrawdown(vals []float64) float64 {
	peak, worst := math.Inf(-1), 0.0
	for _, v := range vals {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
