package ta

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	if got != 4 {
		t.Errorf("Expected SMA 4, got %f", got)
	}
	if !math.IsNaN(SMA([]float64{1}, 3)) {
		t.Error("Expected NaN for short series")
	}
}

func TestRSI(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6}
	if got := RSI(rising, 5); got != 100 {
		t.Errorf("Expected RSI 100 for a rising series, got %f", got)
	}

	mixed := []float64{10, 11, 10, 11, 10}
	if got := RSI(mixed, 4); math.Abs(got-50) > 1e-9 {
		t.Errorf("Expected RSI 50 for equal gains and losses, got %f", got)
	}

	if !math.IsNaN(RSI([]float64{1, 2}, 14)) {
		t.Error("Expected NaN for short series")
	}
}

func TestDeviation(t *testing.T) {
	got := Deviation([]float64{100, 100, 100, 94}, 4)
	// sma = 98.5
	want := (94 - 98.5) / 98.5
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Expected deviation %f, got %f", want, got)
	}
}

func TestSharpe(t *testing.T) {
	if got := Sharpe([]float64{0.01}, 365); got != 0 {
		t.Errorf("Expected 0 for single return, got %f", got)
	}
	if got := Sharpe([]float64{0.01, 0.01, 0.01}, 365); got != 0 {
		t.Errorf("Expected 0 for flat returns, got %f", got)
	}
	got := Sharpe([]float64{0.01, 0.03}, 1)
	// mean 0.02, population sd 0.01
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("Expected sharpe 2, got %f", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	got := MaxDrawdown([]float64{100, 120, 90, 110, 130, 117})
	if math.Abs(got-25) > 1e-9 {
		t.Errorf("Expected drawdown 25, got %f", got)
	}
	if got := MaxDrawdown(nil); got != 0 {
		t.Errorf("Expected 0 drawdown for empty series, got %f", got)
	}
}
