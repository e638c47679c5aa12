package engine

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"perpetual-engine/internal/store"
	"perpetual-engine/internal/types"
)

// MinBuyConditions is how many of the four buy sub-conditions must hold
// for a snapshot to qualify.
const MinBuyConditions = 2

// maxSizeBoost is the largest fraction by which a high score scales up the base size.
const maxSizeBoost = 0.25

// BuyConditionsMet counts the satisfied buy sub-conditions:
// RSI at or below its max, deviation at or below the (negative) threshold,
// volume at or above baseline x multiplier, fear/greed at or below its max.
func BuyConditionsMet(snap types.MarketSnapshot, buy store.BuyThreshold) int {
	ind := snap.Indicators
	n := 0
	if ind.RSI <= buy.RSI.Max {
		n++
	}
	if ind.PriceDeviation <= buy.PriceDeviation {
		n++
	}
	if ind.Volume >= volumeBaseline(snap, buy)*buy.VolumeIncrease {
		n++
	}
	if ind.FearGreed <= buy.FearGreedIndex.Max {
		n++
	}
	return n
}

// MeetsBuyConditions reports whether at least MinBuyConditions hold.
func MeetsBuyConditions(snap types.MarketSnapshot, buy store.BuyThreshold) bool {
	return BuyConditionsMet(snap, buy) >= MinBuyConditions
}

// BuyScore ranks a qualifying snapshot. Weights: 30 oversold RSI distance,
// 25 deviation magnitude, 20 relative volume, 25 fear extremity.
// The score ranks and sizes; it never gates.
func BuyScore(snap types.MarketSnapshot, buy store.BuyThreshold) float64 {
	ind := snap.Indicators
	score := (100 - ind.RSI) / 100 * 30
	score += math.Abs(ind.PriceDeviation) * 100 * 25
	if base := volumeBaseline(snap, buy); base > 0 {
		score += ind.Volume / base * 20
	}
	score += (100 - ind.FearGreed) / 100 * 25
	return score
}

// PositionSize computes the quote amount for a new entry.
//
// base = available x baseTradingUnit, boosted by up to 25% with
// clamp(score/100, 0, 1), then clamped so that invested plus the entry's
// fee-inclusive cost stays within total x maxDailyExposure.
//
// Returns:
//   - size: amount to spend before fees, zero when no trade should happen
func PositionSize(v types.VaultState, score float64, cfg store.EngineConfig) decimal.Decimal {
	if !v.Total.IsPositive() || !v.Available.IsPositive() {
		return decimal.Zero
	}
	confidence := math.Min(math.Max(score/100, 0), 1)
	if math.IsNaN(confidence) {
		confidence = 0
	}
	size := v.Available.
		Mul(decimal.NewFromFloat(cfg.BaseTradingUnit)).
		Mul(decimal.NewFromFloat(1 + confidence*maxSizeBoost))

	room := v.Total.Mul(decimal.NewFromFloat(cfg.MaxDailyExposure)).Sub(v.Invested)
	if !room.IsPositive() {
		return decimal.Zero
	}
	feeFactor := decimal.NewFromFloat(1 + cfg.FeeRate)
	if size.Mul(feeFactor).GreaterThan(room) {
		size = room.Div(feeFactor)
	}
	size = size.Truncate(8)
	if !size.IsPositive() {
		return decimal.Zero
	}
	return size
}

// ShouldSell reports whether a revalued position should be closed: the
// profit target is reached, or the time limit has passed while in profit.
//
// sell.RSI and sell.TrailingStop are not part of this decision.
func ShouldSell(pos types.Position, now time.Time, sell store.SellThreshold) bool {
	if pos.UnrealizedProfit >= sell.ProfitTarget {
		return true
	}
	held := now.Sub(pos.EntryTime)
	return held > sell.TimeLimit.Std() && pos.UnrealizedProfit > 0
}

func volumeBaseline(snap types.MarketSnapshot, buy store.BuyThreshold) float64 {
	if snap.Indicators.BaselineVolume > 0 {
		return snap.Indicators.BaselineVolume
	}
	return buy.VolumeBaseline
}
