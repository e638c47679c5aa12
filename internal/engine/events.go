package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpetual-engine/internal/types"
)

func newEvent(now time.Time, kind types.EventKind, level types.Level, title, msg string) types.Event {
	return types.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Level:   level,
		Title:   title,
		Message: msg,
		Time:    now,
	}
}

func startedEvent(now time.Time, v types.VaultState) types.Event {
	ev := newEvent(now, types.EventEngineStarted, types.LevelSuccess,
		"Engine Started",
		fmt.Sprintf("Perpetual accumulation engine running with $%s", v.Total.StringFixed(2)))
	ev.Vault = &v
	return ev
}

func stoppedEvent(now time.Time, v types.VaultState) types.Event {
	ev := newEvent(now, types.EventEngineStopped, types.LevelInfo,
		"Engine Stopped",
		fmt.Sprintf("Perpetual accumulation engine stopped with $%s", v.Total.StringFixed(2)))
	ev.Vault = &v
	return ev
}

func buyEvent(now time.Time, symbol string, fill types.Fill, v types.VaultState) types.Event {
	ev := newEvent(now, types.EventBuyExecuted, types.LevelSuccess,
		"Buy Executed",
		fmt.Sprintf("Bought %s at $%s for $%s", symbol, fill.Price.StringFixed(2), fill.Amount.StringFixed(2)))
	ev.Symbol = symbol
	ev.Fill = &fill
	ev.Vault = &v
	return ev
}

func closeEvent(now time.Time, c types.Closure, v types.VaultState) types.Event {
	level, outcome := types.LevelSuccess, "profit"
	if !c.PnL.IsPositive() {
		level, outcome = types.LevelError, "loss"
	}
	ev := newEvent(now, types.EventPositionClosed, level,
		"Position Closed",
		fmt.Sprintf("%s closed with %s: $%s", c.Symbol, outcome, c.PnL.StringFixed(2)))
	ev.Symbol = c.Symbol
	ev.Closure = &c
	ev.Vault = &v
	return ev
}

func dayClosedEvent(now time.Time, day types.DailyStats, compounded bool, reinvest decimal.Decimal, growth float64, v types.VaultState) types.Event {
	var ev types.Event
	if compounded {
		ev = newEvent(now, types.EventDayClosed, types.LevelSuccess,
			"Daily Compound Complete",
			fmt.Sprintf("Reinvested $%s | Total Growth: %.2f%%", reinvest.StringFixed(2), growth))
	} else {
		ev = newEvent(now, types.EventDayClosed, types.LevelInfo,
			"Day Closed",
			fmt.Sprintf("%s closed with net $%s, nothing compounded", day.Date, day.NetProfit.StringFixed(2)))
	}
	ev.Day = &day
	ev.Compounded = compounded
	ev.Vault = &v
	return ev
}

func cycleErrorEvent(now time.Time, err error) types.Event {
	ev := newEvent(now, types.EventCycleError, types.LevelError,
		"System Error",
		"Engine encountered an error but continues running")
	ev.Err = err.Error()
	return ev
}
