package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Indicators are the per-symbol readings a market scan produces.
type Indicators struct {
	RSI            float64 `json:"rsi"`
	PriceDeviation float64 `json:"price_deviation"` // signed fraction from the moving average
	Volume         float64 `json:"volume"`
	BaselineVolume float64 `json:"baseline_volume"` // zero means "use the configured baseline"
	FearGreed      float64 `json:"fear_greed"`      // 0 (extreme fear) .. 100 (extreme greed)
}

// MarketSnapshot is one symbol's reading from a scan.
type MarketSnapshot struct {
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	Indicators Indicators `json:"indicators"`
	Time       time.Time  `json:"time"`
}

// Fill is a single simulated buy entry.
type Fill struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`   // quote currency spent, fees excluded
	Quantity  decimal.Decimal `json:"quantity"` // units received
	Price     decimal.Decimal `json:"price"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}

// Position is a read-only copy of an open position.
type Position struct {
	Symbol           string          `json:"symbol"`
	Entries          []Fill          `json:"entries"`
	TotalQuantity    decimal.Decimal `json:"total_quantity"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
	LastPrice        decimal.Decimal `json:"last_price"`
	UnrealizedProfit float64         `json:"unrealized_profit"`
	Stage            int             `json:"stage"`
	EntryTime        time.Time       `json:"entry_time"`
}

// Closure describes a fully closed position.
type Closure struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	SaleValue decimal.Decimal `json:"sale_value"`
	Fee       decimal.Decimal `json:"fee"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	PnL       decimal.Decimal `json:"pnl"`
	HeldFor   time.Duration   `json:"held_for"`
	Stage     int             `json:"stage"`
	Timestamp time.Time       `json:"timestamp"`
}

// VaultState is a copy of the vault buckets.
type VaultState struct {
	Total      decimal.Decimal `json:"total"`
	Available  decimal.Decimal `json:"available"`
	Reserved   decimal.Decimal `json:"reserved"`
	Invested   decimal.Decimal `json:"invested"`
	Profits    decimal.Decimal `json:"profits"`
	Unsettled  decimal.Decimal `json:"unsettled"`
	Reinvested decimal.Decimal `json:"reinvested"`
}

// DailyStats aggregates one calendar day of activity.
type DailyStats struct {
	Date      string          `json:"date"`
	Trades    int             `json:"trades"`
	Buys      int             `json:"buys"`
	Sells     int             `json:"sells"`
	Wins      int             `json:"wins"`
	Losses    int             `json:"losses"`
	Profit    decimal.Decimal `json:"profit"`
	Loss      decimal.Decimal `json:"loss"`
	NetProfit decimal.Decimal `json:"net_profit"`
	WinRate   float64         `json:"win_rate"`
}

// Performance is the engine-lifetime summary.
type Performance struct {
	TotalDays       int             `json:"total_days"`
	ProfitableDays  int             `json:"profitable_days"`
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	TotalReinvested decimal.Decimal `json:"total_reinvested"`
	CurrentStreak   int             `json:"current_streak"`
	BestStreak      int             `json:"best_streak"`
	CompoundGrowth  float64         `json:"compound_growth"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
	MaxDrawdown     float64         `json:"max_drawdown"`
}

// CycleOutcome classifies what a single loop iteration achieved.
type CycleOutcome string

const (
	CycleProgressed     CycleOutcome = "progressed"
	CycleSkippedNoFunds CycleOutcome = "skipped_no_funds"
	CycleSkippedNoData  CycleOutcome = "skipped_no_data"
	CycleErrored        CycleOutcome = "errored"
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	Seq         int64        `json:"seq"`
	Outcome     CycleOutcome `json:"outcome"`
	Candidates  int          `json:"candidates"`
	Buys        int          `json:"buys"`
	Sells       int          `json:"sells"`
	SkippedBuys int          `json:"skipped_buys"`
	StalePrices int          `json:"stale_prices"`
	DayClosed   bool         `json:"day_closed"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// EngineState is the lifecycle state of an engine.
type EngineState string

const (
	StateStopped EngineState = "stopped"
	StateRunning EngineState = "running"
)

// Status is the consolidated snapshot published after every cycle.
type Status struct {
	State       EngineState `json:"state"`
	Vault       VaultState  `json:"vault"`
	Exposure    float64     `json:"exposure"`
	Positions   []Position  `json:"positions"`
	DailyStats  DailyStats  `json:"daily_stats"`
	Performance Performance `json:"performance"`
	LastCycle   CycleReport `json:"last_cycle"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
