package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"perpetual-engine/internal/types"
)

// Trade is one persisted buy fill or position close.
type Trade struct {
	ID        string          `json:"id"`
	Side      string          `json:"side"` // BUY or SELL
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	PnL       decimal.Decimal `json:"pnl"`
	Stage     int             `json:"stage"`
	Timestamp time.Time       `json:"timestamp"`
}

// DayRecord is a settled day as written on day close.
type DayRecord struct {
	types.DailyStats
	Compounded bool            `json:"compounded"`
	VaultTotal decimal.Decimal `json:"vault_total"`
	Reinvested decimal.Decimal `json:"reinvested"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// EventRecord is a stored notification.
type EventRecord struct {
	ID      string          `json:"id"`
	Kind    types.EventKind `json:"kind"`
	Level   types.Level     `json:"level"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Time    time.Time       `json:"time"`
}
