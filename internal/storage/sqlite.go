package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/types"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists trades, settled days and events to SQLite. The engine never
// reads from it; it only feeds the dashboard history endpoints.
type Store struct {
	db *sql.DB
}

var _ interfaces.EventSink = (*Store)(nil)

// Open creates the database file if needed and migrates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info(ctx, "SQLite store initialized", "path", path)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		side TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		amount TEXT NOT NULL,
		fee TEXT NOT NULL,
		pnl TEXT NOT NULL DEFAULT '0',
		stage INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		trades INTEGER NOT NULL,
		buys INTEGER NOT NULL,
		sells INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		profit TEXT NOT NULL,
		loss TEXT NOT NULL,
		net_profit TEXT NOT NULL,
		win_rate REAL NOT NULL,
		compounded INTEGER NOT NULL,
		vault_total TEXT NOT NULL,
		reinvested TEXT NOT NULL,
		closed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		level TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_time ON events(time);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Name() string { return "sqlite" }

// Handle stores every event and, depending on its kind, a trade row or a
// settled day.
func (s *Store) Handle(ctx context.Context, ev types.Event) error {
	if err := s.saveEvent(ctx, ev); err != nil {
		return err
	}
	switch {
	case ev.Kind == types.EventBuyExecuted && ev.Fill != nil:
		f := ev.Fill
		return s.SaveTrade(ctx, Trade{
			ID: f.ID, Side: "BUY", Symbol: ev.Symbol,
			Quantity: f.Quantity, Price: f.Price, Amount: f.Amount, Fee: f.Fee,
			Timestamp: f.Timestamp,
		})
	case ev.Kind == types.EventPositionClosed && ev.Closure != nil:
		c := ev.Closure
		return s.SaveTrade(ctx, Trade{
			ID: c.ID, Side: "SELL", Symbol: c.Symbol,
			Quantity: c.Quantity, Price: c.Price, Amount: c.SaleValue, Fee: c.Fee,
			PnL: c.PnL, Stage: c.Stage, Timestamp: c.Timestamp,
		})
	case ev.Kind == types.EventDayClosed && ev.Day != nil:
		rec := DayRecord{DailyStats: *ev.Day, Compounded: ev.Compounded, ClosedAt: ev.Time}
		if ev.Vault != nil {
			rec.VaultTotal = ev.Vault.Total
			rec.Reinvested = ev.Vault.Reinvested
		}
		return s.SaveDay(ctx, rec)
	}
	return nil
}

func (s *Store) saveEvent(ctx context.Context, ev types.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (id, kind, level, title, message, time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), string(ev.Level), ev.Title, ev.Message, ev.Time.UTC().Format(timeLayout),
	)
	return err
}

// SaveTrade inserts t. Saving the same id twice is a no-op.
func (s *Store) SaveTrade(ctx context.Context, t Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (id, side, symbol, quantity, price, amount, fee, pnl, stage, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Side, t.Symbol, t.Quantity.String(), t.Price.String(), t.Amount.String(),
		t.Fee.String(), t.PnL.String(), t.Stage, t.Timestamp.UTC().Format(timeLayout),
	)
	return err
}

// SaveDay upserts the record for d.Date.
func (s *Store) SaveDay(ctx context.Context, d DayRecord) error {
	compounded := 0
	if d.Compounded {
		compounded = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, trades, buys, sells, wins, losses, profit, loss, net_profit, win_rate, compounded, vault_total, reinvested, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades = excluded.trades, buys = excluded.buys, sells = excluded.sells,
			wins = excluded.wins, losses = excluded.losses, profit = excluded.profit,
			loss = excluded.loss, net_profit = excluded.net_profit, win_rate = excluded.win_rate,
			compounded = excluded.compounded, vault_total = excluded.vault_total,
			reinvested = excluded.reinvested, closed_at = excluded.closed_at`,
		d.Date, d.Trades, d.Buys, d.Sells, d.Wins, d.Losses,
		d.Profit.String(), d.Loss.String(), d.NetProfit.String(), d.WinRate,
		compounded, d.VaultTotal.String(), d.Reinvested.String(), d.ClosedAt.UTC().Format(timeLayout),
	)
	return err
}

// RecentTrades returns up to limit trades, newest first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, side, symbol, quantity, price, amount, fee, pnl, stage, timestamp
		FROM trades ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []Trade{}
	for rows.Next() {
		var t Trade
		var qty, price, amount, fee, pnl, ts string
		if err := rows.Scan(&t.ID, &t.Side, &t.Symbol, &qty, &price, &amount, &fee, &pnl, &t.Stage, &ts); err != nil {
			return nil, err
		}
		if err := parseDecimals([]string{qty, price, amount, fee, pnl}, &t.Quantity, &t.Price, &t.Amount, &t.Fee, &t.PnL); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		if t.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("trade %s: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DailyHistory returns up to limit settled days, most recent first.
func (s *Store) DailyHistory(ctx context.Context, limit int) ([]DayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, trades, buys, sells, wins, losses, profit, loss, net_profit, win_rate, compounded, vault_total, reinvested, closed_at
		FROM daily_stats ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := []DayRecord{}
	for rows.Next() {
		var d DayRecord
		var profit, loss, net, total, reinvested, closed string
		var compounded int
		if err := rows.Scan(&d.Date, &d.Trades, &d.Buys, &d.Sells, &d.Wins, &d.Losses,
			&profit, &loss, &net, &d.WinRate, &compounded, &total, &reinvested, &closed); err != nil {
			return nil, err
		}
		if err := parseDecimals([]string{profit, loss, net, total, reinvested}, &d.Profit, &d.Loss, &d.NetProfit, &d.VaultTotal, &d.Reinvested); err != nil {
			return nil, fmt.Errorf("day %s: %w", d.Date, err)
		}
		d.Compounded = compounded == 1
		if d.ClosedAt, err = time.Parse(timeLayout, closed); err != nil {
			return nil, fmt.Errorf("day %s: %w", d.Date, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// RecentEvents returns up to limit notifications, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, level, title, message, time
		FROM events ORDER BY time DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		var e EventRecord
		var ts string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Level, &e.Title, &e.Message, &ts); err != nil {
			return nil, err
		}
		if e.Time, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func parseDecimals(raw []string, dst ...*decimal.Decimal) error {
	for i, s := range raw {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}
