package tradelog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/types"
)

const ext = ".jsonl"

// Entry is one line of the daily journal.
type Entry struct {
	Time     string          `json:"time"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // BUY or SELL
	ID       string          `json:"id"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"` // quote value, fees excluded
	Fee      decimal.Decimal `json:"fee"`
	PnL      decimal.Decimal `json:"pnl"` // zero for buys
	Stage    int             `json:"stage,omitempty"`
}

// Journal appends fills and closures to one JSONL file per day. Days are
// keyed in loc so they line up with the engine's daily statistics.
type Journal struct {
	dir string
	loc *time.Location
	mu  sync.Mutex
}

var _ interfaces.EventSink = (*Journal)(nil)

// Dir returns TRADER_LOG_DIR or "logs".
func Dir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func New(dir string, loc *time.Location) *Journal {
	if loc == nil {
		loc = time.UTC
	}
	return &Journal{dir: dir, loc: loc}
}

// DayFile is the journal path for a "2006-01-02" date key.
func (j *Journal) DayFile(date string) string {
	return filepath.Join(j.dir, date+ext)
}

// Append writes e to the file of the day t falls in.
func (j *Journal) Append(e Entry, t time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	local := t.In(j.loc)
	e.Time = local.Format("2006-01-02 15:04:05")
	p := j.DayFile(local.Format("2006-01-02"))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// ReadDay returns the entries journaled for date. A missing file yields no
// entries; malformed lines are skipped.
func (j *Journal) ReadDay(date string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.DayFile(date))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (j *Journal) Name() string { return "tradelog" }

// Handle journals buy and close events and ignores the rest.
func (j *Journal) Handle(ctx context.Context, ev types.Event) error {
	switch {
	case ev.Kind == types.EventBuyExecuted && ev.Fill != nil:
		f := ev.Fill
		return j.Append(Entry{
			Symbol:   ev.Symbol,
			Side:     "BUY",
			ID:       f.ID,
			Quantity: f.Quantity,
			Price:    f.Price,
			Amount:   f.Amount,
			Fee:      f.Fee,
		}, ev.Time)
	case ev.Kind == types.EventPositionClosed && ev.Closure != nil:
		c := ev.Closure
		return j.Append(Entry{
			Symbol:   c.Symbol,
			Side:     "SELL",
			ID:       c.ID,
			Quantity: c.Quantity,
			Price:    c.Price,
			Amount:   c.SaleValue,
			Fee:      c.Fee,
			PnL:      c.PnL,
			Stage:    c.Stage,
		}, ev.Time)
	}
	return nil
}

// CompressOlder gzips journal files last modified more than retentionDays ago
// and removes the originals.
func (j *Journal) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(j.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			return os.Remove(p)
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return fmt.Errorf("compress %s: %w", p, err)
		}
		return os.Remove(p)
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
