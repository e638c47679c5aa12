package engine

import (
	"context"
	"sync"
	"time"

	"perpetual-engine/internal/types"
)

type fakeMarket struct {
	mu        sync.Mutex
	snaps     []types.MarketSnapshot
	scanErr   error
	scanPanic bool
	prices    map[string]float64
	priceErr  error
	scans     int
}

func (f *fakeMarket) Scan(ctx context.Context) ([]types.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	if f.scanPanic {
		panic("scan exploded")
	}
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return append([]types.MarketSnapshot(nil), f.snaps...), nil
}

func (f *fakeMarket) Price(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return 0, f.priceErr
	}
	return f.prices[symbol], nil
}

func (f *fakeMarket) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.snaps))
	for _, s := range f.snaps {
		out = append(out, s.Symbol)
	}
	return out
}

func (f *fakeMarket) set(fn func(f *fakeMarket)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Notify(ctx context.Context, ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind types.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) ofKind(kind types.EventKind) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type statusSink struct {
	mu       sync.Mutex
	statuses []types.Status
}

func (s *statusSink) Publish(st types.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *statusSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// oversold is a snapshot that satisfies all four buy sub-conditions.
func oversold(symbol string, price float64) types.MarketSnapshot {
	return types.MarketSnapshot{
		Symbol: symbol,
		Price:  price,
		Indicators: types.Indicators{
			RSI:            20,
			PriceDeviation: -0.03,
			Volume:         800000,
			BaselineVolume: 500000,
			FearGreed:      10,
		},
	}
}
