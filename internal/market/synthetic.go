package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/store"
	"perpetual-engine/internal/ta"
	"perpetual-engine/internal/types"
)

const (
	rsiPeriod       = 14
	smaWindow       = 20
	meanReversion   = 0.05
	fearGreedStep   = 6.0
	volumeDispersal = 0.5
)

type Params struct {
	Symbols       []store.MarketSymbol
	Seed          int64
	HistoryLength int
	// FearGreed supplies live sentiment. Nil means a synthetic random walk.
	FearGreed interfaces.FearGreedSource
	Now       func() time.Time
}

// Synthetic is a stand-in market: each symbol follows a mean-reverting
// random walk around its base price. Every Scan or Price call is one tick.
type Synthetic struct {
	mu        sync.Mutex // guards rng and fearGreed
	rng       *rand.Rand
	fearGreed float64

	symbols []store.MarketSymbol
	hist    *history
	feed    interfaces.FearGreedSource
	now     func() time.Time
}

var _ interfaces.MarketSource = (*Synthetic)(nil)

func NewSynthetic(p Params) *Synthetic {
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	n := p.HistoryLength
	if n < smaWindow+1 {
		n = smaWindow + 1
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	s := &Synthetic{
		rng:       rand.New(rand.NewSource(seed)),
		fearGreed: 50,
		symbols:   append([]store.MarketSymbol(nil), p.Symbols...),
		hist:      newHistory(),
		feed:      p.FearGreed,
		now:       now,
	}
	for _, sym := range s.symbols {
		s.hist.initBuffer(sym.Symbol, n)
		price := sym.BasePrice
		for i := 0; i < n; i++ {
			price = s.step(sym, price)
			s.hist.add(sym.Symbol, price)
		}
	}
	return s
}

func (s *Synthetic) Symbols() []string {
	out := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		out[i] = sym.Symbol
	}
	return out
}

// Scan advances every symbol one tick and returns its readings.
func (s *Synthetic) Scan(ctx context.Context) ([]types.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fg := s.sentiment(ctx)
	// A slow feed may have used up the scan budget.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()

	snaps := make([]types.MarketSnapshot, 0, len(s.symbols))
	for _, sym := range s.symbols {
		price, err := s.tick(sym)
		if err != nil {
			return nil, err
		}
		closes, err := s.hist.recent(sym.Symbol)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, types.MarketSnapshot{
			Symbol: sym.Symbol,
			Price:  price,
			Indicators: types.Indicators{
				RSI:            ta.RSI(closes, rsiPeriod),
				PriceDeviation: ta.Deviation(closes, smaWindow),
				Volume:         s.volume(sym),
				BaselineVolume: sym.VolumeBaseline,
				FearGreed:      fg,
			},
			Time: now,
		})
	}
	return snaps, nil
}

// Price advances symbol one tick and returns the new price.
func (s *Synthetic) Price(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, sym := range s.symbols {
		if sym.Symbol == symbol {
			return s.tick(sym)
		}
	}
	return 0, fmt.Errorf("unknown symbol %s", symbol)
}

func (s *Synthetic) tick(sym store.MarketSymbol) (float64, error) {
	last, err := s.hist.last(sym.Symbol)
	if err != nil {
		return 0, err
	}
	price := s.step(sym, last)
	s.hist.add(sym.Symbol, price)
	return price, nil
}

func (s *Synthetic) step(sym store.MarketSymbol, price float64) float64 {
	s.mu.Lock()
	shock := s.rng.NormFloat64()
	s.mu.Unlock()

	next := price + meanReversion*(sym.BasePrice-price) + price*sym.Volatility*shock
	if floor := sym.BasePrice * 0.01; next < floor {
		next = floor
	}
	return next
}

func (s *Synthetic) volume(sym store.MarketSymbol) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sym.VolumeBaseline * math.Exp(volumeDispersal*s.rng.NormFloat64())
}

// sentiment reads the live feed when configured and falls back to the
// synthetic walk when it fails.
func (s *Synthetic) sentiment(ctx context.Context) float64 {
	if s.feed != nil {
		v, err := s.feed.FearGreed(ctx)
		if err == nil {
			return v
		}
		logger.Warn(ctx, "Fear/greed feed unavailable, using synthetic value", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fearGreed = math.Min(100, math.Max(0, s.fearGreed+fearGreedStep*s.rng.NormFloat64()))
	return s.fearGreed
}
