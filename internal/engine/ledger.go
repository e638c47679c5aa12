package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpetual-engine/internal/types"
)

// position is an open holding for a symbol.
type position struct {
	symbol     string
	entries    []types.Fill
	quantity   decimal.Decimal // units held
	cost       decimal.Decimal // amount + fees spent
	lastPrice  decimal.Decimal
	unrealized float64
	entryTime  time.Time
}

// avgPrice is cost / quantity.
func (p *position) avgPrice() decimal.Decimal {
	if p.quantity.IsZero() {
		return decimal.Zero
	}
	return p.cost.Div(p.quantity)
}

func (p *position) view() types.Position {
	entries := make([]types.Fill, len(p.entries))
	copy(entries, p.entries)
	return types.Position{
		Symbol:           p.symbol,
		Entries:          entries,
		TotalQuantity:    p.quantity,
		TotalCost:        p.cost,
		AvgPrice:         p.avgPrice(),
		LastPrice:        p.lastPrice,
		UnrealizedProfit: p.unrealized,
		Stage:            len(p.entries),
		EntryTime:        p.entryTime,
	}
}

// ledger tracks open positions keyed by symbol. At most one position
// exists per symbol and exits are always full-size.
type ledger struct {
	positions map[string]*position
}

func newLedger() *ledger {
	return &ledger{
		positions: make(map[string]*position),
	}
}

// has checks if a position exists for the symbol.
func (l *ledger) has(symbol string) bool {
	return l.positions[symbol] != nil
}

// open creates a position or adds an entry to an existing one.
// Average price and stage follow from the accumulated entries.
func (l *ledger) open(symbol string, fill types.Fill) types.Position {
	p := l.positions[symbol]
	if p == nil {
		p = &position{
			symbol:    symbol,
			entryTime: fill.Timestamp,
		}
		l.positions[symbol] = p
	}
	p.entries = append(p.entries, fill)
	p.quantity = p.quantity.Add(fill.Quantity)
	p.cost = p.cost.Add(fill.Amount).Add(fill.Fee)
	p.lastPrice = fill.Price
	p.unrealized = unrealized(fill.Price, p.avgPrice())
	return p.view()
}

// revalue sets the unrealized profit fraction against price.
func (l *ledger) revalue(symbol string, price decimal.Decimal) (types.Position, error) {
	p := l.positions[symbol]
	if p == nil {
		return types.Position{}, ErrNoPosition
	}
	p.lastPrice = price
	p.unrealized = unrealized(price, p.avgPrice())
	return p.view(), nil
}

// lastPrice returns the most recent price the position was valued at.
func (l *ledger) lastPrice(symbol string) (decimal.Decimal, bool) {
	p := l.positions[symbol]
	if p == nil {
		return decimal.Zero, false
	}
	return p.lastPrice, true
}

// close removes the position and returns the realized result:
// sale proceeds minus total cost minus the sale fee.
//
// Parameters:
//   - symbol: Trading symbol
//   - price: Exit price
//   - feeRate: Fee charged on the sale value
//   - now: Exit time
func (l *ledger) close(symbol string, price decimal.Decimal, feeRate float64, now time.Time) (types.Closure, error) {
	p := l.positions[symbol]
	if p == nil {
		return types.Closure{}, ErrNoPosition
	}
	saleValue := p.quantity.Mul(price)
	fee := saleValue.Mul(decimal.NewFromFloat(feeRate))
	delete(l.positions, symbol)

	return types.Closure{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Quantity:  p.quantity,
		Price:     price,
		SaleValue: saleValue,
		Fee:       fee,
		CostBasis: p.cost,
		PnL:       saleValue.Sub(p.cost).Sub(fee),
		HeldFor:   now.Sub(p.entryTime),
		Stage:     len(p.entries),
		Timestamp: now,
	}, nil
}

// symbols returns held symbols in sorted order.
func (l *ledger) symbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// snapshot returns read-only copies of all positions sorted by symbol.
func (l *ledger) snapshot() []types.Position {
	out := make([]types.Position, 0, len(l.positions))
	for _, s := range l.symbols() {
		out = append(out, l.positions[s].view())
	}
	return out
}

func unrealized(price, avg decimal.Decimal) float64 {
	if !avg.IsPositive() {
		return 0
	}
	return price.Sub(avg).Div(avg).InexactFloat64()
}
