package interfaces

import (
	"context"

	"perpetual-engine/internal/types"
)

// MarketSource supplies per-symbol readings on demand. An error means the
// data is unavailable for this call.
type MarketSource interface {
	Scan(ctx context.Context) ([]types.MarketSnapshot, error)
	Price(ctx context.Context, symbol string) (float64, error)
	Symbols() []string
}

// FearGreedSource returns a sentiment reading in [0,100].
type FearGreedSource interface {
	FearGreed(ctx context.Context) (float64, error)
}
