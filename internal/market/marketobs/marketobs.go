package marketobs

import (
	"context"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/trace"
	"perpetual-engine/internal/types"
)

// observableSource wraps a MarketSource with logging and tracing
type observableSource struct {
	source interfaces.MarketSource
}

var _ interfaces.MarketSource = (*observableSource)(nil)

// Wrap wraps a market source with observability middleware
func Wrap(source interfaces.MarketSource) interfaces.MarketSource {
	return &observableSource{
		source: source,
	}
}

// Scan returns a market snapshot with observability
func (ms *observableSource) Scan(ctx context.Context) ([]types.MarketSnapshot, error) {
	ctx, span := trace.StartSpan(ctx, "market.Scan")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Scanning market", "symbols", len(ms.source.Symbols()))

	snaps, err := ms.source.Scan(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Market scan failed", err)
		return nil, err
	}

	for _, s := range snaps {
		logger.DebugSkip(ctx, 1, "Market reading",
			"symbol", s.Symbol,
			"price", s.Price,
			"rsi", s.Indicators.RSI,
			"deviation", s.Indicators.PriceDeviation,
			"volume", s.Indicators.Volume,
			"fear_greed", s.Indicators.FearGreed,
		)
	}
	return snaps, nil
}

// Price returns the current price with observability
func (ms *observableSource) Price(ctx context.Context, symbol string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "market.Price")
	defer span.End()

	price, err := ms.source.Price(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch price", err, "symbol", symbol)
		return 0, err
	}

	logger.DebugSkip(ctx, 1, "Price fetched", "symbol", symbol, "price", price)
	return price, nil
}

func (ms *observableSource) Symbols() []string {
	return ms.source.Symbols()
}
