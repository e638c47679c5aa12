package market

import (
	"fmt"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/market/marketobs"
	"perpetual-engine/internal/sentiment"
	"perpetual-engine/internal/store"
)

// New builds the configured market source wrapped with tracing and logging.
func New(cfg *store.Config) (interfaces.MarketSource, error) {
	switch cfg.Market.Source {
	case "SYNTHETIC":
	default:
		return nil, fmt.Errorf("unsupported market source %q", cfg.Market.Source)
	}

	p := Params{
		Symbols:       cfg.Market.Symbols,
		Seed:          cfg.Market.Seed,
		HistoryLength: cfg.Market.HistoryLength,
	}
	if cfg.Market.FearGreed.Source == "LIVE" {
		p.FearGreed = sentiment.NewFeed(
			cfg.Market.FearGreed.URL,
			cfg.Market.FearGreed.Timeout.Std(),
			cfg.Market.FearGreed.CacheTTL.Std(),
		)
	}
	return marketobs.Wrap(NewSynthetic(p)), nil
}
