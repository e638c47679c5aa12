package engine

import (
	"time"

	"perpetual-engine/internal/engine/engineobs"
	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/store"
)

// New creates a stopped engine.
func New(cfg store.EngineConfig, market interfaces.MarketSource, opts ...Option) *Engine {
	return newEngine(cfg, market, opts...)
}

// NewFromConfig builds an engine from the application config and wraps it
// with tracing and logging.
func NewFromConfig(cfg *store.Config, market interfaces.MarketSource, opts ...Option) interfaces.Engine {
	base := []Option{
		WithLocation(cfg.Location()),
		WithInterval(time.Duration(cfg.PollSeconds) * time.Second),
		WithScanTimeout(cfg.Market.ScanTimeout.Std()),
	}
	return engineobs.Wrap(newEngine(cfg.Engine, market, append(base, opts...)...))
}
