package engineobs

import (
	"context"
	"time"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/store"
	"perpetual-engine/internal/trace"
	"perpetual-engine/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Start(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Start")
	defer span.End()

	start := time.Now()
	cfg := oe.engine.Config()
	logger.InfoSkip(ctx, 1, "Starting engine",
		"initial_vault", cfg.InitialVault,
		"min_vault_reserve", cfg.MinVaultReserve,
		"max_daily_exposure", cfg.MaxDailyExposure,
	)

	if err := oe.engine.Start(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Engine start rejected", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
	return nil
}

func (oe *observableEngine) Stop(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "engine.Stop")
	defer span.End()

	start := time.Now()
	wasRunning := oe.engine.Running()

	if err := oe.engine.Stop(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Engine stop did not complete", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}

	logger.InfoSkip(ctx, 1, "Engine stop completed",
		"was_running", wasRunning,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (oe *observableEngine) UpdateConfig(ctx context.Context, patch store.ConfigPatch) error {
	ctx, span := trace.StartSpan(ctx, "engine.UpdateConfig")
	defer span.End()

	if err := oe.engine.UpdateConfig(ctx, patch); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Config update rejected", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Config updated")
	return nil
}

func (oe *observableEngine) Config() store.EngineConfig {
	return oe.engine.Config()
}

func (oe *observableEngine) Status() types.Status {
	return oe.engine.Status()
}

func (oe *observableEngine) Running() bool {
	return oe.engine.Running()
}
