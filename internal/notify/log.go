package notify

import (
	"context"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/types"
)

// LogSink writes every event to the structured log.
type LogSink struct{}

var _ interfaces.EventSink = LogSink{}

func (LogSink) Name() string { return "log" }

func (LogSink) Handle(ctx context.Context, ev types.Event) error {
	args := []interface{}{
		"event_id", ev.ID,
		"kind", string(ev.Kind),
		"title", ev.Title,
	}
	if ev.Symbol != "" {
		args = append(args, "symbol", ev.Symbol)
	}
	if ev.Vault != nil {
		args = append(args, "vault_total", ev.Vault.Total.StringFixed(2))
	}

	switch ev.Level {
	case types.LevelError:
		logger.Warn(ctx, ev.Message, args...)
	default:
		logger.Info(ctx, ev.Message, args...)
	}
	return nil
}
