package notify

import (
	"context"
	"os"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/store"
)

// New builds a Dispatcher with the log sink, the chat sinks whose secrets
// are present in the environment, and any extra sinks.
func New(ctx context.Context, cfg *store.Config, extra ...interfaces.EventSink) *Dispatcher {
	limiter := PerMinute(cfg.Notify.RateLimitPerMinute)
	sinks := []interfaces.EventSink{LogSink{}}

	if url := os.Getenv(cfg.Notify.DiscordWebhookEnv); url != "" {
		sinks = append(sinks, NewDiscordSink(url, limiter))
		logger.Info(ctx, "Discord notifications enabled")
	}

	if token := os.Getenv(cfg.Notify.TelegramTokenEnv); token != "" {
		tg, err := NewTelegramSink(token, cfg.Notify.TelegramChatID, "", limiter)
		if err != nil {
			logger.ErrorWithErr(ctx, "Telegram notifications disabled", err)
		} else {
			sinks = append(sinks, tg)
			logger.Info(ctx, "Telegram notifications enabled", "chat_id", cfg.Notify.TelegramChatID)
		}
	}

	sinks = append(sinks, extra...)
	return NewDispatcher(cfg.Notify.QueueSize, sinks...)
}
