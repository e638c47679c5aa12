package notify

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/types"
)

// TelegramSink sends events as plain text messages to one chat.
type TelegramSink struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	limiter *RateLimiter
}

var _ interfaces.EventSink = (*TelegramSink)(nil)

// NewTelegramSink authenticates the bot token against endpoint
// (tgbotapi.APIEndpoint when empty).
func NewTelegramSink(token string, chatID int64, endpoint string, limiter *RateLimiter) (*TelegramSink, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram sink needs a token and a chat id")
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramSink{bot: bot, chatID: chatID, limiter: limiter}, nil
}

func (t *TelegramSink) Name() string { return "telegram" }

// Handle sends one message. The bot API has no context support, so ctx only
// bounds the rate limiter wait.
func (t *TelegramSink) Handle(ctx context.Context, ev types.Event) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, plainText(ev))
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
