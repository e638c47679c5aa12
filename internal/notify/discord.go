package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"perpetual-engine/internal/api"
	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/types"
)

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

// discordCreated is the message Discord echoes back for ?wait=true.
type discordCreated struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// DiscordSink posts events as embeds to a Discord webhook.
type DiscordSink struct {
	client  *api.Client
	path    string
	limiter *RateLimiter
	retry   *api.RetryConfig
}

var _ interfaces.EventSink = (*DiscordSink)(nil)

// NewDiscordSink returns nil when webhookURL is empty.
func NewDiscordSink(webhookURL string, limiter *RateLimiter) *DiscordSink {
	if webhookURL == "" {
		return nil
	}
	path := "?wait=true"
	if strings.Contains(webhookURL, "?") {
		path = "&wait=true"
	}
	return &DiscordSink{
		client: api.NewClient(
			api.WithBaseURL(webhookURL),
			api.WithTimeout(10*time.Second),
			api.WithHeader("User-Agent", "DiscordBot (perpetual-engine, 1.0)"),
			api.WithLogging(true),
		),
		path:    path,
		limiter: limiter,
		retry:   api.DefaultRetryConfig(),
	}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Handle(ctx context.Context, ev types.Event) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	req := api.NewRequest(http.MethodPost, d.path).
		WithContext(ctx).
		WithBody(discordPayload(ev))
	resp, err := d.client.DoWithRetry(req, d.retry)
	if err != nil {
		return err
	}

	var msg discordCreated
	if err := resp.ParseJSON(&msg); err != nil {
		return err
	}
	logger.Debug(ctx, "Discord message posted", "message_id", msg.ID, "kind", ev.Kind)
	return nil
}

func discordPayload(ev types.Event) discordMessage {
	color := 0x3498db // blue
	switch ev.Level {
	case types.LevelSuccess:
		color = 0x36a64f // green
	case types.LevelError:
		color = 0xe74c3c // red
	}

	var embedFields []discordEmbedField
	for _, f := range fields(ev) {
		embedFields = append(embedFields, discordEmbedField{Name: f.name, Value: f.value, Inline: true})
	}

	return discordMessage{
		Embeds: []discordEmbed{{
			Title:       icon(ev.Level) + " " + ev.Title,
			Description: ev.Message,
			Color:       color,
			Fields:      embedFields,
			Footer:      &discordEmbedFooter{Text: "Perpetual Engine"},
			Timestamp:   ev.Time.UTC().Format(time.RFC3339),
		}},
	}
}
