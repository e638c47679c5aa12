package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpetual-engine/internal/types"
)

type memorySink struct {
	mu     sync.Mutex
	events []types.Event
	block  chan struct{}
	err    error
	panics bool
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Handle(ctx context.Context, ev types.Event) error {
	if m.block != nil {
		<-m.block
	}
	if m.panics {
		panic("sink bug")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *memorySink) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.Title)
	}
	return out
}

func buyEvent() types.Event {
	return types.Event{
		ID:      "ev-1",
		Kind:    types.EventBuyExecuted,
		Level:   types.LevelSuccess,
		Title:   "Buy Executed",
		Message: "Bought BTC/USDT at $45000.00 for $6.25",
		Time:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Symbol:  "BTC/USDT",
		Fill: &types.Fill{
			Amount:   decimal.RequireFromString("6.25"),
			Quantity: decimal.RequireFromString("0.000138"),
			Price:    decimal.RequireFromString("45000"),
			Fee:      decimal.RequireFromString("0.00625"),
		},
		Vault: &types.VaultState{Total: decimal.NewFromInt(1000)},
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	a, b := &memorySink{}, &memorySink{}
	d := NewDispatcher(8, a, b)

	for _, title := range []string{"one", "two", "three"} {
		d.Notify(context.Background(), types.Event{Title: title})
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []string{"one", "two", "three"}, a.titles())
	assert.Equal(t, []string{"one", "two", "three"}, b.titles())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	d := NewDispatcher(1, sink)

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Notify(context.Background(), types.Event{Title: "x"})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Notify never blocks")
	assert.GreaterOrEqual(t, d.Dropped(), 8)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 10-d.Dropped(), len(sink.titles()))
}

func TestDispatcherSurvivesFailingSinks(t *testing.T) {
	failing := &memorySink{err: errors.New("down")}
	panicking := &memorySink{panics: true}
	ok := &memorySink{}
	d := NewDispatcher(4, failing, panicking, ok)

	d.Notify(context.Background(), types.Event{Title: "a"})
	d.Notify(context.Background(), types.Event{Title: "b"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, []string{"a", "b"}, ok.titles())
	assert.Len(t, failing.titles(), 2)
}

func TestDispatcherIgnoresEventsAfterClose(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(4, sink)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	d.Notify(context.Background(), types.Event{Title: "late"})
	assert.Empty(t, sink.titles())
}

func TestDispatcherCloseBoundedByContext(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	d := NewDispatcher(4, sink)
	d.Notify(context.Background(), types.Event{Title: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(sink.block)
}

func TestDiscordSinkPostsEmbed(t *testing.T) {
	var got discordMessage
	var query, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query, agent = r.URL.RawQuery, r.Header.Get("User-Agent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"1100","channel_id":"42"}`))
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL+"/api/webhooks/1/token", nil)
	require.NoError(t, sink.Handle(context.Background(), buyEvent()))

	assert.Equal(t, "wait=true", query)
	assert.Contains(t, agent, "DiscordBot")

	require.Len(t, got.Embeds, 1)
	embed := got.Embeds[0]
	assert.Contains(t, embed.Title, "Buy Executed")
	assert.Equal(t, 0x36a64f, embed.Color)
	assert.Equal(t, "2024-05-01T12:00:00Z", embed.Timestamp)
	assert.Contains(t, embed.Fields, discordEmbedField{Name: "Price", Value: "$45000.00", Inline: true})
	assert.Contains(t, embed.Fields, discordEmbedField{Name: "Vault", Value: "$1000.00", Inline: true})
}

func TestDiscordSinkKeepsWebhookQuery(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL+"/hook?thread_id=9", nil)
	require.NoError(t, sink.Handle(context.Background(), buyEvent()))
	assert.Equal(t, "thread_id=9&wait=true", query)
}

func TestDiscordSinkRejectsMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	sink := NewDiscordSink(srv.URL, nil)
	assert.Error(t, sink.Handle(context.Background(), buyEvent()))
}

func TestNewDiscordSinkWithoutURL(t *testing.T) {
	assert.Nil(t, NewDiscordSink("", nil))
}

func TestTelegramSinkSendsMessage(t *testing.T) {
	var mu sync.Mutex
	var chatID, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"engine","username":"engine_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			mu.Lock()
			chatID, text = r.FormValue("chat_id"), r.FormValue("text")
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	defer srv.Close()

	sink, err := NewTelegramSink("123:abc", 42, srv.URL+"/bot%s/%s", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Handle(context.Background(), buyEvent()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "42", chatID)
	assert.Contains(t, text, "Buy Executed")
	assert.Contains(t, text, "Price: $45000.00")
}

func TestNewTelegramSinkValidates(t *testing.T) {
	_, err := NewTelegramSink("", 42, "", nil)
	assert.Error(t, err)
	_, err = NewTelegramSink("token", 0, "", nil)
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 30*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))
	assert.Less(t, time.Since(start), 20*time.Millisecond, "burst is immediate")

	require.NoError(t, rl.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "third token waits for a refill")

	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	rl2 := NewRateLimiter(1, time.Hour)
	require.NoError(t, rl2.Wait(short))
	assert.ErrorIs(t, rl2.Wait(short), context.DeadlineExceeded)

	var none *RateLimiter
	assert.NoError(t, none.Wait(ctx))
	assert.Nil(t, PerMinute(0))
}

func TestPlainText(t *testing.T) {
	ev := types.Event{
		Kind:    types.EventCycleError,
		Level:   types.LevelError,
		Title:   "System Error",
		Message: "cycle failed",
		Err:     "boom",
	}
	text := plainText(ev)
	assert.True(t, strings.HasPrefix(text, "🚨 System Error"))
	assert.Contains(t, text, "Error: boom")
}
