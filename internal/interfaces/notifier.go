package interfaces

import (
	"context"

	"perpetual-engine/internal/types"
)

// Notifier accepts engine events fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, ev types.Event)
}

// EventSink is one delivery target behind a Notifier.
type EventSink interface {
	Name() string
	Handle(ctx context.Context, ev types.Event) error
}
