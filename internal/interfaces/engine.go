package interfaces

import (
	"context"

	"perpetual-engine/internal/store"
	"perpetual-engine/internal/types"
)

type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdateConfig(ctx context.Context, patch store.ConfigPatch) error
	Config() store.EngineConfig
	Status() types.Status
	Running() bool
}

// StatusPublisher receives every status snapshot the engine produces.
// Publish must not block the caller.
type StatusPublisher interface {
	Publish(status types.Status)
}
