package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perpetual-engine/internal/interfaces"
	"perpetual-engine/internal/logger"
	"perpetual-engine/internal/store"
	"perpetual-engine/internal/types"
)

const (
	defaultInterval    = 5 * time.Second
	defaultScanTimeout = 2 * time.Second
)

// Engine runs the accumulation control loop. Each Start creates a fresh
// session (vault, ledger, stats) owned exclusively by the loop goroutine;
// callers only ever see copies through Status.
type Engine struct {
	market    interfaces.MarketSource
	notifier  interfaces.Notifier
	publisher interfaces.StatusPublisher

	clock       func() time.Time
	loc         *time.Location
	interval    time.Duration
	scanTimeout time.Duration

	mu      sync.Mutex // guards cfg and the lifecycle fields below
	cfg     store.EngineConfig
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statusMu sync.RWMutex
	status   types.Status

	seq int64 // loop-owned
}

var _ interfaces.Engine = (*Engine)(nil)

// Option customizes an Engine.
type Option func(*Engine)

func WithNotifier(n interfaces.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithPublisher(p interfaces.StatusPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLocation sets the zone day boundaries are computed in. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithInterval sets the sleep between cycles. Default 5s.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithScanTimeout bounds every Scan and Price call. Default 2s.
func WithScanTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.scanTimeout = d
		}
	}
}

// newEngine creates a stopped engine. The config is validated on Start.
func newEngine(cfg store.EngineConfig, market interfaces.MarketSource, opts ...Option) *Engine {
	e := &Engine{
		market:      market,
		cfg:         cfg,
		clock:       time.Now,
		loc:         time.UTC,
		interval:    defaultInterval,
		scanTimeout: defaultScanTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = types.Status{State: types.StateStopped}
	if cfg.Validate() == nil {
		now := e.clock()
		e.status = newSession(cfg, now, e.loc).status(types.StateStopped, types.CycleReport{}, now)
	}
	return e
}

// Start validates the held configuration, builds a fresh session from it and
// launches the loop. The loop outlives ctx; only Stop ends it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	// A previous loop may still be finishing its last cycle.
	if e.doneCh != nil {
		select {
		case <-e.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	now := e.clock()
	s := newSession(e.cfg, now, e.loc)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.running = true

	e.publish(s.status(types.StateRunning, types.CycleReport{}, now))
	logger.Info(ctx, "Engine started",
		"initial_vault", e.cfg.InitialVault,
		"interval", e.interval.String(),
		"day", s.stats.daily().Date,
		"zone", e.loc.String(),
	)
	e.notify(ctx, startedEvent(now, s.vault.state()))

	go e.run(context.WithoutCancel(ctx), s, e.stopCh, e.doneCh)
	return nil
}

// Stop asks the loop to finish and waits for the in-flight cycle, bounded by
// ctx. Stopping a stopped engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	done := e.doneCh
	e.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the current run, if any, has fully exited.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.doneCh
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// UpdateConfig applies patch to a copy of the configuration and keeps it only
// if it validates. Rejected with ErrEngineRunning during a run.
func (e *Engine) UpdateConfig(ctx context.Context, patch store.ConfigPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrEngineRunning
	}
	next, err := e.cfg.Apply(patch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.cfg = next
	logger.Debug(ctx, "Engine config updated", "config", next)
	return nil
}

func (e *Engine) Config() store.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns a copy of the last published snapshot.
func (e *Engine) Status() types.Status {
	running := e.Running()

	e.statusMu.RLock()
	st := copyStatus(e.status)
	e.statusMu.RUnlock()

	if running {
		st.State = types.StateRunning
	} else {
		st.State = types.StateStopped
	}
	return st
}

// run is the loop body. It owns s for its whole lifetime.
func (e *Engine) run(ctx context.Context, s *session, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			e.finish(ctx, s)
			return
		case <-timer.C:
		}

		// Stop is checked again so a stop that raced the timer skips the cycle.
		select {
		case <-stop:
			e.finish(ctx, s)
			return
		default:
		}

		e.runCycle(ctx, s)
		timer.Reset(e.interval)
	}
}

// finish publishes the terminal snapshot and emits the single stopped event.
func (e *Engine) finish(ctx context.Context, s *session) {
	now := e.clock()
	e.statusMu.RLock()
	last := e.status.LastCycle
	e.statusMu.RUnlock()

	e.publish(s.status(types.StateStopped, last, now))
	logger.Info(ctx, "Engine stopped",
		"cycles", e.seq,
		"total", s.vault.total.StringFixed(2),
		"open_positions", len(s.ledger.positions),
	)
	e.notify(ctx, stoppedEvent(now, s.vault.state()))
}

func (e *Engine) publish(st types.Status) {
	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()

	if e.publisher != nil {
		e.publisher.Publish(copyStatus(st))
	}
}

func (e *Engine) notify(ctx context.Context, ev types.Event) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, ev)
}

func copyStatus(st types.Status) types.Status {
	out := st
	out.Positions = make([]types.Position, len(st.Positions))
	for i, p := range st.Positions {
		p.Entries = append([]types.Fill(nil), p.Entries...)
		out.Positions[i] = p
	}
	return out
}
