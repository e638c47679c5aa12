package engine

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrEngineRunning is returned by UpdateConfig while a run is in progress.
	ErrEngineRunning = errors.New("configuration can only be changed while the engine is stopped")
	// ErrInvalidConfig wraps validation failures from Start and UpdateConfig.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInsufficientFunds is returned when a debit exceeds the available bucket.
	ErrInsufficientFunds = errors.New("insufficient available funds")
	// ErrNoPosition is returned for ledger operations on a symbol that is not held.
	ErrNoPosition = errors.New("no open position")
)
