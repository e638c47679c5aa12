package market

import (
	"fmt"
	"sync"
)

// history keeps a bounded buffer of recent closes per symbol.
type history struct {
	buffers map[string]*closeBuffer
	mu      sync.RWMutex
}

type closeBuffer struct {
	closes  []float64
	maxSize int
}

func newHistory() *history {
	return &history{
		buffers: make(map[string]*closeBuffer),
	}
}

// initBuffer initializes a buffer for a symbol
func (h *history) initBuffer(symbol string, maxSize int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buffers[symbol] = &closeBuffer{
		closes:  make([]float64, 0, maxSize),
		maxSize: maxSize,
	}
}

// add appends a close, dropping the oldest once full.
func (h *history) add(symbol string, price float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf, ok := h.buffers[symbol]
	if !ok {
		return
	}
	buf.closes = append(buf.closes, price)
	if len(buf.closes) > buf.maxSize {
		buf.closes = buf.closes[1:]
	}
}

// recent returns a copy of the buffered closes, oldest first.
func (h *history) recent(symbol string) ([]float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	buf, ok := h.buffers[symbol]
	if !ok {
		return nil, fmt.Errorf("no price history for symbol %s", symbol)
	}
	if len(buf.closes) == 0 {
		return nil, fmt.Errorf("no closes available for %s", symbol)
	}
	out := make([]float64, len(buf.closes))
	copy(out, buf.closes)
	return out, nil
}

func (h *history) last(symbol string) (float64, error) {
	closes, err := h.recent(symbol)
	if err != nil {
		return 0, err
	}
	return closes[len(closes)-1], nil
}
