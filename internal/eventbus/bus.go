// Package eventbus fans a payload-free refresh signal out to every registered
// handler in the process.
package eventbus

import (
	"fmt"
	"sync"
)

// Signal tells subscribers that backing data changed and views should revalidate.
type Signal struct {
	Source string
}

// Handler receives published signals.
type Handler func(Signal)

// Logger receives dispatch diagnostics. *log.Logger from charmbracelet/log satisfies it.
type Logger interface {
	Warn(msg any, keyvals ...any)
}

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for recovered handler panics.
func WithLogger(logger Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

type entry struct {
	token   uint64
	handler Handler
}

// Bus is a synchronous, ordered fan-out of refresh signals.
type Bus struct {
	mu      sync.RWMutex
	entries []entry
	next    uint64
	logger  Logger
}

// New constructs an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide bus, created on first use.
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = New()
	})
	return defaultBus
}

// SetLogger replaces the logger used for recovered handler panics.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe registers handler and returns a function that removes it from
// future dispatches. The returned function is safe to call more than once.
// Registering the same handler twice yields two independent subscriptions.
func (b *Bus) Subscribe(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.next++
	token := b.next
	b.entries = append(b.entries, entry{token: token, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(token)
		})
	}
}

// Publish calls every handler registered at the time of the call exactly once,
// in registration order. A panicking handler is logged and skipped.
func (b *Bus) Publish(signal Signal) {
	b.mu.RLock()
	snapshot := make([]entry, len(b.entries))
	copy(snapshot, b.entries)
	logger := b.logger
	b.mu.RUnlock()

	for _, e := range snapshot {
		dispatch(e, signal, logger)
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Bus) remove(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.token == token {
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return
		}
	}
}

func dispatch(e entry, signal Signal, logger Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Warn("event bus handler panicked", "subscription", e.token, "source", signal.Source, "panic", fmt.Sprint(r))
		}
	}()
	e.handler(signal)
}
