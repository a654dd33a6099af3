package realtime

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a burst of changes becomes one signal.
const DefaultDebounce = 300 * time.Millisecond

// DebounceState names the two states of the debouncer.
type DebounceState string

// DebounceState values.
const (
	DebounceIdle    DebounceState = "idle"
	DebouncePending DebounceState = "pending"
)

// Timer is the cancellable handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc is the production implementation.
type AfterFunc func(d time.Duration, f func()) Timer

func systemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer collapses bursts of Trigger calls into one callback that fires once
// the window has passed without another trigger.
//
// States: idle -Trigger-> pending(now+window); pending -Trigger-> pending(now+window);
// pending -expire-> fire, idle. Stop moves to idle permanently.
type Debouncer struct {
	mu        sync.Mutex
	fireMu    sync.Mutex
	window    time.Duration
	fire      func()
	afterFunc AfterFunc
	now       func() time.Time
	state     DebounceState
	deadline  time.Time
	timer     Timer
	gen       uint64
	stopped   bool
}

// NewDebouncer constructs an idle debouncer. A zero or negative window uses DefaultDebounce.
func NewDebouncer(window time.Duration, fire func(), afterFunc AfterFunc, now func() time.Time) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	if afterFunc == nil {
		afterFunc = systemAfterFunc
	}
	if now == nil {
		now = time.Now
	}
	if fire == nil {
		fire = func() {}
	}
	return &Debouncer{
		window:    window,
		fire:      fire,
		afterFunc: afterFunc,
		now:       now,
		state:     DebounceIdle,
	}
}

// Trigger (re)starts the window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.state = DebouncePending
	d.deadline = d.now().Add(d.window)
	d.timer = d.afterFunc(d.window, func() {
		d.expire(gen)
	})
}

// State reports the current state and, when pending, its deadline.
func (d *Debouncer) State() (DebounceState, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != DebouncePending {
		return d.state, time.Time{}
	}
	return d.state, d.deadline
}

// Stop cancels any pending window and disables further triggers. It waits for
// an in-flight callback to return, so it must not be called from that callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.state = DebounceIdle
	d.deadline = time.Time{}
	d.mu.Unlock()

	d.fireMu.Lock()
	d.fireMu.Unlock()
}

func (d *Debouncer) expire(gen uint64) {
	d.fireMu.Lock()
	defer d.fireMu.Unlock()

	d.mu.Lock()
	if d.stopped || gen != d.gen || d.state != DebouncePending {
		d.mu.Unlock()
		return
	}
	d.state = DebounceIdle
	d.deadline = time.Time{}
	d.timer = nil
	d.mu.Unlock()

	d.fire()
}
