// Package realtime turns row-level change notifications from the backing store
// into debounced refresh signals on the event bus.
package realtime

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/eventbus"
)

// ErrFeedEnded reports a feed whose event channel closed without an error.
var ErrFeedEnded = errors.New("change feed ended")

// Status describes the live-refresh health of a Subscriber.
type Status string

// Status values.
const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusSubscribed Status = "subscribed"
	StatusDegraded   Status = "degraded"
	StatusClosed     Status = "closed"
)

// Logger receives subscriber diagnostics. *log.Logger from charmbracelet/log satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// Publisher receives refresh signals. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(eventbus.Signal)
}

// Config holds subscriber settings.
type Config struct {
	Tables   []string
	Debounce time.Duration
	// SignalSource tags published signals for logging.
	SignalSource string
}

// Option customizes Subscriber construction.
type Option func(*Subscriber)

// WithLogger injects a logger.
func WithLogger(logger Logger) Option {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithAfterFunc replaces the timer scheduler used by the debouncer.
func WithAfterFunc(afterFunc AfterFunc) Option {
	return func(s *Subscriber) {
		s.afterFunc = afterFunc
	}
}

// WithNow replaces the clock used for debounce deadlines.
func WithNow(now func() time.Time) Option {
	return func(s *Subscriber) {
		s.now = now
	}
}

// Subscriber bridges a change Source into debounced signals on a Publisher.
type Subscriber struct {
	source    Source
	publisher Publisher
	tables    []string
	allowed   map[string]struct{}
	window    time.Duration
	tag       string
	logger    Logger
	afterFunc AfterFunc
	now       func() time.Time
	debounce  *Debouncer

	mu      sync.Mutex
	status  Status
	lastErr error
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSubscriber constructs an idle subscriber. An empty table list watches the
// default allow-list and a nil publisher targets eventbus.Default().
func NewSubscriber(source Source, publisher Publisher, cfg Config, opts ...Option) *Subscriber {
	tables := cfg.Tables
	if len(tables) == 0 {
		tables = domain.WatchedTables()
	}
	allowed := tableSet(tables)
	normalized := make([]string, 0, len(allowed))
	for _, table := range tables {
		table = domain.NormalizeTableName(table)
		if _, ok := allowed[table]; ok && !slices.Contains(normalized, table) {
			normalized = append(normalized, table)
		}
	}
	if publisher == nil {
		publisher = eventbus.Default()
	}
	tag := cfg.SignalSource
	if tag == "" {
		tag = "realtime"
	}
	s := &Subscriber{
		source:    source,
		publisher: publisher,
		tables:    normalized,
		allowed:   allowed,
		window:    cfg.Debounce,
		tag:       tag,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.debounce = NewDebouncer(s.window, s.publish, s.afterFunc, s.now)
	return s
}

// Start opens the feed and begins forwarding notifications. Open failures are
// logged and leave the subscriber degraded; Start only fails when closed.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.status = StatusConnecting
	s.mu.Unlock()

	if s.source == nil {
		s.degrade(errors.New("no change source configured"))
		return nil
	}
	feed, err := s.source.Open(ctx, s.tables)
	if err != nil {
		s.degrade(err)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = feed.Close()
		return nil
	}
	s.cancel = cancel
	s.done = done
	s.status = StatusSubscribed
	s.lastErr = nil
	s.mu.Unlock()
	s.logInfo("realtime subscribed", "tables", len(s.tables))

	go s.run(runCtx, feed, done)
	return nil
}

// Close cancels any pending refresh and closes the feed. No signal is
// published after Close returns. It is safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	s.debounce.Stop()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.setStatus(StatusClosed)
	return nil
}

// Status reports the current live-refresh status.
func (s *Subscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error that last degraded the subscriber.
func (s *Subscriber) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Tables returns the normalized allow-list.
func (s *Subscriber) Tables() []string {
	return append([]string(nil), s.tables...)
}

// Notify feeds one change notification through the allow-list and debouncer.
func (s *Subscriber) Notify(ev domain.ChangeEvent) bool {
	if _, ok := s.allowed[domain.NormalizeTableName(ev.Table)]; !ok {
		s.logDebug("realtime ignored change", "table", ev.Table, "event", ev.Operation)
		return false
	}
	s.debounce.Trigger()
	return true
}

// Pending reports whether a refresh is scheduled.
func (s *Subscriber) Pending() bool {
	state, _ := s.debounce.State()
	return state == DebouncePending
}

func (s *Subscriber) run(ctx context.Context, feed Feed, done chan struct{}) {
	defer close(done)
	defer func() {
		_ = feed.Close()
	}()
	events := feed.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				err := feed.Err()
				if err == nil {
					err = ErrFeedEnded
				}
				s.degrade(err)
				return
			}
			s.Notify(ev)
		}
	}
}

func (s *Subscriber) publish() {
	s.publisher.Publish(eventbus.Signal{Source: s.tag})
	s.logDebug("realtime refresh published", "source", s.tag)
}

func (s *Subscriber) degrade(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status = StatusDegraded
	s.lastErr = err
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Warn("realtime degraded; live refresh disabled", "err", err)
	}
}

func (s *Subscriber) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Subscriber) logInfo(msg string, keyvals ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keyvals...)
	}
}

func (s *Subscriber) logDebug(msg string, keyvals ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keyvals...)
	}
}
