package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/hylla/convivencia/internal/domain"
)

// Polling defaults.
const (
	DefaultPollInterval = time.Second
	DefaultPollBatch    = 200
)

// ChangeLog exposes the append-only change_events table of the local store.
type ChangeLog interface {
	LatestChangeEventID(ctx context.Context) (int64, error)
	ListChangeEventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.ChangeEvent, error)
}

// PollingOption customizes PollingSource construction.
type PollingOption func(*PollingSource)

// WithPollInterval overrides the poll interval.
func WithPollInterval(interval time.Duration) PollingOption {
	return func(s *PollingSource) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithPollBatch overrides the maximum rows fetched per poll.
func WithPollBatch(batch int) PollingOption {
	return func(s *PollingSource) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

// WithPollLogger injects a logger for transient poll failures.
func WithPollLogger(logger Logger) PollingOption {
	return func(s *PollingSource) {
		s.logger = logger
	}
}

// PollingSource turns a ChangeLog into a Source by polling for rows newer than
// the last one seen. Feeds start after the newest row present at Open.
type PollingSource struct {
	log      ChangeLog
	interval time.Duration
	batch    int
	logger   Logger
}

// NewPollingSource constructs a polling source over log.
func NewPollingSource(log ChangeLog, opts ...PollingOption) *PollingSource {
	s := &PollingSource{
		log:      log,
		interval: DefaultPollInterval,
		batch:    DefaultPollBatch,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open records the current high-water mark and starts polling.
func (s *PollingSource) Open(ctx context.Context, tables []string) (Feed, error) {
	latest, err := s.log.LatestChangeEventID(ctx)
	if err != nil {
		return nil, err
	}
	feed := &pollingFeed{
		source: s,
		tables: tableSet(tables),
		ch:     make(chan domain.ChangeEvent, s.batch),
		done:   make(chan struct{}),
	}
	go feed.loop(ctx, latest)
	return feed, nil
}

type pollingFeed struct {
	source *PollingSource
	tables map[string]struct{}
	ch     chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (f *pollingFeed) Events() <-chan domain.ChangeEvent {
	return f.ch
}

func (f *pollingFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *pollingFeed) Close() error {
	f.once.Do(func() {
		close(f.done)
	})
	return nil
}

func (f *pollingFeed) loop(ctx context.Context, lastID int64) {
	defer close(f.ch)
	ticker := time.NewTicker(f.source.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
		}
		next, ok := f.poll(ctx, lastID)
		if !ok {
			return
		}
		lastID = next
	}
}

// poll forwards every row after lastID and returns the new high-water mark.
// It reports false once the feed should stop.
func (f *pollingFeed) poll(ctx context.Context, lastID int64) (int64, bool) {
	events, err := f.source.log.ListChangeEventsAfter(ctx, lastID, f.source.batch)
	if err != nil {
		if ctx.Err() != nil {
			return lastID, false
		}
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		if f.source.logger != nil {
			f.source.logger.Warn("change log poll failed", "after_id", lastID, "err", err)
		}
		return lastID, true
	}
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	for _, ev := range events {
		if ev.ID > lastID {
			lastID = ev.ID
		}
		if len(f.tables) > 0 {
			if _, ok := f.tables[domain.NormalizeTableName(ev.Table)]; !ok {
				continue
			}
		}
		select {
		case f.ch <- ev:
		case <-f.done:
			return lastID, false
		case <-ctx.Done():
			return lastID, false
		}
	}
	return lastID, true
}
