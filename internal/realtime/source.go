package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/hylla/convivencia/internal/domain"
)

// ErrSourceClosed reports an Open on a closed source.
var ErrSourceClosed = errors.New("change source closed")

// Feed is one open change-notification subscription.
type Feed interface {
	Events() <-chan domain.ChangeEvent
	Err() error
	Close() error
}

// Source opens change-notification feeds filtered to the given tables.
type Source interface {
	Open(ctx context.Context, tables []string) (Feed, error)
}

// ChannelSource is an in-process Source fed by Emit.
type ChannelSource struct {
	mu      sync.Mutex
	feeds   map[*channelFeed]struct{}
	buffer  int
	openErr error
	closed  bool
}

// NewChannelSource constructs an in-process source with the given per-feed buffer.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSource{
		feeds:  map[*channelFeed]struct{}{},
		buffer: buffer,
	}
}

// FailOpen makes subsequent Open calls return err. A nil err clears the failure.
func (s *ChannelSource) FailOpen(err error) {
	s.mu.Lock()
	s.openErr = err
	s.mu.Unlock()
}

// Open returns a feed receiving every emitted event for the given tables.
func (s *ChannelSource) Open(_ context.Context, tables []string) (Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.openErr != nil {
		return nil, s.openErr
	}
	feed := &channelFeed{
		source: s,
		tables: tableSet(tables),
		ch:     make(chan domain.ChangeEvent, s.buffer),
		done:   make(chan struct{}),
	}
	s.feeds[feed] = struct{}{}
	return feed, nil
}

// Emit delivers ev to every open feed watching its table and reports how many received it.
func (s *ChannelSource) Emit(ctx context.Context, ev domain.ChangeEvent) int {
	s.mu.Lock()
	feeds := make([]*channelFeed, 0, len(s.feeds))
	for feed := range s.feeds {
		feeds = append(feeds, feed)
	}
	s.mu.Unlock()

	delivered := 0
	for _, feed := range feeds {
		if !feed.watches(ev.Table) {
			continue
		}
		select {
		case feed.ch <- ev:
			delivered++
		case <-feed.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

// Close closes every open feed and rejects further Open calls.
func (s *ChannelSource) Close() error {
	s.mu.Lock()
	feeds := make([]*channelFeed, 0, len(s.feeds))
	for feed := range s.feeds {
		feeds = append(feeds, feed)
	}
	s.closed = true
	s.mu.Unlock()
	for _, feed := range feeds {
		_ = feed.Close()
	}
	return nil
}

type channelFeed struct {
	source *ChannelSource
	tables map[string]struct{}
	ch     chan domain.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (f *channelFeed) Events() <-chan domain.ChangeEvent {
	return f.ch
}

func (f *channelFeed) Err() error {
	return nil
}

func (f *channelFeed) Close() error {
	f.once.Do(func() {
		close(f.done)
		f.source.mu.Lock()
		delete(f.source.feeds, f)
		f.source.mu.Unlock()
	})
	return nil
}

func (f *channelFeed) watches(table string) bool {
	if len(f.tables) == 0 {
		return true
	}
	_, ok := f.tables[domain.NormalizeTableName(table)]
	return ok
}

func tableSet(tables []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		table = domain.NormalizeTableName(table)
		if table == "" {
			continue
		}
		out[table] = struct{}{}
	}
	return out
}
