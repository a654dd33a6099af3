package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/eventbus"
)

type countingPublisher struct {
	mu      sync.Mutex
	signals []eventbus.Signal
}

func (p *countingPublisher) Publish(signal eventbus.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, signal)
}

func (p *countingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.signals)
}

func change(table string) domain.ChangeEvent {
	return domain.ChangeEvent{Schema: domain.DefaultSchema, Table: table, Operation: domain.ChangeOperationInsert}
}

func newTestSubscriber(t *testing.T, source Source) (*Subscriber, *countingPublisher, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	pub := &countingPublisher{}
	sub := NewSubscriber(source, pub, Config{Debounce: 300 * time.Millisecond, SignalSource: "test"},
		WithAfterFunc(clock.AfterFunc), WithNow(clock.Now))
	t.Cleanup(func() { _ = sub.Close() })
	return sub, pub, clock
}

// waitTriggered blocks until the feed goroutine has restarted the window at the current fake time.
func waitTriggered(t *testing.T, sub *Subscriber, clock *fakeClock) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, deadline := sub.debounce.State()
		return state == DebouncePending && deadline.Equal(clock.Now().Add(300*time.Millisecond))
	}, time.Second, time.Millisecond)
}

func TestSubscriberCoalescesFeedBurst(t *testing.T) {
	source := NewChannelSource(0)
	sub, pub, clock := newTestSubscriber(t, source)
	require.NoError(t, sub.Start(context.Background()))
	require.Equal(t, StatusSubscribed, sub.Status())

	ctx := context.Background()
	for _, table := range []string{"cases", "case_followups", "stage_sla"} {
		require.Equal(t, 1, source.Emit(ctx, change(table)))
		waitTriggered(t, sub, clock)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Equal(t, 0, pub.Count())

	clock.Advance(300 * time.Millisecond)
	require.Equal(t, 1, pub.Count())
	assert.Equal(t, "test", pub.signals[0].Source)
}

func TestSubscriberIgnoresTablesOutsideAllowList(t *testing.T) {
	sub, pub, clock := newTestSubscriber(t, NewChannelSource(0))

	assert.False(t, sub.Notify(change("users")))
	assert.False(t, sub.Pending())
	clock.Advance(time.Second)
	assert.Equal(t, 0, pub.Count())

	assert.True(t, sub.Notify(change(" Involucrados ")))
	clock.Advance(time.Second)
	assert.Equal(t, 1, pub.Count())
}

func TestSubscriberChannelSourceFiltersServerSide(t *testing.T) {
	source := NewChannelSource(1)
	pub := &countingPublisher{}
	sub := NewSubscriber(source, pub, Config{Tables: []string{"cases"}})
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Close()

	assert.Equal(t, 0, source.Emit(context.Background(), change("stage_sla")))
	assert.Equal(t, []string{"cases"}, sub.Tables())
}

func TestSubscriberCloseSuppressesPendingSignal(t *testing.T) {
	sub, pub, clock := newTestSubscriber(t, NewChannelSource(0))
	require.NoError(t, sub.Start(context.Background()))

	sub.Notify(change("cases"))
	require.True(t, sub.Pending())
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	clock.Advance(time.Second)
	sub.Notify(change("cases"))
	clock.Advance(time.Second)
	assert.Equal(t, 0, pub.Count())
	assert.Equal(t, StatusClosed, sub.Status())
}

func TestSubscriberDegradesOnOpenFailure(t *testing.T) {
	source := NewChannelSource(0)
	source.FailOpen(errors.New("channel error"))
	sub, _, _ := newTestSubscriber(t, source)

	require.NoError(t, sub.Start(context.Background()))
	assert.Equal(t, StatusDegraded, sub.Status())
	assert.EqualError(t, sub.LastError(), "channel error")
}

func TestSubscriberDegradesWhenFeedEnds(t *testing.T) {
	feed := &closingFeed{ch: make(chan domain.ChangeEvent), err: errors.New("connection reset")}
	sub, _, _ := newTestSubscriber(t, sourceFunc(func(context.Context, []string) (Feed, error) { return feed, nil }))

	require.NoError(t, sub.Start(context.Background()))
	close(feed.ch)
	require.Eventually(t, func() bool { return sub.Status() == StatusDegraded }, time.Second, time.Millisecond)
	assert.EqualError(t, sub.LastError(), "connection reset")
}

func TestSubscriberStartAfterCloseFails(t *testing.T) {
	sub, _, _ := newTestSubscriber(t, NewChannelSource(0))
	require.NoError(t, sub.Close())
	assert.ErrorIs(t, sub.Start(context.Background()), ErrSourceClosed)
}

func TestSubscriberPublishesToBusWithRealTimer(t *testing.T) {
	bus := eventbus.New()
	var mu sync.Mutex
	calls := 0
	bus.Subscribe(func(eventbus.Signal) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	source := NewChannelSource(4)
	sub := NewSubscriber(source, bus, Config{Debounce: 20 * time.Millisecond})
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Close()

	for i := 0; i < 4; i++ {
		source.Emit(context.Background(), change("case_followups"))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 5*time.Millisecond)
}

type sourceFunc func(ctx context.Context, tables []string) (Feed, error)

func (f sourceFunc) Open(ctx context.Context, tables []string) (Feed, error) {
	return f(ctx, tables)
}

type closingFeed struct {
	ch  chan domain.ChangeEvent
	err error
}

func (f *closingFeed) Events() <-chan domain.ChangeEvent { return f.ch }
func (f *closingFeed) Err() error                        { return f.err }
func (f *closingFeed) Close() error                      { return nil }
