package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/adapters/feed/pgnotify"
	"github.com/hylla/convivencia/internal/config"
	"github.com/hylla/convivencia/internal/eventbus"
	"github.com/hylla/convivencia/internal/realtime"
)

// pruneInterval is how often old change events are removed when retention is set.
const pruneInterval = time.Hour

// liveRefresh owns the realtime subscriber and its change source for one command run.
type liveRefresh struct {
	subscriber *realtime.Subscriber
	closers    []func()
}

// statusText reports the subscriber status for logs.
func (l *liveRefresh) statusText() string {
	if l == nil || l.subscriber == nil {
		return "disabled"
	}
	return string(l.subscriber.Status())
}

// Close stops the subscriber first so no signal follows, then releases sources.
func (l *liveRefresh) Close() {
	if l == nil {
		return
	}
	if l.subscriber != nil {
		_ = l.subscriber.Close()
	}
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
	l.closers = nil
}

// startRealtime wires the configured change source into bus. Source failures
// are logged and leave the subscriber degraded rather than failing the command.
func startRealtime(ctx context.Context, s *session, bus *eventbus.Bus) (*liveRefresh, error) {
	live := &liveRefresh{}
	if !s.cfg.Realtime.Enabled {
		s.logger.Info("realtime disabled")
		return live, nil
	}
	debounce, err := s.cfg.DebounceDuration()
	if err != nil {
		return nil, err
	}
	retention, err := s.cfg.ChangeRetentionDuration()
	if err != nil {
		return nil, err
	}

	source, closeSource, err := newChangeSource(ctx, s)
	if err != nil {
		s.logger.Warn("realtime source unavailable", "source", s.cfg.Realtime.Source, "err", err)
	}
	if closeSource != nil {
		live.closers = append(live.closers, closeSource)
	}

	live.subscriber = realtime.NewSubscriber(source, bus, realtime.Config{
		Tables:       s.cfg.Realtime.Tables,
		Debounce:     debounce,
		SignalSource: s.cfg.Realtime.Source,
	}, realtime.WithLogger(s.logger))
	if err := live.subscriber.Start(ctx); err != nil {
		live.Close()
		return nil, fmt.Errorf("start realtime subscriber: %w", err)
	}
	s.logger.Info("realtime started", "source", s.cfg.Realtime.Source, "status", live.statusText(), "debounce", debounce)

	if retention > 0 && sourceKind(s.cfg) == config.RealtimeSourceSQLite {
		pruneCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			pruneChangeEventsLoop(pruneCtx, s, retention)
		}()
		live.closers = append(live.closers, func() {
			cancel()
			<-done
		})
	}
	return live, nil
}

// newChangeSource opens the configured realtime source. The returned closer may be nil.
func newChangeSource(ctx context.Context, s *session) (realtime.Source, func(), error) {
	switch sourceKind(s.cfg) {
	case config.RealtimeSourcePostgres:
		src, err := pgnotify.Open(ctx, pgnotify.Config{
			DSN:     s.cfg.PostgresDSN(),
			Channel: s.cfg.Realtime.Channel,
		}, s.logger)
		if err != nil {
			return nil, nil, err
		}
		if s.cfg.Realtime.InstallTriggers {
			if err := src.InstallTriggers(ctx, s.cfg.Realtime.Tables); err != nil {
				src.Close()
				return nil, nil, fmt.Errorf("install notify triggers: %w", err)
			}
			s.logger.Info("postgres notify triggers installed", "channel", s.cfg.Realtime.Channel, "tables", len(s.cfg.Realtime.Tables))
		}
		return src, src.Close, nil
	default:
		interval, err := s.cfg.PollIntervalDuration()
		if err != nil {
			return nil, nil, err
		}
		return realtime.NewPollingSource(
			s.repo,
			realtime.WithPollInterval(interval),
			realtime.WithPollLogger(s.logger),
		), nil, nil
	}
}

// sourceKind normalizes realtime.source.
func sourceKind(cfg config.Config) string {
	return strings.ToLower(strings.TrimSpace(cfg.Realtime.Source))
}

// pruneChangeEventsLoop trims change_events older than retention until ctx ends.
func pruneChangeEventsLoop(ctx context.Context, s *session, retention time.Duration) {
	prune := func() {
		removed, err := s.repo.PruneChangeEvents(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("change event prune failed", "err", err)
			}
			return
		}
		if removed > 0 {
			s.logger.Debug("change events pruned", "removed", removed, "retention", retention)
		}
	}
	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
