// Package pgnotify opens change feeds over PostgreSQL LISTEN/NOTIFY.
package pgnotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/realtime"
)

// DefaultChannel is the NOTIFY channel written by the change trigger.
const DefaultChannel = "convivencia_changes"

// ErrMissingDSN reports an empty connection string.
var ErrMissingDSN = errors.New("postgres dsn is required")

// Logger receives malformed payload diagnostics.
type Logger interface {
	Warn(msg any, keyvals ...any)
}

// Config holds connection settings.
type Config struct {
	DSN     string
	Channel string
	Buffer  int
}

// Source is a realtime.Source backed by a pgx pool.
type Source struct {
	pool    *pgxpool.Pool
	channel string
	buffer  int
	logger  Logger
}

var _ realtime.Source = (*Source)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, cfg Config, logger Logger) (*Source, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgnotify: ping: %w", err)
	}
	return New(pool, cfg.Channel, cfg.Buffer, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, channel string, buffer int, logger Logger) *Source {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Source{pool: pool, channel: channel, buffer: buffer, logger: logger}
}

// Close releases the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// InstallTriggers creates the notify function and one trigger per table.
func (s *Source) InstallTriggers(ctx context.Context, tables []string) error {
	for _, stmt := range TriggerSQL(s.channel, tables) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgnotify: install triggers: %w", err)
		}
	}
	return nil
}

// Open dedicates one pooled connection to LISTEN on the channel.
func (s *Source) Open(ctx context.Context, tables []string) (realtime.Feed, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgnotify: acquire: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pgnotify: listen %s: %w", s.channel, err)
	}

	allowed := map[string]struct{}{}
	for _, table := range tables {
		if table = domain.NormalizeTableName(table); table != "" {
			allowed[table] = struct{}{}
		}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	feed := &feed{
		ch:     make(chan domain.ChangeEvent, s.buffer),
		cancel: cancel,
	}
	go feed.loop(loopCtx, conn, allowed, s.logger)
	return feed, nil
}

type feed struct {
	ch     chan domain.ChangeEvent
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (f *feed) Events() <-chan domain.ChangeEvent {
	return f.ch
}

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	f.once.Do(f.cancel)
	return nil
}

func (f *feed) loop(ctx context.Context, conn *pgxpool.Conn, allowed map[string]struct{}, logger Logger) {
	defer close(f.ch)
	defer conn.Release()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.mu.Lock()
				f.err = err
				f.mu.Unlock()
			}
			return
		}
		ev, err := DecodePayload(n.Payload, time.Now())
		if err != nil {
			if logger != nil {
				logger.Warn("pgnotify: dropped malformed payload", "channel", n.Channel, "err", err)
			}
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[ev.Table]; !ok {
				continue
			}
		}
		select {
		case f.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

type payload struct {
	Event      string    `json:"event"`
	Type       string    `json:"type"`
	Schema     string    `json:"schema"`
	Table      string    `json:"table"`
	RecordID   string    `json:"record_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DecodePayload parses a NOTIFY payload of the form
// {"event":"INSERT","schema":"public","table":"cases"}. "type" is accepted as
// an alias for "event"; a missing timestamp uses now.
func DecodePayload(raw string, now time.Time) (domain.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("decode payload: %w", err)
	}
	op := p.Event
	if strings.TrimSpace(op) == "" {
		op = p.Type
	}
	at := p.OccurredAt
	if at.IsZero() {
		at = now
	}
	return domain.NewChangeEvent(p.Schema, p.Table, op, p.RecordID, at)
}

// TriggerSQL returns the statements that make every listed table publish
// row changes on channel.
func TriggerSQL(channel string, tables []string) []string {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	literal := strings.ReplaceAll(channel, "'", "''")
	stmts := []string{
		`CREATE OR REPLACE FUNCTION convivencia_notify_change() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + literal + `', json_build_object(
		'event', lower(TG_OP),
		'schema', TG_TABLE_SCHEMA,
		'table', TG_TABLE_NAME,
		'occurred_at', now()
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`,
	}
	for _, table := range tables {
		table = domain.NormalizeTableName(table)
		if table == "" {
			continue
		}
		ident := pgx.Identifier{table}.Sanitize()
		trigger := pgx.Identifier{table + "_notify_change"}.Sanitize()
		stmts = append(stmts,
			"DROP TRIGGER IF EXISTS "+trigger+" ON "+ident,
			"CREATE TRIGGER "+trigger+" AFTER INSERT OR UPDATE OR DELETE ON "+ident+
				" FOR EACH ROW EXECUTE FUNCTION convivencia_notify_change()",
		)
	}
	return stmts
}
