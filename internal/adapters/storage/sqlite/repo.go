package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/realtime"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// busyTimeoutPragma lets the change poller and writers share the file.
const busyTimeoutPragma = "_pragma=busy_timeout(5000)"

var (
	_ app.Repository     = (*Repository)(nil)
	_ realtime.ChangeLog = (*Repository)(nil)
)

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, "file:"+path+"?"+busyTimeoutPragma)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared&"+busyTimeoutPragma)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newRepository(db)
}

func newRepository(db *sql.DB) (*Repository, error) {
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateCase inserts one case row.
func (r *Repository) CreateCase(ctx context.Context, c domain.Case) error {
	return insertCase(ctx, r.db, c)
}

// OpenCase inserts a case together with its first follow-up in one transaction.
func (r *Repository) OpenCase(ctx context.Context, c domain.Case, first domain.FollowUp) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertCase(ctx, tx, c); err != nil {
		return err
	}
	if err = insertFollowUp(ctx, tx, first); err != nil {
		return fmt.Errorf("insert first follow-up: %w", err)
	}
	return tx.Commit()
}

// UpdateCase updates state for the requested operation.
func (r *Repository) UpdateCase(ctx context.Context, c domain.Case) error {
	completed, err := encodeStages(c.CompletedStages)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE cases
		SET folio = ?, student_name = ?, course = ?, conduct_type = ?, description = ?,
			current_stage = ?, completed_stages_json = ?, stage_started_at = ?, status = ?,
			opened_at = ?, closed_at = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Folio, c.StudentName, c.Course, c.ConductType, c.Description,
		c.CurrentStage, completed, nullableTS(c.StageStartedAt), string(c.Status),
		ts(c.OpenedAt), nullableTS(c.ClosedAt), ts(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return err
	}
	return translateNoRows(res)
}

// GetCase returns case.
func (r *Repository) GetCase(ctx context.Context, id string) (domain.Case, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases
		WHERE id = ?
	`, id)
	return scanCase(row)
}

// ListCases returns cases ordered by opening time.
func (r *Repository) ListCases(ctx context.Context, includeClosed bool) ([]domain.Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
	`
	if !includeClosed {
		query += ` WHERE status = 'open'`
	}
	query += ` ORDER BY opened_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateFollowUp inserts one immutable follow-up row.
func (r *Repository) CreateFollowUp(ctx context.Context, f domain.FollowUp) error {
	return insertFollowUp(ctx, r.db, f)
}

// ListFollowUps returns every follow-up of one case in insertion order.
func (r *Repository) ListFollowUps(ctx context.Context, caseID string) ([]domain.FollowUp, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, etapa_debido_proceso, fecha, detalle, descripcion,
			acciones, observaciones, responsable, estado_etapa, created_at
		FROM case_followups
		WHERE case_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FollowUp, 0)
	for rows.Next() {
		var (
			f          domain.FollowUp
			createdRaw string
		)
		if err := rows.Scan(
			&f.ID, &f.CaseID, &f.Stage, &f.Date, &f.Detail, &f.Description,
			&f.Actions, &f.Observations, &f.Responsible, &f.StageStatus, &createdRaw,
		); err != nil {
			return nil, err
		}
		f.CreatedAt = parseTS(createdRaw)
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpsertStageSLA inserts or replaces one stage SLA row.
func (r *Repository) UpsertStageSLA(ctx context.Context, row domain.StageSLA) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stage_sla(stage, days, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stage) DO UPDATE SET days = excluded.days, updated_at = excluded.updated_at
	`, row.Stage, row.Days, ts(row.UpdatedAt))
	return err
}

// ListStageSLA returns all stage SLA rows ordered by stage.
func (r *Repository) ListStageSLA(ctx context.Context) ([]domain.StageSLA, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT stage, days, updated_at
		FROM stage_sla
		ORDER BY stage ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StageSLA, 0)
	for rows.Next() {
		var (
			row        domain.StageSLA
			updatedRaw string
		)
		if err := rows.Scan(&row.Stage, &row.Days, &updatedRaw); err != nil {
			return nil, err
		}
		row.UpdatedAt = parseTS(updatedRaw)
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestChangeEventID returns the newest change_events id, or 0 when empty.
func (r *Repository) LatestChangeEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM change_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// ListChangeEventsAfter returns change rows with id greater than afterID, oldest first.
func (r *Repository) ListChangeEventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 {
		limit = realtime.DefaultPollBatch
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, schema_name, table_name, operation, record_id, created_at
		FROM change_events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ChangeEvent, 0)
	for rows.Next() {
		var (
			id         int64
			schema     string
			table      string
			opRaw      string
			recordID   string
			createdRaw string
		)
		if err := rows.Scan(&id, &schema, &table, &opRaw, &recordID, &createdRaw); err != nil {
			return nil, err
		}
		ev, err := domain.NewChangeEvent(schema, table, opRaw, recordID, parseTS(createdRaw))
		if err != nil {
			return nil, fmt.Errorf("decode change event %d: %w", id, err)
		}
		ev.ID = id
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneChangeEvents deletes change rows older than cutoff and reports how many were removed.
func (r *Repository) PruneChangeEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_events WHERE created_at < ?`, cutoff.UTC().Format(changeEventTSLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const caseColumns = `id, folio, student_name, course, conduct_type, description,
			current_stage, completed_stages_json, stage_started_at, status,
			opened_at, closed_at, created_at, updated_at`

// scanner abstracts sql.Row and sql.Rows.
// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCase(ctx context.Context, db execer, c domain.Case) error {
	completed, err := encodeStages(c.CompletedStages)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cases(
			id, folio, student_name, course, conduct_type, description,
			current_stage, completed_stages_json, stage_started_at, status,
			opened_at, closed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Folio, c.StudentName, c.Course, c.ConductType, c.Description,
		c.CurrentStage, completed, nullableTS(c.StageStartedAt), string(c.Status),
		ts(c.OpenedAt), nullableTS(c.ClosedAt), ts(c.CreatedAt), ts(c.UpdatedAt),
	)
	return err
}

func insertFollowUp(ctx context.Context, db execer, f domain.FollowUp) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO case_followups(
			id, case_id, etapa_debido_proceso, fecha, detalle, descripcion,
			acciones, observaciones, responsable, estado_etapa, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.CaseID, f.Stage, f.Date, f.Detail, f.Description,
		f.Actions, f.Observations, f.Responsible, f.StageStatus, ts(f.CreatedAt),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(s scanner) (domain.Case, error) {
	var (
		c            domain.Case
		completedRaw string
		stageStarted sql.NullString
		status       string
		openedRaw    string
		closed       sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := s.Scan(
		&c.ID, &c.Folio, &c.StudentName, &c.Course, &c.ConductType, &c.Description,
		&c.CurrentStage, &completedRaw, &stageStarted, &status,
		&openedRaw, &closed, &createdRaw, &updatedRaw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Case{}, app.ErrNotFound
		}
		return domain.Case{}, err
	}
	if strings.TrimSpace(completedRaw) == "" {
		completedRaw = "[]"
	}
	if err := json.Unmarshal([]byte(completedRaw), &c.CompletedStages); err != nil {
		return domain.Case{}, fmt.Errorf("decode case completed_stages_json: %w", err)
	}
	if c.CompletedStages == nil {
		c.CompletedStages = []string{}
	}
	c.Status = domain.CaseStatus(status)
	c.StageStartedAt = parseNullTS(stageStarted)
	c.OpenedAt = parseTS(openedRaw)
	c.ClosedAt = parseNullTS(closed)
	c.CreatedAt = parseTS(createdRaw)
	c.UpdatedAt = parseTS(updatedRaw)
	return c, nil
}

func encodeStages(stages []string) (string, error) {
	if stages == nil {
		stages = []string{}
	}
	raw, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("encode completed stages: %w", err)
	}
	return string(raw), nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
