package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/hylla/convivencia/internal/domain"
)

// changeEventTSLayout matches strftime('%Y-%m-%dT%H:%M:%fZ') written by the change triggers.
const changeEventTSLayout = "2006-01-02T15:04:05.000Z"

// recordKeyColumn names the column reported as record_id per watched table.
var recordKeyColumn = map[string]string{
	"stage_sla": "stage",
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS conduct_types (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conduct_catalog (
			id TEXT PRIMARY KEY,
			conduct_type_id TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(conduct_type_id) REFERENCES conduct_types(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS cases (
			id TEXT PRIMARY KEY,
			folio TEXT NOT NULL DEFAULT '',
			student_name TEXT NOT NULL,
			course TEXT NOT NULL DEFAULT '',
			conduct_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			current_stage TEXT NOT NULL DEFAULT '',
			completed_stages_json TEXT NOT NULL DEFAULT '[]',
			stage_started_at TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS case_followups (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			etapa_debido_proceso TEXT NOT NULL DEFAULT '',
			fecha TEXT NOT NULL DEFAULT '',
			detalle TEXT NOT NULL DEFAULT '',
			descripcion TEXT NOT NULL DEFAULT '',
			acciones TEXT NOT NULL DEFAULT '',
			observaciones TEXT NOT NULL DEFAULT '',
			responsable TEXT NOT NULL DEFAULT '',
			estado_etapa TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS followup_evidence (
			id TEXT PRIMARY KEY,
			followup_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY(followup_id) REFERENCES case_followups(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS case_messages (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS involucrados (
			id TEXT PRIMARY KEY,
			case_id TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS stage_sla (
			stage TEXT PRIMARY KEY,
			days INTEGER NOT NULL CHECK (days >= 0),
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS change_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			schema_name TEXT NOT NULL DEFAULT 'public',
			table_name TEXT NOT NULL,
			operation TEXT NOT NULL,
			record_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cases_status_opened ON cases(status, opened_at);`,
		`CREATE INDEX IF NOT EXISTS idx_case_followups_case ON case_followups(case_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_change_events_created ON change_events(created_at);`,
	}
	stmts = append(stmts, changeTriggerStatements()...)
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// changeTriggerStatements builds AFTER INSERT/UPDATE/DELETE triggers that
// append one change_events row per mutated row of every watched table.
func changeTriggerStatements() []string {
	ops := []struct {
		event string
		row   string
	}{
		{event: "INSERT", row: "NEW"},
		{event: "UPDATE", row: "NEW"},
		{event: "DELETE", row: "OLD"},
	}
	out := make([]string, 0, len(domain.WatchedTables())*len(ops))
	for _, table := range domain.WatchedTables() {
		key := recordKeyColumn[table]
		if key == "" {
			key = "id"
		}
		for _, op := range ops {
			out = append(out, fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS trg_%[1]s_%[2]s_change
				AFTER %[3]s ON %[1]s
				BEGIN
					INSERT INTO change_events(schema_name, table_name, operation, record_id, created_at)
					VALUES ('%[4]s', '%[1]s', '%[2]s', %[5]s.%[6]s, strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'));
				END;`,
				table, strings.ToLower(op.event), op.event, domain.DefaultSchema, op.row, key))
		}
	}
	return out
}
