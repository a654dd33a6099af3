package domain

import (
	"slices"
	"strings"
	"time"
)

// ChangeOperation describes one row-level mutation reported by the change feed.
type ChangeOperation string

// ChangeOperation values carried by change notifications.
const (
	ChangeOperationInsert ChangeOperation = "insert"
	ChangeOperationUpdate ChangeOperation = "update"
	ChangeOperationDelete ChangeOperation = "delete"
	ChangeOperationAny    ChangeOperation = "*"
)

// DefaultSchema is the schema reported for rows of the local store.
const DefaultSchema = "public"

// watchedTables lists every table whose mutations trigger a dashboard refresh.
var watchedTables = []string{
	"cases",
	"case_followups",
	"followup_evidence",
	"case_messages",
	"involucrados",
	"conduct_types",
	"conduct_catalog",
	"stage_sla",
}

// WatchedTables returns the change-feed table allow-list in canonical order.
func WatchedTables() []string {
	return append([]string(nil), watchedTables...)
}

// IsWatchedTable reports whether table belongs to the default allow-list.
func IsWatchedTable(table string) bool {
	return slices.Contains(watchedTables, NormalizeTableName(table))
}

// NormalizeTableName lowercases and trims a table identifier.
func NormalizeTableName(table string) string {
	return strings.ToLower(strings.TrimSpace(table))
}

// ParseChangeOperation maps raw feed values (INSERT, update, *) onto ChangeOperation.
func ParseChangeOperation(raw string) (ChangeOperation, error) {
	switch op := ChangeOperation(strings.ToLower(strings.TrimSpace(raw))); op {
	case ChangeOperationInsert, ChangeOperationUpdate, ChangeOperationDelete, ChangeOperationAny:
		return op, nil
	default:
		return "", ErrInvalidOperation
	}
}

// ChangeEvent represents one row-level change notification for a watched table.
type ChangeEvent struct {
	ID         int64           `json:"id,omitempty"`
	Schema     string          `json:"schema"`
	Table      string          `json:"table"`
	Operation  ChangeOperation `json:"event"`
	RecordID   string          `json:"record_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewChangeEvent validates and normalizes one change notification.
func NewChangeEvent(schema, table, operation, recordID string, occurredAt time.Time) (ChangeEvent, error) {
	table = NormalizeTableName(table)
	if table == "" {
		return ChangeEvent{}, ErrInvalidTable
	}
	op, err := ParseChangeOperation(operation)
	if err != nil {
		return ChangeEvent{}, err
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = DefaultSchema
	}
	return ChangeEvent{
		Schema:     schema,
		Table:      table,
		Operation:  op,
		RecordID:   strings.TrimSpace(recordID),
		OccurredAt: occurredAt.UTC(),
	}, nil
}
