package process

import "time"

// AlertLevel grades how close the current stage is to its SLA.
type AlertLevel string

// AlertLevel values.
const (
	AlertNone    AlertLevel = "none"
	AlertOK      AlertLevel = "ok"
	AlertDueSoon AlertLevel = "due_soon"
	AlertOverdue AlertLevel = "overdue"
)

// Deadline summarizes the SLA position of the current stage.
type Deadline struct {
	Stage       string     `json:"stage"`
	Level       AlertLevel `json:"level"`
	ElapsedDays int        `json:"elapsed_days"`
	SLADays     *int       `json:"sla_days"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// EvaluateDeadline compares calendar days elapsed since startedAt with the SLA.
// A missing SLA or start time yields AlertNone.
func EvaluateDeadline(stage string, startedAt *time.Time, slaDays *int, now time.Time, dueSoonDays int) Deadline {
	out := Deadline{Stage: stage, Level: AlertNone, SLADays: slaDays}
	if startedAt == nil {
		return out
	}
	start := truncateDay(startedAt.UTC())
	today := truncateDay(now.UTC())
	elapsed := int(today.Sub(start).Hours() / 24)
	if elapsed < 0 {
		elapsed = 0
	}
	out.ElapsedDays = elapsed
	if slaDays == nil {
		return out
	}
	due := start.AddDate(0, 0, *slaDays)
	out.DueAt = &due
	remaining := *slaDays - elapsed
	switch {
	case remaining < 0:
		out.Level = AlertOverdue
	case remaining <= dueSoonDays:
		out.Level = AlertDueSoon
	default:
		out.Level = AlertOK
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
