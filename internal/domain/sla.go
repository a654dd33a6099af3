package domain

import "time"

// StageSLA stores the configured maximum number of days allowed for one stage.
type StageSLA struct {
	Stage     string    `json:"stage"`
	Days      int       `json:"days"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStageSLA validates one stage SLA row.
func NewStageSLA(stage string, days int, now time.Time) (StageSLA, error) {
	stage = NormalizeStageLabel(stage)
	if stage == "" {
		return StageSLA{}, ErrInvalidStage
	}
	if days < 0 {
		return StageSLA{}, ErrInvalidSLADays
	}
	return StageSLA{
		Stage:     stage,
		Days:      days,
		UpdatedAt: now.UTC(),
	}, nil
}

// SLAMap indexes SLA rows by stage label.
func SLAMap(rows []StageSLA) map[string]int {
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[NormalizeStageLabel(row.Stage)] = row.Days
	}
	return out
}
