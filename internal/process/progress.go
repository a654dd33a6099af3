package process

import (
	"regexp"
	"strings"

	"github.com/hylla/convivencia/internal/domain"
)

// State describes where a stage sits relative to a case's progress.
type State string

// State values.
const (
	StateCompleted State = "completed"
	StateCurrent   State = "current"
	StatePending   State = "pending"
)

// StageSet is a set of normalized stage labels.
type StageSet map[string]struct{}

// NewStageSet builds a set of normalized stage labels.
func NewStageSet(stages ...string) StageSet {
	out := make(StageSet, len(stages))
	for _, stage := range stages {
		label := domain.NormalizeStageLabel(stage)
		if label == "" {
			continue
		}
		out[label] = struct{}{}
	}
	return out
}

// Has reports whether the set contains stage after normalization.
func (s StageSet) Has(stage string) bool {
	_, ok := s[domain.NormalizeStageLabel(stage)]
	return ok
}

// ProgressEntry is one row of the progress header. Index is 1-based.
type ProgressEntry struct {
	Stage   string `json:"stage"`
	Label   string `json:"label"`
	Index   int    `json:"index"`
	State   State  `json:"state"`
	SLADays *int   `json:"sla_days"`
}

// Project classifies every canonical stage as completed, current, or pending.
// Completed wins over current when a stage is both.
func Project(stages []string, current string, completed StageSet, sla map[string]int) []ProgressEntry {
	current = domain.NormalizeStageLabel(current)
	slaByStage := make(map[string]int, len(sla))
	for stage, days := range sla {
		slaByStage[domain.NormalizeStageLabel(stage)] = days
	}

	out := make([]ProgressEntry, 0, len(stages))
	for idx, raw := range stages {
		stage := domain.NormalizeStageLabel(raw)
		entry := ProgressEntry{
			Stage: stage,
			Label: DisplayLabel(stage),
			Index: idx + 1,
			State: StatePending,
		}
		switch {
		case completed.Has(stage):
			entry.State = StateCompleted
		case stage != "" && stage == current:
			entry.State = StateCurrent
		}
		if days, ok := slaByStage[stage]; ok {
			entry.SLADays = &days
		}
		out = append(out, entry)
	}
	return out
}

var numericPrefix = regexp.MustCompile(`^\s*\d+\.\s+`)

// DisplayLabel strips a leading "N. " numbering prefix from a stage label.
func DisplayLabel(stage string) string {
	return strings.TrimSpace(numericPrefix.ReplaceAllString(stage, ""))
}
