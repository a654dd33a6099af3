package process

import (
	"slices"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/domain"
)

// Buckets maps a normalized stage label to its follow-up records.
type Buckets map[string][]domain.FollowUp

// StageBucket is one stage and its chronologically ordered records. Index is
// the 1-based position in the canonical sequence, or 0 for orphaned stages.
type StageBucket struct {
	Stage   string            `json:"stage"`
	Label   string            `json:"label"`
	Index   int               `json:"index"`
	Actions []domain.FollowUp `json:"actions"`
}

// GroupByStage drops automatic-start markers, buckets the rest by normalized
// stage label, and sorts every bucket by date with ties kept in input order.
func GroupByStage(actions []domain.FollowUp) Buckets {
	out := Buckets{}
	for _, action := range actions {
		if action.IsAutomaticStart() {
			continue
		}
		key := stageKey(action.Stage)
		out[key] = append(out[key], action)
	}
	for key, bucket := range out {
		slices.SortStableFunc(bucket, func(a, b domain.FollowUp) int {
			return strings.Compare(dateKey(a.Date), dateKey(b.Date))
		})
		out[key] = bucket
	}
	return out
}

// For returns the records for one stage, or an empty slice.
func (b Buckets) For(stage string) []domain.FollowUp {
	if actions, ok := b[stageKey(stage)]; ok {
		return actions
	}
	return []domain.FollowUp{}
}

// Ordered yields one bucket per canonical stage, in canonical order.
func (b Buckets) Ordered(stages []string) []StageBucket {
	out := make([]StageBucket, 0, len(stages))
	for idx, stage := range stages {
		key := stageKey(stage)
		out = append(out, StageBucket{
			Stage:   key,
			Label:   DisplayLabel(key),
			Index:   idx + 1,
			Actions: b.For(key),
		})
	}
	return out
}

// Orphans returns buckets whose stage is not part of the canonical sequence,
// sorted by stage label. Records without a stage land under "Sin etapa".
func (b Buckets) Orphans(stages []string) []StageBucket {
	known := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		known[stageKey(stage)] = struct{}{}
	}
	keys := make([]string, 0, len(b))
	for key := range b {
		if _, ok := known[key]; ok {
			continue
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	out := make([]StageBucket, 0, len(keys))
	for _, key := range keys {
		out = append(out, StageBucket{
			Stage:   key,
			Label:   DisplayLabel(key),
			Index:   0,
			Actions: b[key],
		})
	}
	return out
}

// Count returns the total number of grouped records.
func (b Buckets) Count() int {
	total := 0
	for _, actions := range b {
		total += len(actions)
	}
	return total
}

func stageKey(raw string) string {
	label := domain.NormalizeStageLabel(raw)
	if label == "" {
		return domain.NoStageLabel
	}
	return label
}

// dateKey returns the sortable YYYY-MM-DD prefix of a date, or "" when absent.
func dateKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) < len(domain.DateLayout) {
		return ""
	}
	prefix := raw[:len(domain.DateLayout)]
	if _, err := time.Parse(domain.DateLayout, prefix); err != nil {
		return ""
	}
	return prefix
}
