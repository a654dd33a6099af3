package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/process"
)

// CaseBoard is the dashboard projection of one case.
type CaseBoard struct {
	Case        domain.Case             `json:"case"`
	Stages      []process.StageBucket   `json:"stages"`
	Orphans     []process.StageBucket   `json:"orphans"`
	Progress    []process.ProgressEntry `json:"progress"`
	Deadline    process.Deadline        `json:"deadline"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// CaseOverview pairs a case with its current-stage deadline alert.
type CaseOverview struct {
	Case     domain.Case      `json:"case"`
	Deadline process.Deadline `json:"deadline"`
}

// CaseBoard loads a case, groups its follow-ups by stage, and projects progress.
func (s *Service) CaseBoard(ctx context.Context, caseID string) (CaseBoard, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return CaseBoard{}, err
	}
	followUps, err := s.repo.ListFollowUps(ctx, c.ID)
	if err != nil {
		return CaseBoard{}, err
	}
	sla, err := s.slaMap(ctx)
	if err != nil {
		return CaseBoard{}, err
	}

	buckets := process.GroupByStage(followUps)
	now := s.clock()
	return CaseBoard{
		Case:        c,
		Stages:      buckets.Ordered(s.stages),
		Orphans:     buckets.Orphans(s.stages),
		Progress:    process.Project(s.stages, c.CurrentStage, process.NewStageSet(c.CompletedStages...), sla),
		Deadline:    s.deadlineFor(c, sla, now),
		GeneratedAt: now.UTC(),
	}, nil
}

// ListCaseOverviews lists cases with deadline alerts, most urgent first.
func (s *Service) ListCaseOverviews(ctx context.Context, includeClosed bool) ([]CaseOverview, error) {
	cases, err := s.repo.ListCases(ctx, includeClosed)
	if err != nil {
		return nil, err
	}
	sla, err := s.slaMap(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]CaseOverview, 0, len(cases))
	for _, c := range cases {
		out = append(out, CaseOverview{Case: c, Deadline: s.deadlineFor(c, sla, now)})
	}
	slices.SortStableFunc(out, func(a, b CaseOverview) int {
		if d := alertRank(b.Deadline.Level) - alertRank(a.Deadline.Level); d != 0 {
			return d
		}
		return strings.Compare(a.Case.Folio, b.Case.Folio)
	})
	return out, nil
}

func (s *Service) deadlineFor(c domain.Case, sla map[string]int, now time.Time) process.Deadline {
	if c.IsClosed() || c.CurrentStage == "" {
		return process.Deadline{Stage: c.CurrentStage, Level: process.AlertNone}
	}
	var days *int
	if v, ok := sla[c.CurrentStage]; ok {
		days = &v
	}
	return process.EvaluateDeadline(c.CurrentStage, c.StageStartedAt, days, now, s.dueSoonDays)
}

func (s *Service) slaMap(ctx context.Context) (map[string]int, error) {
	rows, err := s.repo.ListStageSLA(ctx)
	if err != nil {
		return nil, err
	}
	return domain.SLAMap(rows), nil
}

func alertRank(level process.AlertLevel) int {
	switch level {
	case process.AlertOverdue:
		return 3
	case process.AlertDueSoon:
		return 2
	case process.AlertOK:
		return 1
	default:
		return 0
	}
}
