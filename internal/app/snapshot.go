package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/domain"
)

// SnapshotVersion defines a package constant value.
const SnapshotVersion = "convivencia.snapshot.v1"

// Snapshot is a portable JSON backup of the case store.
type Snapshot struct {
	Version    string            `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	Stages     []string          `json:"stages"`
	Cases      []domain.Case     `json:"cases"`
	FollowUps  []domain.FollowUp `json:"followups"`
	StageSLA   []domain.StageSLA `json:"stage_sla"`
}

// ExportSnapshot collects every case, follow-up, and SLA row.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	cases, err := s.repo.ListCases(ctx, true)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		Stages:     s.Stages(),
		Cases:      cases,
		FollowUps:  []domain.FollowUp{},
	}
	for _, c := range cases {
		followUps, err := s.repo.ListFollowUps(ctx, c.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("export followups for %s: %w", c.ID, err)
		}
		snap.FollowUps = append(snap.FollowUps, followUps...)
	}
	snap.StageSLA, err = s.repo.ListStageSLA(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot upserts cases and SLA rows and inserts follow-ups not already present.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	for _, c := range snap.Cases {
		if err := s.upsertCase(ctx, c); err != nil {
			return err
		}
	}

	existing := map[string]map[string]struct{}{}
	for _, f := range snap.FollowUps {
		ids, ok := existing[f.CaseID]
		if !ok {
			rows, err := s.repo.ListFollowUps(ctx, f.CaseID)
			if err != nil {
				return err
			}
			ids = make(map[string]struct{}, len(rows))
			for _, row := range rows {
				ids[row.ID] = struct{}{}
			}
			existing[f.CaseID] = ids
		}
		if _, ok := ids[f.ID]; ok {
			continue
		}
		if err := s.repo.CreateFollowUp(ctx, f); err != nil {
			return fmt.Errorf("import followup %s: %w", f.ID, err)
		}
		ids[f.ID] = struct{}{}
	}

	for _, row := range snap.StageSLA {
		if err := s.repo.UpsertStageSLA(ctx, row); err != nil {
			return fmt.Errorf("import stage sla %q: %w", row.Stage, err)
		}
	}
	return nil
}

// Validate checks version, identifiers, and follow-up case references.
func (snap *Snapshot) Validate() error {
	if strings.TrimSpace(snap.Version) != SnapshotVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidSnapshot, snap.Version)
	}
	caseIDs := make(map[string]struct{}, len(snap.Cases))
	for i, c := range snap.Cases {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("%w: cases[%d].id is required", ErrInvalidSnapshot, i)
		}
		if _, dup := caseIDs[c.ID]; dup {
			return fmt.Errorf("%w: duplicate case id %q", ErrInvalidSnapshot, c.ID)
		}
		caseIDs[c.ID] = struct{}{}
	}
	followUpIDs := make(map[string]struct{}, len(snap.FollowUps))
	for i, f := range snap.FollowUps {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("%w: followups[%d].id is required", ErrInvalidSnapshot, i)
		}
		if _, dup := followUpIDs[f.ID]; dup {
			return fmt.Errorf("%w: duplicate followup id %q", ErrInvalidSnapshot, f.ID)
		}
		followUpIDs[f.ID] = struct{}{}
		if _, ok := caseIDs[f.CaseID]; !ok {
			return fmt.Errorf("%w: followup %q references unknown case %q", ErrInvalidSnapshot, f.ID, f.CaseID)
		}
	}
	for i, row := range snap.StageSLA {
		if domain.NormalizeStageLabel(row.Stage) == "" || row.Days < 0 {
			return fmt.Errorf("%w: stage_sla[%d] is invalid", ErrInvalidSnapshot, i)
		}
	}
	return nil
}

func (s *Service) upsertCase(ctx context.Context, c domain.Case) error {
	if c.CompletedStages == nil {
		c.CompletedStages = []string{}
	}
	_, err := s.repo.GetCase(ctx, c.ID)
	switch {
	case err == nil:
		return s.repo.UpdateCase(ctx, c)
	case errors.Is(err, ErrNotFound):
		return s.repo.CreateCase(ctx, c)
	default:
		return err
	}
}

func (snap *Snapshot) sort() {
	sort.SliceStable(snap.Cases, func(i, j int) bool {
		if !snap.Cases[i].CreatedAt.Equal(snap.Cases[j].CreatedAt) {
			return snap.Cases[i].CreatedAt.Before(snap.Cases[j].CreatedAt)
		}
		return snap.Cases[i].ID < snap.Cases[j].ID
	})
	sort.SliceStable(snap.FollowUps, func(i, j int) bool {
		a, b := snap.FollowUps[i], snap.FollowUps[j]
		if a.CaseID != b.CaseID {
			return a.CaseID < b.CaseID
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	sort.SliceStable(snap.StageSLA, func(i, j int) bool {
		return snap.StageSLA[i].Stage < snap.StageSLA[j].Stage
	})
}
