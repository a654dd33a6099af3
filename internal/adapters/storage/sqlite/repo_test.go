package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "convivencia.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func TestRepository_CaseLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	c, err := domain.NewCase(domain.CaseInput{ID: "c1", Folio: "F-1", StudentName: "Ana", Stage: "1. Intake"}, now)
	if err != nil {
		t.Fatalf("NewCase() error = %v", err)
	}
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	loaded, err := repo.GetCase(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if loaded.StudentName != "Ana" || loaded.CurrentStage != "1. Intake" || loaded.StageStartedAt == nil {
		t.Fatalf("unexpected loaded case %#v", loaded)
	}
	if !loaded.OpenedAt.Equal(now) || loaded.CompletedStages == nil {
		t.Fatalf("unexpected timestamps or stages %#v", loaded)
	}

	if err := loaded.AdvanceTo("2. Investigation", now.Add(time.Hour)); err != nil {
		t.Fatalf("AdvanceTo() error = %v", err)
	}
	if err := loaded.Close(now.Add(2 * time.Hour)); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := repo.UpdateCase(ctx, loaded); err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}
	reloaded, err := repo.GetCase(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCase() error = %v", err)
	}
	if !reloaded.IsClosed() || len(reloaded.CompletedStages) != 2 || reloaded.ClosedAt == nil {
		t.Fatalf("unexpected reloaded case %#v", reloaded)
	}

	open, err := repo.ListCases(ctx, false)
	if err != nil {
		t.Fatalf("ListCases(open) error = %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected no open cases, got %d", len(open))
	}
	all, err := repo.ListCases(ctx, true)
	if err != nil {
		t.Fatalf("ListCases(all) error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one case, got %d", len(all))
	}

	if _, err := repo.GetCase(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ghost := reloaded
	ghost.ID = "ghost"
	if err := repo.UpdateCase(ctx, ghost); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestRepository_FollowUpsAndSLA(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	c, _ := domain.NewCase(domain.CaseInput{ID: "c1", StudentName: "Ana"}, now)
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	for i, detail := range []string{"first", "second"} {
		f, err := domain.NewFollowUp(domain.FollowUpInput{
			ID:     []string{"f1", "f2"}[i],
			CaseID: "c1",
			Stage:  "1. Intake",
			Date:   "2026-03-02",
			Detail: detail,
		}, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("NewFollowUp() error = %v", err)
		}
		if err := repo.CreateFollowUp(ctx, f); err != nil {
			t.Fatalf("CreateFollowUp() error = %v", err)
		}
	}
	followUps, err := repo.ListFollowUps(ctx, "c1")
	if err != nil {
		t.Fatalf("ListFollowUps() error = %v", err)
	}
	if len(followUps) != 2 || followUps[0].Detail != "first" || followUps[1].Stage != "1. Intake" {
		t.Fatalf("unexpected follow-ups %#v", followUps)
	}

	if err := repo.UpsertStageSLA(ctx, domain.StageSLA{Stage: "1. Intake", Days: 5, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertStageSLA() error = %v", err)
	}
	if err := repo.UpsertStageSLA(ctx, domain.StageSLA{Stage: "1. Intake", Days: 7, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertStageSLA(update) error = %v", err)
	}
	rows, err := repo.ListStageSLA(ctx)
	if err != nil {
		t.Fatalf("ListStageSLA() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Days != 7 {
		t.Fatalf("unexpected sla rows %#v", rows)
	}
}

func TestRepository_OpenCaseIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	newMarker := func(id, caseID string) domain.FollowUp {
		f, err := domain.NewFollowUp(domain.FollowUpInput{
			ID:     id,
			CaseID: caseID,
			Stage:  "1. Intake",
			Date:   "2026-03-02",
			Detail: "Inicio automático",
		}, now)
		if err != nil {
			t.Fatalf("NewFollowUp() error = %v", err)
		}
		return f
	}

	c1, _ := domain.NewCase(domain.CaseInput{ID: "c1", StudentName: "Ana", Stage: "1. Intake"}, now)
	if err := repo.OpenCase(ctx, c1, newMarker("m1", "c1")); err != nil {
		t.Fatalf("OpenCase() error = %v", err)
	}
	if followUps, err := repo.ListFollowUps(ctx, "c1"); err != nil || len(followUps) != 1 {
		t.Fatalf("expected case c1 with its marker, got %#v err=%v", followUps, err)
	}
	before, err := repo.LatestChangeEventID(ctx)
	if err != nil {
		t.Fatalf("LatestChangeEventID() error = %v", err)
	}

	// The duplicate marker id fails the second insert, so the case row must roll back too.
	c2, _ := domain.NewCase(domain.CaseInput{ID: "c2", StudentName: "Bruno", Stage: "1. Intake"}, now)
	if err := repo.OpenCase(ctx, c2, newMarker("m1", "c2")); err == nil {
		t.Fatal("expected duplicate follow-up id to fail")
	}
	if _, err := repo.GetCase(ctx, "c2"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected c2 rolled back, got %v", err)
	}
	followUps, err := repo.ListFollowUps(ctx, "c2")
	if err != nil || len(followUps) != 0 {
		t.Fatalf("expected no follow-ups for c2, got %#v err=%v", followUps, err)
	}
	after, err := repo.LatestChangeEventID(ctx)
	if err != nil {
		t.Fatalf("LatestChangeEventID() error = %v", err)
	}
	if after != before {
		t.Fatalf("expected rolled back writes to leave no change events, got %d -> %d", before, after)
	}
}

func TestRepository_ChangeEventsCaptureWatchedTables(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	start, err := repo.LatestChangeEventID(ctx)
	if err != nil {
		t.Fatalf("LatestChangeEventID() error = %v", err)
	}
	if start != 0 {
		t.Fatalf("expected empty change log, got %d", start)
	}

	c, _ := domain.NewCase(domain.CaseInput{ID: "c1", StudentName: "Ana"}, now)
	if err := repo.CreateCase(ctx, c); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	c.Description = "updated"
	if err := repo.UpdateCase(ctx, c); err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}
	if err := repo.UpsertStageSLA(ctx, domain.StageSLA{Stage: "1. Intake", Days: 3, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertStageSLA() error = %v", err)
	}

	events, err := repo.ListChangeEventsAfter(ctx, 0, 10)
	if err != nil {
		t.Fatalf("ListChangeEventsAfter() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 change events, got %#v", events)
	}
	want := []struct {
		table string
		op    domain.ChangeOperation
		id    string
	}{
		{table: "cases", op: domain.ChangeOperationInsert, id: "c1"},
		{table: "cases", op: domain.ChangeOperationUpdate, id: "c1"},
		{table: "stage_sla", op: domain.ChangeOperationInsert, id: "1. Intake"},
	}
	for i, w := range want {
		got := events[i]
		if got.Table != w.table || got.Operation != w.op || got.RecordID != w.id || got.Schema != domain.DefaultSchema {
			t.Fatalf("event %d = %#v, want %+v", i, got, w)
		}
		if got.OccurredAt.IsZero() {
			t.Fatalf("event %d missing timestamp", i)
		}
	}

	latest, err := repo.LatestChangeEventID(ctx)
	if err != nil {
		t.Fatalf("LatestChangeEventID() error = %v", err)
	}
	if latest != events[2].ID {
		t.Fatalf("expected latest id %d, got %d", events[2].ID, latest)
	}
	tail, err := repo.ListChangeEventsAfter(ctx, events[0].ID, 1)
	if err != nil {
		t.Fatalf("ListChangeEventsAfter(tail) error = %v", err)
	}
	if len(tail) != 1 || tail[0].ID != events[1].ID {
		t.Fatalf("unexpected tail %#v", tail)
	}

	removed, err := repo.PruneChangeEvents(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneChangeEvents() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", removed)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for blank path")
	}
}
