package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/hylla/convivencia/internal/domain"
	"github.com/hylla/convivencia/internal/process"
)

type fakeRepo struct {
	cases     map[string]domain.Case
	followUps map[string][]domain.FollowUp
	sla       map[string]domain.StageSLA
	failList  error
	failOpen  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cases:     map[string]domain.Case{},
		followUps: map[string][]domain.FollowUp{},
		sla:       map[string]domain.StageSLA{},
	}
}

func (f *fakeRepo) CreateCase(_ context.Context, c domain.Case) error {
	f.cases[c.ID] = c
	return nil
}

func (f *fakeRepo) OpenCase(_ context.Context, c domain.Case, first domain.FollowUp) error {
	if f.failOpen != nil {
		return f.failOpen
	}
	f.cases[c.ID] = c
	f.followUps[first.CaseID] = append(f.followUps[first.CaseID], first)
	return nil
}

func (f *fakeRepo) UpdateCase(_ context.Context, c domain.Case) error {
	if _, ok := f.cases[c.ID]; !ok {
		return ErrNotFound
	}
	f.cases[c.ID] = c
	return nil
}

func (f *fakeRepo) GetCase(_ context.Context, id string) (domain.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return domain.Case{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) ListCases(_ context.Context, includeClosed bool) ([]domain.Case, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	out := make([]domain.Case, 0, len(f.cases))
	for _, c := range f.cases {
		if !includeClosed && c.IsClosed() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateFollowUp(_ context.Context, fu domain.FollowUp) error {
	f.followUps[fu.CaseID] = append(f.followUps[fu.CaseID], fu)
	return nil
}

func (f *fakeRepo) ListFollowUps(_ context.Context, caseID string) ([]domain.FollowUp, error) {
	return append([]domain.FollowUp(nil), f.followUps[caseID]...), nil
}

func (f *fakeRepo) UpsertStageSLA(_ context.Context, row domain.StageSLA) error {
	f.sla[row.Stage] = row
	return nil
}

func (f *fakeRepo) ListStageSLA(context.Context) ([]domain.StageSLA, error) {
	out := make([]domain.StageSLA, 0, len(f.sla))
	for _, row := range f.sla {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

var testStages = []string{"1. Intake", "2. Investigation", "3. Closure"}

func newTestService(repo *fakeRepo, now *time.Time) *Service {
	n := 0
	return NewService(repo, func() string {
		n++
		return fmt.Sprintf("id-%02d", n)
	}, func() time.Time {
		return *now
	}, ServiceConfig{Stages: testStages, DueSoonDays: 2})
}

func TestNewServiceDefaults(t *testing.T) {
	svc := NewService(newFakeRepo(), nil, nil, ServiceConfig{AutoStartDetail: "no marker here"})
	if got := svc.Stages(); len(got) != len(DefaultStages) || got[0] != "1. Denuncia" {
		t.Fatalf("unexpected default stages %#v", got)
	}
	if svc.autoStartDetail != DefaultAutoStartDetail {
		t.Fatalf("expected marker-less detail to fall back, got %q", svc.autoStartDetail)
	}
	if svc.dueSoonDays != DefaultDueSoonDays {
		t.Fatalf("unexpected due soon days %d", svc.dueSoonDays)
	}
}

func TestCreateCaseRecordsStartMarker(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)

	c, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: " Ana Pérez ", Course: "7B"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if c.ID != "id-01" || c.CurrentStage != "1. Intake" || c.Folio != "2026-ID01" {
		t.Fatalf("unexpected case %#v", c)
	}
	followUps := repo.followUps[c.ID]
	if len(followUps) != 1 {
		t.Fatalf("expected one start marker, got %d", len(followUps))
	}
	if !followUps[0].IsAutomaticStart() || followUps[0].Date != "2026-03-02" {
		t.Fatalf("unexpected start marker %#v", followUps[0])
	}

	board, err := svc.CaseBoard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("CaseBoard() error = %v", err)
	}
	if len(board.Stages[0].Actions) != 0 {
		t.Fatalf("expected start marker hidden from board, got %#v", board.Stages[0].Actions)
	}
}

func TestCreateCaseStoreFailureLeavesNoCase(t *testing.T) {
	repo := newFakeRepo()
	repo.failOpen = errors.New("disk full")
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)

	_, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: "Ana Pérez"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if len(repo.cases) != 0 || len(repo.followUps) != 0 {
		t.Fatalf("expected nothing stored, got %d cases and %d follow-up sets", len(repo.cases), len(repo.followUps))
	}
}

func TestCreateCaseValidation(t *testing.T) {
	now := time.Now()
	svc := newTestService(newFakeRepo(), &now)
	_, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if msg := verr.Fields["student_name"]; !strings.Contains(msg, "cannot be blank") {
		t.Fatalf("unexpected field message %q", msg)
	}
}

func TestRecordFollowUpValidation(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)
	c, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: "Ana"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	_, err = svc.RecordFollowUp(context.Background(), RecordFollowUpInput{CaseID: c.ID, Date: "02/03/2026"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["fecha"] == "" {
		t.Fatalf("expected fecha validation error, got %v", err)
	}

	_, err = svc.RecordFollowUp(context.Background(), RecordFollowUpInput{CaseID: c.ID, Stage: "9. Unknown"})
	if !errors.As(err, &verr) || !strings.Contains(verr.Fields["etapa_debido_proceso"], "unknown stage") {
		t.Fatalf("expected stage validation error, got %v", err)
	}

	_, err = svc.RecordFollowUp(context.Background(), RecordFollowUpInput{CaseID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	fu, err := svc.RecordFollowUp(context.Background(), RecordFollowUpInput{
		CaseID: c.ID,
		Stage:  " 2.  Investigation ",
		Date:   "2026-03-03",
		Detail: "Entrevista",
	})
	if err != nil {
		t.Fatalf("RecordFollowUp() error = %v", err)
	}
	if fu.Stage != "2. Investigation" {
		t.Fatalf("unexpected stage %q", fu.Stage)
	}
}

func TestStageTransitionsAndClose(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)
	c, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: "Ana"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	if _, err := svc.AdvanceStage(context.Background(), c.ID, "7. Nope"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown stage validation error, got %v", err)
	}
	if _, err := svc.AdvanceStage(context.Background(), c.ID, " "); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}

	c, err = svc.AdvanceStage(context.Background(), c.ID, "2. Investigation")
	if err != nil {
		t.Fatalf("AdvanceStage() error = %v", err)
	}
	if c.CurrentStage != "2. Investigation" || !c.IsCompleted("1. Intake") {
		t.Fatalf("unexpected advanced case %#v", c)
	}
	c, err = svc.CompleteStage(context.Background(), c.ID, "3. Closure")
	if err != nil {
		t.Fatalf("CompleteStage() error = %v", err)
	}
	if !c.IsCompleted("3. Closure") || c.CurrentStage != "2. Investigation" {
		t.Fatalf("unexpected completed case %#v", c)
	}

	c, err = svc.CloseCase(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("CloseCase() error = %v", err)
	}
	if !c.IsClosed() {
		t.Fatal("expected closed case")
	}
	if _, err := svc.RecordFollowUp(context.Background(), RecordFollowUpInput{CaseID: c.ID}); !errors.Is(err, domain.ErrCaseClosed) {
		t.Fatalf("expected ErrCaseClosed, got %v", err)
	}
	open, err := svc.ListCases(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCases() error = %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected closed case hidden, got %d", len(open))
	}
}

func TestCaseBoardProjection(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)
	c, err := svc.CreateCase(context.Background(), CreateCaseInput{StudentName: "Ana"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if _, err := svc.SetStageSLA(context.Background(), "1. Intake", 5); err != nil {
		t.Fatalf("SetStageSLA() error = %v", err)
	}
	inputs := []RecordFollowUpInput{
		{CaseID: c.ID, Stage: "1. Intake", Date: "2026-03-04", Detail: "second"},
		{CaseID: c.ID, Stage: " 1.  Intake ", Date: "2026-03-02", Detail: "first"},
		{CaseID: c.ID, Detail: "no stage"},
	}
	for _, in := range inputs {
		if _, err := svc.RecordFollowUp(context.Background(), in); err != nil {
			t.Fatalf("RecordFollowUp() error = %v", err)
		}
	}

	now = now.AddDate(0, 0, 4)
	board, err := svc.CaseBoard(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("CaseBoard() error = %v", err)
	}
	if len(board.Stages) != 3 {
		t.Fatalf("expected three stage buckets, got %d", len(board.Stages))
	}
	intake := board.Stages[0].Actions
	if len(intake) != 2 || intake[0].Detail != "first" || intake[1].Detail != "second" {
		t.Fatalf("unexpected intake bucket %#v", intake)
	}
	if len(board.Orphans) != 1 || board.Orphans[0].Stage != domain.NoStageLabel {
		t.Fatalf("unexpected orphans %#v", board.Orphans)
	}
	if board.Progress[0].State != process.StateCurrent || board.Progress[0].SLADays == nil || *board.Progress[0].SLADays != 5 {
		t.Fatalf("unexpected progress %#v", board.Progress[0])
	}
	if board.Progress[1].SLADays != nil {
		t.Fatalf("expected nil SLA for stage 2, got %v", *board.Progress[1].SLADays)
	}
	if board.Deadline.Level != process.AlertDueSoon || board.Deadline.ElapsedDays != 4 {
		t.Fatalf("unexpected deadline %#v", board.Deadline)
	}

	if _, err := svc.CaseBoard(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListCaseOverviewsSortsByUrgency(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(repo, &now)
	calm, err := svc.CreateCase(context.Background(), CreateCaseInput{Folio: "A", StudentName: "Calm"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	now = now.AddDate(0, 0, -10)
	late, err := svc.CreateCase(context.Background(), CreateCaseInput{Folio: "B", StudentName: "Late"})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	now = now.AddDate(0, 0, 10)
	if _, err := svc.SetStageSLA(context.Background(), "1. Intake", 5); err != nil {
		t.Fatalf("SetStageSLA() error = %v", err)
	}

	rows, err := svc.ListCaseOverviews(context.Background(), false)
	if err != nil {
		t.Fatalf("ListCaseOverviews() error = %v", err)
	}
	if len(rows) != 2 || rows[0].Case.ID != late.ID || rows[1].Case.ID != calm.ID {
		t.Fatalf("unexpected overview order %#v", rows)
	}
	if rows[0].Deadline.Level != process.AlertOverdue || rows[1].Deadline.Level != process.AlertOK {
		t.Fatalf("unexpected levels %q %q", rows[0].Deadline.Level, rows[1].Deadline.Level)
	}

	repo.failList = errors.New("boom")
	if _, err := svc.ListCaseOverviews(context.Background(), false); err == nil {
		t.Fatal("expected list error")
	}
}

func TestSetStageSLAValidation(t *testing.T) {
	now := time.Now()
	svc := newTestService(newFakeRepo(), &now)
	if _, err := svc.SetStageSLA(context.Background(), "1. Intake", -1); !errors.Is(err, domain.ErrInvalidSLADays) {
		t.Fatalf("expected ErrInvalidSLADays, got %v", err)
	}
	if _, err := svc.SetStageSLA(context.Background(), "  ", 3); !errors.Is(err, domain.ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}
