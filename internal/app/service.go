package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/convivencia/internal/domain"
)

// Defaults applied when ServiceConfig leaves a field empty.
const (
	DefaultDueSoonDays     = 2
	DefaultAutoStartDetail = "Inicio automático del proceso"
	systemResponsible      = "sistema"
)

// DefaultStages is the due-process sequence used when no stages are configured.
var DefaultStages = []string{
	"1. Denuncia",
	"2. Notificación",
	"3. Investigación",
	"4. Resolución",
	"5. Apelación",
	"6. Cierre",
}

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Stages          []string
	DueSoonDays     int
	AutoStartDetail string
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates case intake, follow-up, and board projection.
type Service struct {
	repo            Repository
	idGen           IDGenerator
	clock           Clock
	stages          []string
	dueSoonDays     int
	autoStartDetail string
}

// NewService constructs a new value for this package.
func NewService(repo Repository, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	stages := domain.NormalizeStages(cfg.Stages)
	if len(stages) == 0 {
		stages = domain.NormalizeStages(DefaultStages)
	}
	if cfg.DueSoonDays <= 0 {
		cfg.DueSoonDays = DefaultDueSoonDays
	}
	detail := strings.TrimSpace(cfg.AutoStartDetail)
	if detail == "" || !strings.Contains(domain.FoldText(detail), domain.AutoStartMarker) {
		detail = DefaultAutoStartDetail
	}
	return &Service{
		repo:            repo,
		idGen:           idGen,
		clock:           clock,
		stages:          stages,
		dueSoonDays:     cfg.DueSoonDays,
		autoStartDetail: detail,
	}
}

// Stages returns the configured due-process sequence.
func (s *Service) Stages() []string {
	return append([]string(nil), s.stages...)
}

// CreateCaseInput holds input values for create case operations.
type CreateCaseInput struct {
	Folio       string `json:"folio" validate:"omitempty,max=64"`
	StudentName string `json:"student_name" validate:"notblank,max=200"`
	Course      string `json:"course" validate:"omitempty,max=64"`
	ConductType string `json:"conduct_type" validate:"omitempty,max=120"`
	Description string `json:"description" validate:"omitempty,max=4000"`
}

// CreateCase opens a case in the first stage and records the automatic-start marker.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (domain.Case, error) {
	if err := validateInput(in); err != nil {
		return domain.Case{}, err
	}
	now := s.clock()
	id := s.idGen()
	folio := strings.TrimSpace(in.Folio)
	if folio == "" {
		folio = defaultFolio(id, now)
	}
	c, err := domain.NewCase(domain.CaseInput{
		ID:          id,
		Folio:       folio,
		StudentName: in.StudentName,
		Course:      in.Course,
		ConductType: in.ConductType,
		Description: in.Description,
		Stage:       s.stages[0],
	}, now)
	if err != nil {
		return domain.Case{}, err
	}
	marker, err := domain.NewFollowUp(domain.FollowUpInput{
		ID:          s.idGen(),
		CaseID:      c.ID,
		Stage:       c.CurrentStage,
		Date:        now.UTC().Format(domain.DateLayout),
		Detail:      s.autoStartDetail,
		Responsible: systemResponsible,
	}, now)
	if err != nil {
		return domain.Case{}, err
	}
	if err := s.repo.OpenCase(ctx, c, marker); err != nil {
		return domain.Case{}, fmt.Errorf("open case: %w", err)
	}
	return c, nil
}

// GetCase returns one case.
func (s *Service) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return domain.Case{}, domain.ErrInvalidCaseID
	}
	return s.repo.GetCase(ctx, caseID)
}

// ListCases lists cases, optionally including closed ones.
func (s *Service) ListCases(ctx context.Context, includeClosed bool) ([]domain.Case, error) {
	return s.repo.ListCases(ctx, includeClosed)
}

// RecordFollowUpInput holds input values for record follow-up operations.
type RecordFollowUpInput struct {
	CaseID       string `json:"case_id" validate:"notblank"`
	Stage        string `json:"etapa_debido_proceso"`
	Date         string `json:"fecha" validate:"isodate"`
	Detail       string `json:"detalle" validate:"omitempty,max=4000"`
	Description  string `json:"descripcion" validate:"omitempty,max=4000"`
	Actions      string `json:"acciones" validate:"omitempty,max=4000"`
	Observations string `json:"observaciones" validate:"omitempty,max=4000"`
	Responsible  string `json:"responsable" validate:"omitempty,max=200"`
	StageStatus  string `json:"estado_etapa" validate:"omitempty,max=64"`
}

// RecordFollowUp validates and persists one follow-up on an open case.
func (s *Service) RecordFollowUp(ctx context.Context, in RecordFollowUpInput) (domain.FollowUp, error) {
	if err := validateInput(in); err != nil {
		return domain.FollowUp{}, err
	}
	stage := domain.NormalizeStageLabel(in.Stage)
	if stage != "" && !s.knownStage(stage) {
		return domain.FollowUp{}, fieldError("etapa_debido_proceso", fmt.Sprintf("%s %q", ErrUnknownStage, stage))
	}
	c, err := s.GetCase(ctx, in.CaseID)
	if err != nil {
		return domain.FollowUp{}, err
	}
	if c.IsClosed() {
		return domain.FollowUp{}, domain.ErrCaseClosed
	}
	now := s.clock()
	followUp, err := domain.NewFollowUp(domain.FollowUpInput{
		ID:           s.idGen(),
		CaseID:       c.ID,
		Stage:        stage,
		Date:         in.Date,
		Detail:       in.Detail,
		Description:  in.Description,
		Actions:      in.Actions,
		Observations: in.Observations,
		Responsible:  in.Responsible,
		StageStatus:  in.StageStatus,
	}, now)
	if err != nil {
		return domain.FollowUp{}, err
	}
	if err := s.repo.CreateFollowUp(ctx, followUp); err != nil {
		return domain.FollowUp{}, err
	}
	return followUp, nil
}

// ListFollowUps lists every follow-up recorded on one case.
func (s *Service) ListFollowUps(ctx context.Context, caseID string) ([]domain.FollowUp, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFollowUps(ctx, c.ID)
}

// AdvanceStage moves the current stage pointer and completes the previous stage.
func (s *Service) AdvanceStage(ctx context.Context, caseID, stage string) (domain.Case, error) {
	return s.mutateCase(ctx, caseID, stage, func(c *domain.Case, stage string, now time.Time) error {
		return c.AdvanceTo(stage, now)
	})
}

// CompleteStage marks one stage completed without moving the pointer.
func (s *Service) CompleteStage(ctx context.Context, caseID, stage string) (domain.Case, error) {
	return s.mutateCase(ctx, caseID, stage, func(c *domain.Case, stage string, now time.Time) error {
		return c.CompleteStage(stage, now)
	})
}

// CloseCase completes the current stage and closes the case.
func (s *Service) CloseCase(ctx context.Context, caseID string) (domain.Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := c.Close(s.clock()); err != nil {
		return domain.Case{}, err
	}
	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// SetStageSLA stores the maximum number of days allowed for a stage.
func (s *Service) SetStageSLA(ctx context.Context, stage string, days int) (domain.StageSLA, error) {
	row, err := domain.NewStageSLA(stage, days, s.clock())
	if err != nil {
		return domain.StageSLA{}, err
	}
	if err := s.repo.UpsertStageSLA(ctx, row); err != nil {
		return domain.StageSLA{}, err
	}
	return row, nil
}

// ListStageSLA lists configured stage SLA rows.
func (s *Service) ListStageSLA(ctx context.Context) ([]domain.StageSLA, error) {
	return s.repo.ListStageSLA(ctx)
}

func (s *Service) mutateCase(ctx context.Context, caseID, stage string, mutate func(*domain.Case, string, time.Time) error) (domain.Case, error) {
	stage = domain.NormalizeStageLabel(stage)
	if stage == "" {
		return domain.Case{}, domain.ErrInvalidStage
	}
	if !s.knownStage(stage) {
		return domain.Case{}, fieldError("stage", fmt.Sprintf("%s %q", ErrUnknownStage, stage))
	}
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := mutate(&c, stage, s.clock()); err != nil {
		return domain.Case{}, err
	}
	if err := s.repo.UpdateCase(ctx, c); err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func (s *Service) knownStage(stage string) bool {
	return slices.Contains(s.stages, domain.NormalizeStageLabel(stage))
}

func defaultFolio(id string, now time.Time) string {
	short := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(short) > 6 {
		short = short[:6]
	}
	return fmt.Sprintf("%d-%s", now.UTC().Year(), short)
}
