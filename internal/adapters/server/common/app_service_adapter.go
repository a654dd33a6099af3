package common

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service case APIs.
type AppServiceAdapter struct {
	service *app.Service
}

var (
	_ CaseService     = (*AppServiceAdapter)(nil)
	_ StageSLAService = (*AppServiceAdapter)(nil)
)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// ListCases lists case overviews ordered by deadline urgency.
func (a *AppServiceAdapter) ListCases(ctx context.Context, includeClosed bool) (CaseList, error) {
	if err := a.ready(); err != nil {
		return CaseList{}, err
	}
	cases, err := a.service.ListCaseOverviews(ctx, includeClosed)
	if err != nil {
		return CaseList{}, mapAppError("list cases", err)
	}
	if cases == nil {
		cases = []app.CaseOverview{}
	}
	return CaseList{Cases: cases, Stages: a.service.Stages()}, nil
}

// GetCase returns one case.
func (a *AppServiceAdapter) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	if err := a.ready(); err != nil {
		return domain.Case{}, err
	}
	c, err := a.service.GetCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, mapAppError("get case", err)
	}
	return c, nil
}

// CreateCase opens one case.
func (a *AppServiceAdapter) CreateCase(ctx context.Context, in CreateCaseRequest) (domain.Case, error) {
	if err := a.ready(); err != nil {
		return domain.Case{}, err
	}
	c, err := a.service.CreateCase(ctx, app.CreateCaseInput{
		Folio:       in.Folio,
		StudentName: in.StudentName,
		Course:      in.Course,
		ConductType: in.ConductType,
		Description: in.Description,
	})
	if err != nil {
		return domain.Case{}, mapAppError("create case", err)
	}
	return c, nil
}

// CaseBoard returns the stage accordion projection of one case.
func (a *AppServiceAdapter) CaseBoard(ctx context.Context, caseID string) (app.CaseBoard, error) {
	if err := a.ready(); err != nil {
		return app.CaseBoard{}, err
	}
	board, err := a.service.CaseBoard(ctx, caseID)
	if err != nil {
		return app.CaseBoard{}, mapAppError("case board", err)
	}
	return board, nil
}

// ListFollowUps lists the follow-ups of one case.
func (a *AppServiceAdapter) ListFollowUps(ctx context.Context, caseID string) ([]domain.FollowUp, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.service.ListFollowUps(ctx, caseID)
	if err != nil {
		return nil, mapAppError("list followups", err)
	}
	if rows == nil {
		rows = []domain.FollowUp{}
	}
	return rows, nil
}

// RecordFollowUp stores one follow-up.
func (a *AppServiceAdapter) RecordFollowUp(ctx context.Context, in RecordFollowUpRequest) (domain.FollowUp, error) {
	if err := a.ready(); err != nil {
		return domain.FollowUp{}, err
	}
	row, err := a.service.RecordFollowUp(ctx, app.RecordFollowUpInput{
		CaseID:       in.CaseID,
		Stage:        in.Stage,
		Date:         in.Date,
		Detail:       in.Detail,
		Description:  in.Description,
		Actions:      in.Actions,
		Observations: in.Observations,
		Responsible:  in.Responsible,
		StageStatus:  in.StageStatus,
	})
	if err != nil {
		return domain.FollowUp{}, mapAppError("record followup", err)
	}
	return row, nil
}

// AdvanceStage moves one case to a stage.
func (a *AppServiceAdapter) AdvanceStage(ctx context.Context, in AdvanceStageRequest) (domain.Case, error) {
	if err := a.ready(); err != nil {
		return domain.Case{}, err
	}
	c, err := a.service.AdvanceStage(ctx, in.CaseID, in.Stage)
	if err != nil {
		return domain.Case{}, mapAppError("advance stage", err)
	}
	return c, nil
}

// CloseCase closes one case.
func (a *AppServiceAdapter) CloseCase(ctx context.Context, caseID string) (domain.Case, error) {
	if err := a.ready(); err != nil {
		return domain.Case{}, err
	}
	c, err := a.service.CloseCase(ctx, caseID)
	if err != nil {
		return domain.Case{}, mapAppError("close case", err)
	}
	return c, nil
}

// ListStageSLA lists stage SLA rows.
func (a *AppServiceAdapter) ListStageSLA(ctx context.Context) ([]domain.StageSLA, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.service.ListStageSLA(ctx)
	if err != nil {
		return nil, mapAppError("list stage sla", err)
	}
	if rows == nil {
		rows = []domain.StageSLA{}
	}
	return rows, nil
}

// SetStageSLA stores one stage SLA row.
func (a *AppServiceAdapter) SetStageSLA(ctx context.Context, in SetStageSLARequest) (domain.StageSLA, error) {
	if err := a.ready(); err != nil {
		return domain.StageSLA{}, err
	}
	row, err := a.service.SetStageSLA(ctx, in.Stage, in.Days)
	if err != nil {
		return domain.StageSLA{}, mapAppError("set stage sla", err)
	}
	return row, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// mapAppError joins app/domain failures with the transport sentinel they map to.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrCaseClosed):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, app.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidCaseID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidStage),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidSLADays):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
