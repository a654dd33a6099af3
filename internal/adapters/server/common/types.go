// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"

	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/domain"
)

// ErrInvalidRequest reports malformed or invalid transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports a request that conflicts with the current case state.
var ErrConflict = errors.New("conflict")

// ErrUnavailable reports a transport surface with no backing service.
var ErrUnavailable = errors.New("service unavailable")

// CreateCaseRequest carries one case intake.
type CreateCaseRequest struct {
	Folio       string `json:"folio"`
	StudentName string `json:"student_name"`
	Course      string `json:"course"`
	ConductType string `json:"conduct_type"`
	Description string `json:"description"`
}

// RecordFollowUpRequest carries one follow-up action record for a case.
type RecordFollowUpRequest struct {
	CaseID       string `json:"case_id"`
	Stage        string `json:"etapa_debido_proceso"`
	Date         string `json:"fecha"`
	Detail       string `json:"detalle"`
	Description  string `json:"descripcion"`
	Actions      string `json:"acciones"`
	Observations string `json:"observaciones"`
	Responsible  string `json:"responsable"`
	StageStatus  string `json:"estado_etapa"`
}

// AdvanceStageRequest moves one case to a stage.
type AdvanceStageRequest struct {
	CaseID string `json:"case_id"`
	Stage  string `json:"stage"`
}

// SetStageSLARequest stores the day budget of one stage.
type SetStageSLARequest struct {
	Stage string `json:"stage"`
	Days  int    `json:"days"`
}

// CaseList is the list payload shared by HTTP and MCP.
type CaseList struct {
	Cases  []app.CaseOverview `json:"cases"`
	Stages []string           `json:"stages"`
}

// CaseService is the case surface consumed by HTTP and MCP adapters.
type CaseService interface {
	ListCases(context.Context, bool) (CaseList, error)
	GetCase(context.Context, string) (domain.Case, error)
	CreateCase(context.Context, CreateCaseRequest) (domain.Case, error)
	CaseBoard(context.Context, string) (app.CaseBoard, error)
	ListFollowUps(context.Context, string) ([]domain.FollowUp, error)
	RecordFollowUp(context.Context, RecordFollowUpRequest) (domain.FollowUp, error)
	AdvanceStage(context.Context, AdvanceStageRequest) (domain.Case, error)
	CloseCase(context.Context, string) (domain.Case, error)
}

// StageSLAService is the stage SLA surface consumed by HTTP adapters.
type StageSLAService interface {
	ListStageSLA(context.Context) ([]domain.StageSLA, error)
	SetStageSLA(context.Context, SetStageSLARequest) (domain.StageSLA, error)
}

// FieldErrors returns per-field validation messages carried by err, if any.
func FieldErrors(err error) map[string]string {
	var verr *app.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		return verr.Fields
	}
	return nil
}
