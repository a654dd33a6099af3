package domain

import (
	"strings"
	"time"
)

// DateLayout is the ISO calendar date layout used for follow-up dates.
const DateLayout = "2006-01-02"

// FollowUp is one recorded action taken on a case during its due process.
type FollowUp struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	Stage        string    `json:"etapa_debido_proceso"`
	Date         string    `json:"fecha,omitempty"`
	Detail       string    `json:"detalle,omitempty"`
	Description  string    `json:"descripcion,omitempty"`
	Actions      string    `json:"acciones,omitempty"`
	Observations string    `json:"observaciones,omitempty"`
	Responsible  string    `json:"responsable,omitempty"`
	StageStatus  string    `json:"estado_etapa,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FollowUpInput holds constructor values for a follow-up record.
type FollowUpInput struct {
	ID           string
	CaseID       string
	Stage        string
	Date         string
	Detail       string
	Description  string
	Actions      string
	Observations string
	Responsible  string
	StageStatus  string
}

// NewFollowUp validates input and builds a follow-up record.
func NewFollowUp(in FollowUpInput, now time.Time) (FollowUp, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.CaseID = strings.TrimSpace(in.CaseID)
	in.Date = strings.TrimSpace(in.Date)
	if in.ID == "" {
		return FollowUp{}, ErrInvalidID
	}
	if in.CaseID == "" {
		return FollowUp{}, ErrInvalidCaseID
	}
	if in.Date != "" {
		if _, err := time.Parse(DateLayout, in.Date); err != nil {
			return FollowUp{}, ErrInvalidDate
		}
	}
	return FollowUp{
		ID:           in.ID,
		CaseID:       in.CaseID,
		Stage:        NormalizeStageLabel(in.Stage),
		Date:         in.Date,
		Detail:       strings.TrimSpace(in.Detail),
		Description:  strings.TrimSpace(in.Description),
		Actions:      strings.TrimSpace(in.Actions),
		Observations: strings.TrimSpace(in.Observations),
		Responsible:  strings.TrimSpace(in.Responsible),
		StageStatus:  strings.TrimSpace(in.StageStatus),
		CreatedAt:    now.UTC(),
	}, nil
}

// FreeText concatenates the narrative fields used for marker detection and search.
func (f FollowUp) FreeText() string {
	return strings.Join([]string{f.Detail, f.Description, f.Actions, f.Observations}, " ")
}

// IsAutomaticStart reports whether the record is a system "process started" marker.
func (f FollowUp) IsAutomaticStart() bool {
	return strings.Contains(FoldText(f.FreeText()), AutoStartMarker)
}
