package domain

import (
	"slices"
	"strings"
	"time"
)

// CaseStatus describes whether a case still accepts follow-up.
type CaseStatus string

// CaseStatus values.
const (
	CaseStatusOpen   CaseStatus = "open"
	CaseStatusClosed CaseStatus = "closed"
)

// Case is one school conduct case tracked through the due process.
type Case struct {
	ID              string     `json:"id"`
	Folio           string     `json:"folio"`
	StudentName     string     `json:"student_name"`
	Course          string     `json:"course,omitempty"`
	ConductType     string     `json:"conduct_type,omitempty"`
	Description     string     `json:"description,omitempty"`
	CurrentStage    string     `json:"current_stage,omitempty"`
	CompletedStages []string   `json:"completed_stages"`
	StageStartedAt  *time.Time `json:"stage_started_at,omitempty"`
	Status          CaseStatus `json:"status"`
	OpenedAt        time.Time  `json:"opened_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CaseInput holds constructor values for a case.
type CaseInput struct {
	ID          string
	Folio       string
	StudentName string
	Course      string
	ConductType string
	Description string
	Stage       string
}

// NewCase validates input and opens a case in the given stage.
func NewCase(in CaseInput, now time.Time) (Case, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.StudentName = strings.TrimSpace(in.StudentName)
	if in.ID == "" {
		return Case{}, ErrInvalidID
	}
	if in.StudentName == "" {
		return Case{}, ErrInvalidName
	}
	now = now.UTC()
	c := Case{
		ID:              in.ID,
		Folio:           strings.TrimSpace(in.Folio),
		StudentName:     in.StudentName,
		Course:          strings.TrimSpace(in.Course),
		ConductType:     strings.TrimSpace(in.ConductType),
		Description:     strings.TrimSpace(in.Description),
		CurrentStage:    NormalizeStageLabel(in.Stage),
		CompletedStages: []string{},
		Status:          CaseStatusOpen,
		OpenedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.CurrentStage != "" {
		started := now
		c.StageStartedAt = &started
	}
	return c, nil
}

// IsClosed reports whether the case has been closed.
func (c Case) IsClosed() bool {
	return c.Status == CaseStatusClosed
}

// IsCompleted reports whether the stage is in the completed set.
func (c Case) IsCompleted(stage string) bool {
	return slices.Contains(c.CompletedStages, NormalizeStageLabel(stage))
}

// AdvanceTo moves the current pointer and marks the previous stage completed.
func (c *Case) AdvanceTo(stage string, now time.Time) error {
	if c.IsClosed() {
		return ErrCaseClosed
	}
	stage = NormalizeStageLabel(stage)
	if stage == "" {
		return ErrInvalidStage
	}
	if stage == c.CurrentStage {
		return nil
	}
	if c.CurrentStage != "" {
		c.markCompleted(c.CurrentStage)
	}
	now = now.UTC()
	c.CurrentStage = stage
	c.StageStartedAt = &now
	c.UpdatedAt = now
	return nil
}

// CompleteStage marks one stage completed without moving the current pointer.
func (c *Case) CompleteStage(stage string, now time.Time) error {
	if c.IsClosed() {
		return ErrCaseClosed
	}
	stage = NormalizeStageLabel(stage)
	if stage == "" {
		return ErrInvalidStage
	}
	c.markCompleted(stage)
	c.UpdatedAt = now.UTC()
	return nil
}

// Close completes the current stage and closes the case.
func (c *Case) Close(now time.Time) error {
	if c.IsClosed() {
		return ErrCaseClosed
	}
	now = now.UTC()
	if c.CurrentStage != "" {
		c.markCompleted(c.CurrentStage)
	}
	c.Status = CaseStatusClosed
	c.ClosedAt = &now
	c.UpdatedAt = now
	return nil
}

func (c *Case) markCompleted(stage string) {
	if slices.Contains(c.CompletedStages, stage) {
		return
	}
	c.CompletedStages = append(c.CompletedStages, stage)
}
