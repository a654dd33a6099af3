package app

import (
	"context"

	"github.com/hylla/convivencia/internal/domain"
)

// Repository is the persistence port for cases, follow-ups, and stage SLA rows.
type Repository interface {
	CreateCase(context.Context, domain.Case) error
	// OpenCase stores a new case and its first follow-up atomically.
	OpenCase(context.Context, domain.Case, domain.FollowUp) error
	UpdateCase(context.Context, domain.Case) error
	GetCase(context.Context, string) (domain.Case, error)
	ListCases(context.Context, bool) ([]domain.Case, error)

	CreateFollowUp(context.Context, domain.FollowUp) error
	ListFollowUps(context.Context, string) ([]domain.FollowUp, error)

	UpsertStageSLA(context.Context, domain.StageSLA) error
	ListStageSLA(context.Context) ([]domain.StageSLA, error)
}
