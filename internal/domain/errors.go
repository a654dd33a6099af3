package domain

import "errors"

var (
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidCaseID    = errors.New("invalid case id")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidStage     = errors.New("invalid stage")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidSLADays   = errors.New("invalid sla days")
	ErrInvalidTable     = errors.New("invalid table")
	ErrInvalidOperation = errors.New("invalid change operation")
	ErrCaseClosed       = errors.New("case is closed")
)
