package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
