package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrRunnerNil is returned when the scheduler is created without a cycle runner
	ErrRunnerNil = errors.New("scheduler: cycle runner cannot be nil")

	// ErrCyclePanicked is recorded when a cycle runner panicked
	ErrCyclePanicked = errors.New("scheduler: cycle panicked")
)
