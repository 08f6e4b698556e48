package scheduler

import "errors"

// Domain errors for the scheduler package.
var (
	// ErrInvalidSpec is returned when a job time description cannot be parsed.
	ErrInvalidSpec = errors.New("scheduler: invalid time spec")

	// ErrStopped is returned when adding a job to a stopped Scheduler.
	ErrStopped = errors.New("scheduler: stopped")
)
