package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrRunInProgress is returned when another run of the same coordinator holds the mutex
	ErrRunInProgress = errors.New("scheduler: run already in progress")
)
