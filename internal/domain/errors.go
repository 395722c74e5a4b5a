package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveTask      = errors.New("no active task")
	ErrDependencyMissing = errors.New("dependency not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrUnknownFunc       = errors.New("unknown task function")
	ErrPersistence       = errors.New("persistence failed")
	ErrNotFound          = errors.New("resource not found")
	ErrTaskNotRunnable   = errors.New("task is not runnable")
	ErrInvalidInput      = errors.New("invalid input")
)

// StageError marks a failure raised by the body of a pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
