package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrBadRequest      = errors.New("bad request")
	ErrAccountNotFound = errors.New("account not found")
	ErrNoAccounts      = errors.New("No accounts configured")
	ErrRunNotFound     = errors.New("run not found")
	ErrTweetNotFound   = errors.New("tweet not found")
	ErrInvalidState    = errors.New("invalid run state")
	ErrInternal        = errors.New("internal error")
)

// DuplicateError rejects an auto submission that repeats a successful run.
type DuplicateError struct {
	PreviousRunID int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("Duplicate submission. Previous run ID: %d", e.PreviousRunID)
}

// ProcessingError wraps a scrape or generation failure. Nothing is persisted
// when one is returned.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string { return "Processing failed: " + e.Err.Error() }
func (e *ProcessingError) Unwrap() error { return e.Err }

func stateError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
