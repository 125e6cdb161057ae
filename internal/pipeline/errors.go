package pipeline

import (
	"errors"
	"fmt"
)

// Stages a window can fail in.
const (
	StageFetch   = "fetch"
	StagePersist = "persist"
)

var (
	ErrMissingLayer  = errors.New("workspace and layer are required")
	ErrInvalidRange  = errors.New("year range is reversed")
	ErrMissingTable  = errors.New("target table is required")
	ErrInvalidPaging = errors.New("page size must be positive")
	ErrMissingSource = errors.New("source tag is required")
)

// WindowError reports a window that was not persisted. The caller may
// re-run exactly that window later.
type WindowError struct {
	YearStart int
	YearEnd   int
	Stage     string
	Err       error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window %d-%d: %s: %v", e.YearStart, e.YearEnd, e.Stage, e.Err)
}

func (e *WindowError) Unwrap() error { return e.Err }
