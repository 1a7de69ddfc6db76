package segment

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecseg/model"
)

var (
	// ErrNotFound matches every ErrPointNotFound.
	ErrNotFound = errors.New("segment: point not found")
	// ErrConfigMismatch is returned by Create when the directory already holds
	// a segment with a different configuration.
	ErrConfigMismatch = errors.New("segment: config mismatch")
	// ErrClosed is returned by operations on a closed segment.
	ErrClosed = errors.New("segment: closed")
)

// ErrDimensionMismatch is returned when a vector or query has the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("segment: wrong vector dimension: expected %d, got %d", e.Expected, e.Actual)
}

// ErrPointNotFound is returned for reads and updates of an unknown point.
type ErrPointNotFound struct {
	ID model.PointID
}

func (e *ErrPointNotFound) Error() string {
	return fmt.Sprintf("segment: point %d not found", e.ID)
}

// Is makes errors.Is(err, ErrNotFound) true.
func (e *ErrPointNotFound) Is(target error) bool { return target == ErrNotFound }

// ErrService reports a failure of a backing store.
type ErrService struct {
	Description string
	cause       error
}

func (e *ErrService) Error() string {
	if e.cause == nil {
		return "segment: service error: " + e.Description
	}
	return fmt.Sprintf("segment: service error: %s: %v", e.Description, e.cause)
}

func (e *ErrService) Unwrap() error { return e.cause }

func serviceError(desc string, cause error) error {
	return &ErrService{Description: desc, cause: cause}
}

func notFound(id model.PointID) error {
	return &ErrPointNotFound{ID: id}
}
