package vecseg

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecseg/filter"
	"github.com/hupe1980/vecseg/operation"
	"github.com/hupe1980/vecseg/payload"
	"github.com/hupe1980/vecseg/segment"
	"github.com/hupe1980/vecseg/updater"
	"github.com/hupe1980/vecseg/wal"
)

var (
	// ErrNotFound is returned when a point id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vecseg: closed")

	// ErrInvalidArgument is returned for malformed operations, filters and configurations.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorrupted is returned when the operation log cannot be decoded.
	ErrCorrupted = errors.New("corrupted operation log")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrTypeMismatch indicates a payload value of an unsupported type.
type ErrTypeMismatch struct {
	Field    string
	Expected string
	cause    error
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch for field %q: expected %s", e.Field, e.Expected)
}

func (e *ErrTypeMismatch) Unwrap() error { return e.cause }

// ErrService indicates a failure of a backing store. It is never retried.
type ErrService struct {
	Description string
	cause       error
}

func (e *ErrService) Error() string {
	return fmt.Sprintf("service error: %s", e.Description)
}

func (e *ErrService) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *segment.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var tm *payload.ErrTypeMismatch
	if errors.As(err, &tm) {
		return &ErrTypeMismatch{Field: tm.Field, Expected: tm.Expected, cause: err}
	}
	if errors.Is(err, segment.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, segment.ErrClosed) || errors.Is(err, updater.ErrClosed) || errors.Is(err, wal.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, wal.ErrCorrupted) {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	if errors.Is(err, operation.ErrInvalid) || errors.Is(err, filter.ErrInvalidFilter) ||
		errors.Is(err, segment.ErrConfigMismatch) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	var se *segment.ErrService
	if errors.As(err, &se) {
		return &ErrService{Description: se.Description, cause: err}
	}

	return err
}
