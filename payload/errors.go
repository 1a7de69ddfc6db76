package payload

import "fmt"

// ErrTypeMismatch indicates a payload value of a type the operation does not support.
type ErrTypeMismatch struct {
	Field    string
	Expected string
	cause    error
}

func (e *ErrTypeMismatch) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("type mismatch for field %q: expected %s: %v", e.Field, e.Expected, e.cause)
	}
	return fmt.Sprintf("type mismatch for field %q: expected %s", e.Field, e.Expected)
}

func (e *ErrTypeMismatch) Unwrap() error { return e.cause }

func typeMismatch(field, expected string, cause error) error {
	return &ErrTypeMismatch{Field: field, Expected: expected, cause: cause}
}
