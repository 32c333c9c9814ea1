package record

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode matches any *DecodeError.
	ErrDecode = errors.New("decode error")
	// ErrInvalidField matches any *FieldError.
	ErrInvalidField = errors.New("invalid field")

	errTruncated       = errors.New("truncated")
	errBadVarint       = errors.New("malformed varint")
	errUnknownField    = errors.New("unknown field")
	errWireType        = errors.New("unexpected wire type")
	errVersion         = errors.New("unsupported schema version")
	errDirectionValue  = errors.New("invalid direction")
	errValueOutOfRange = errors.New("value out of range")
)

// DecodeError reports malformed record bytes.
type DecodeError struct {
	Record string
	Field  string
	Offset int
	Err    error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: field %s at offset %d: %v", e.Record, e.Field, e.Offset, e.Err)
	}
	return fmt.Sprintf("decode %s: offset %d: %v", e.Record, e.Offset, e.Err)
}

// Unwrap returns the cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// FieldError reports an override which can't be applied.
type FieldError struct {
	Record string
	Field  string
	Reason string
}

// Error implements error.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s field %q: %s", e.Record, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidField) true.
func (e *FieldError) Is(target error) bool { return target == ErrInvalidField }
