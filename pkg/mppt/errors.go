package mppt

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort         = errors.New("mppt: frame too short")
	ErrChecksumMismatch = errors.New("mppt: checksum mismatch")
	ErrUnknownFrameType = errors.New("mppt: unknown frame type")

	ErrIO               = errors.New("mppt: i/o error")
	ErrTimeout          = errors.New("mppt: response timeout")
	ErrInvalidParameter = errors.New("mppt: invalid parameter")
)

type DecodeError struct {
	Kind error
	Len  int
	// Want and Got are only set for checksum mismatches
	Want byte
	Got  byte
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case ErrChecksumMismatch:
		return fmt.Sprintf("%s (want 0x%02X, got 0x%02X)", e.Kind, e.Want, e.Got)
	case ErrTooShort:
		return fmt.Sprintf("%s (%d bytes, need %d)", e.Kind, e.Len, MinTelemetryLen)
	default:
		return fmt.Sprintf("%s (%d bytes)", e.Kind, e.Len)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// IOError is a transport level failure. Timeouts are reported as IOError wrapping ErrTimeout.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("mppt: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() []error {
	if errors.Is(e.Err, ErrTimeout) {
		return []error{e.Err}
	}
	return []error{ErrIO, e.Err}
}

type InvalidParameterError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("mppt: invalid parameter %s=%d (allowed %d..%d)", e.Field, e.Value, e.Min, e.Max)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// DispatchError wraps a transport failure on a command path.
type DispatchError struct {
	Op  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("mppt: dispatch %s: %v", e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func checkRange(field string, value, lo, hi int) error {
	if value < lo || value > hi {
		return &InvalidParameterError{Field: field, Value: value, Min: lo, Max: hi}
	}
	return nil
}
