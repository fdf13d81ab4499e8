package telemetry

import (
	"errors"
	"fmt"
)

var (
	errNotInteger = errors.New("not an integer")
	errNegative   = errors.New("negative value")
	errNotBool    = errors.New("not a boolean")
	errBadShape   = errors.New("unexpected shape")
)

// ParseError reports one malformed field of a snapshot. The field is Unknown in the
// resulting sample; the rest of the sample is unaffected.
type ParseError struct {
	Layer string
	Field string
	Value interface{}
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s.%s: cannot parse %v: %v", e.Layer, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
