package wire

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownMessage = errors.New("wire: unknown message type")
	ErrFrameTooLarge  = errors.New("wire: frame too large")
)

// ParseError indicates a failure to decode a payload field. It records
// which field was being read.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("wire: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
