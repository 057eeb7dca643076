package parser

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Variant.Parse. Callers distinguish them with
// errors.Is.
var (
	ErrCancelled         = errors.New("parser: cancelled")
	ErrUnsupportedFormat = errors.New("parser: unsupported format")
	ErrUnknownFormat     = errors.New("parser: unknown format name")
)

// IOError reports a failure to read the input. It ends the parse.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("parser: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// MalformedUnitError describes a unit that could not be decoded. It is
// recorded on the unit's entry and in the Summary; it never ends a parse.
type MalformedUnitError struct {
	Offset int64  `json:"offset"`
	Reason string `json:"reason"`
}

func (e *MalformedUnitError) Error() string {
	return fmt.Sprintf("parser: malformed unit at offset %d: %s", e.Offset, e.Reason)
}
