// Package model holds the packet tree produced by a parse session: an
// append-only, indexable sequence of entries plus the parent/child index, and
// filtered views over its top-level rows.
//
// A single writer appends while any number of readers query concurrently.
// Readers never block the writer and never observe a partially written row.
package model

import (
	"fmt"
	"strconv"
)

const (
	// NoParent is the Parent of a top-level entry and the argument that
	// selects top-level rows in ChildrenOf.
	NoParent = -1
	// NoStream marks entries that belong to no elementary stream, such as
	// container tables or unsynchronized byte ranges.
	NoStream = -1
)

// Field is one annotated syntax element of an entry.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is one node of the packet tree. Top-level entries describe units read
// from the file (a NAL unit, an elementary packet, a container packet); their
// Offset and Size are positions in the source. Detail entries refine a unit
// and inherit its stream.
type Entry struct {
	ID     int     `json:"id"`
	Parent int     `json:"parent"`
	Stream int     `json:"stream"`
	Offset int64   `json:"offset"`
	Size   int64   `json:"size"`
	Name   string  `json:"name"`
	Fields []Field `json:"fields,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// Malformed reports whether the entry carries an error diagnostic.
func (e Entry) Malformed() bool { return e.Err != "" }

// TopLevel reports whether the entry is a unit rather than a detail row.
func (e Entry) TopLevel() bool { return e.Parent == NoParent }

// Field returns the value of the first field named key.
func (e Entry) Field(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// F builds a Field from any printable value.
func F(key string, value any) Field {
	switch v := value.(type) {
	case string:
		return Field{Key: key, Value: v}
	case int:
		return Field{Key: key, Value: strconv.Itoa(v)}
	case int64:
		return Field{Key: key, Value: strconv.FormatInt(v, 10)}
	case uint:
		return Field{Key: key, Value: strconv.FormatUint(uint64(v), 10)}
	case byte:
		return Field{Key: key, Value: strconv.Itoa(int(v))}
	case uint16:
		return Field{Key: key, Value: strconv.Itoa(int(v))}
	case bool:
		return Field{Key: key, Value: strconv.FormatBool(v)}
	default:
		return Field{Key: key, Value: fmt.Sprint(v)}
	}
}
