package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/bitlens/internal/model"
)

// detail is a row below a unit. It inherits the stream of its unit and,
// unless located is set, the offset of its parent.
type detail struct {
	name     string
	fields   []model.Field
	size     int64
	err      string
	offset   int64
	located  bool
	children []detail
}

// emitter forwards entries to a Sink and keeps the bookkeeping every variant
// shares: counts, the first malformed unit, the probe window and the first
// Sink failure, after which nothing more is appended.
type emitter struct {
	sink  Sink
	opts  Options
	log   *slog.Logger
	sum   Summary
	valid bool
	err   error
}

func newEmitter(sink Sink, opts Options, component string) *emitter {
	return &emitter{
		sink: sink,
		opts: opts,
		log:  opts.Logger.With("component", component),
	}
}

// unit appends a top-level entry and reports its size at ts on the entry's
// stream. It returns -1 once the Sink has failed.
func (em *emitter) unit(e model.Entry, ts int64) int {
	if em.err != nil {
		return -1
	}
	e.Parent = model.NoParent
	id, err := em.sink.Append(e)
	if err != nil {
		em.err = fmt.Errorf("parser: append unit at %d: %w", e.Offset, err)
		return -1
	}
	em.sum.Units++
	em.sum.Bytes += e.Size
	if e.Err != "" {
		em.malformed(e.Offset, e.Err)
	}
	if e.Stream >= 0 {
		em.sink.Packet(e.Stream, ts, e.Size)
	}
	return id
}

func (em *emitter) details(parent, stream int, offset int64, ds []detail) {
	for _, d := range ds {
		if em.err != nil || parent < 0 {
			return
		}
		off := offset
		if d.located {
			off = d.offset
		}
		id, err := em.sink.Append(model.Entry{
			Parent: parent,
			Stream: stream,
			Offset: off,
			Size:   d.size,
			Name:   d.name,
			Fields: d.fields,
			Err:    d.err,
		})
		if err != nil {
			em.err = fmt.Errorf("parser: append detail of %d: %w", parent, err)
			return
		}
		em.sum.Details++
		em.details(id, stream, off, d.children)
	}
}

// markError flags a unit that was appended without an error.
func (em *emitter) markError(id int, offset int64, reason string) {
	if id < 0 {
		return
	}
	em.sink.MarkError(id, reason)
	em.malformed(offset, reason)
}

func (em *emitter) malformed(offset int64, reason string) {
	em.sum.Malformed++
	if em.sum.FirstMalformed == nil {
		em.sum.FirstMalformed = &MalformedUnitError{Offset: offset, Reason: reason}
		em.log.Warn("malformed unit", "offset", offset, "reason", reason)
		return
	}
	em.log.Debug("malformed unit", "offset", offset, "reason", reason)
}

func (em *emitter) markValid() { em.valid = true }

// checkpoint runs at every unit boundary. pos is the offset of the next unit.
func (em *emitter) checkpoint(ctx context.Context, pos int64) error {
	if em.err != nil {
		return em.err
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if !em.valid && pos > em.opts.ProbeWindow {
		return fmt.Errorf("%w: no valid unit in the first %d bytes", ErrUnsupportedFormat, em.opts.ProbeWindow)
	}
	return nil
}

func (em *emitter) finish() (Summary, error) {
	if em.err != nil {
		return em.sum, em.err
	}
	if !em.valid {
		return em.sum, fmt.Errorf("%w: no valid unit found", ErrUnsupportedFormat)
	}
	em.log.Debug("parse finished",
		"units", em.sum.Units,
		"details", em.sum.Details,
		"malformed", em.sum.Malformed,
		"bytes", em.sum.Bytes,
	)
	return em.sum, nil
}
