// Package parser turns an input file into packet tree entries. Each
// supported input format has a Variant that reads the file front to back
// through a cursor and pushes what it discovers into a Sink: top-level
// units with their file position, detail rows below them, per-stream packet
// sizes for bitrate tracking, and stream info snapshots.
package parser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/model"
)

// NoVideo is returned by VideoStreamIndex when no video stream is known.
const NoVideo = -1

const (
	defaultProbeWindow = 1 << 20
	defaultMaxUnitSize = 16 << 20
	defaultFrameRate   = 25.0
)

// Sink receives everything a Variant discovers. Calls come from the parsing
// goroutine only.
type Sink interface {
	// Append stores an entry and returns its id. An error ends the parse.
	Append(e model.Entry) (int, error)
	// MarkError flags an already appended entry.
	MarkError(id int, msg string)
	// Packet reports a unit of size bytes at ts milliseconds on stream.
	Packet(stream int, ts int64, size int64)
	// StreamInfo publishes a new stream description.
	StreamInfo(info Info)
}

// Summary counts what a parse produced.
type Summary struct {
	Units          int                 `json:"units"`
	Details        int                 `json:"details"`
	Malformed      int                 `json:"malformed"`
	Bytes          int64               `json:"bytes"`
	FirstMalformed *MalformedUnitError `json:"firstMalformed,omitempty"`
}

// Variant parses one input format. StreamCount and VideoStreamIndex may be
// called from any goroutine while Parse runs.
type Variant interface {
	Parse(ctx context.Context, cur *cursor.Cursor, sink Sink) (Summary, error)
	StreamCount() int
	VideoStreamIndex() int
}

// Options tune a Variant. Zero values select the defaults.
type Options struct {
	// FrameRate overrides the picture rate used to time elementary streams.
	FrameRate float64
	// ProbeWindow is how far into the input a valid unit must appear.
	ProbeWindow int64
	// MaxUnitSize bounds the bytes buffered for one start-code unit.
	MaxUnitSize int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ProbeWindow <= 0 {
		o.ProbeWindow = defaultProbeWindow
	}
	if o.MaxUnitSize <= 0 {
		o.MaxUnitSize = defaultMaxUnitSize
	}
	if o.FrameRate < 0 {
		o.FrameRate = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

var constructors = map[Format]func(Options) Variant{
	FormatAnnexBHEVC:  newHEVCParser,
	FormatAnnexBAVC:   newAVCParser,
	FormatAnnexBMPEG2: newMPEG2Parser,
	FormatContainer:   newContainerParser,
	FormatCapture:     newCaptureParser,
}

// New returns the Variant for f.
func New(f Format, opts Options) (Variant, error) {
	ctor, ok := constructors[f]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
	return ctor(opts.withDefaults()), nil
}
