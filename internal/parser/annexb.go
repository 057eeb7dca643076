package parser

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/zsiec/bitlens/internal/cursor"
	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
)

// esUnit describes one start-code unit of a video elementary stream.
type esUnit struct {
	name    string
	fields  []model.Field
	err     string
	details []detail
	valid   bool

	picture    bool    // first unit of a coded picture
	pictureErr string  // set on the previous picture's first unit
	rate       float64 // picture rate signalled by this unit
	changed    bool    // stream parameters changed
}

// esCodec annotates the start-code units of one video stream. It is also
// used for the NAL units inside transport stream PES packets.
type esCodec interface {
	describe(u demux.StartCodeUnit, ts int64) esUnit
	info() []Item
}

// pictureEnder is implemented by codecs that check each picture for slice
// data. endPicture closes the open picture and returns the reason it is
// malformed, if any.
type pictureEnder interface {
	endPicture() string
}

// closePicture ends the open picture of codec at the end of the input.
func closePicture(codec esCodec) string {
	if pe, ok := codec.(pictureEnder); ok {
		return pe.endPicture()
	}
	return ""
}

// frameClock times the units of a stream that carries no timestamps. Each
// picture advances it by one frame duration.
type frameClock struct {
	override float64
	detected float64
	t        float64
	started  bool
}

func (c *frameClock) rate() float64 {
	switch {
	case c.override > 0:
		return c.override
	case c.detected > 0:
		return c.detected
	default:
		return defaultFrameRate
	}
}

func (c *frameClock) source() string {
	switch {
	case c.override > 0:
		return "override"
	case c.detected > 0:
		return "bitstream"
	default:
		return "default"
	}
}

func (c *frameClock) detect(fps float64) {
	if fps > 0 && fps <= 1000 {
		c.detected = fps
	}
}

func (c *frameClock) picture() {
	if c.started {
		c.t += 1000 / c.rate()
	}
	c.started = true
}

func (c *frameClock) ms() int64 { return int64(c.t) }

// annexBParser drives an esCodec over a start-code delimited elementary
// stream. The whole input is a single video stream.
type annexBParser struct {
	opts    Options
	format  Format
	codec   func() esCodec
	streams atomic.Int32
}

func newAVCParser(opts Options) Variant {
	return &annexBParser{opts: opts, format: FormatAnnexBAVC, codec: func() esCodec { return newAVCCodec() }}
}

func newHEVCParser(opts Options) Variant {
	return &annexBParser{opts: opts, format: FormatAnnexBHEVC, codec: func() esCodec { return newHEVCCodec() }}
}

func newMPEG2Parser(opts Options) Variant {
	return &annexBParser{opts: opts, format: FormatAnnexBMPEG2, codec: func() esCodec { return newMPEG2Codec() }}
}

func (p *annexBParser) StreamCount() int { return int(p.streams.Load()) }

func (p *annexBParser) VideoStreamIndex() int {
	if p.streams.Load() > 0 {
		return 0
	}
	return NoVideo
}

func (p *annexBParser) Parse(ctx context.Context, cur *cursor.Cursor, sink Sink) (Summary, error) {
	em := newEmitter(sink, p.opts, "parser."+p.format.String())
	codec := p.codec()
	clock := &frameClock{override: p.opts.FrameRate}

	sc := demux.NewScanner(cur)
	sc.SetMaxUnitSize(p.opts.MaxUnitSize)

	lastPicture, lastPictureOffset := -1, int64(0)
	for sc.Scan() {
		u := sc.Unit()
		if err := em.checkpoint(ctx, u.Offset); err != nil {
			return em.sum, err
		}

		eu := p.describe(codec, u, clock.ms())
		if eu.pictureErr != "" {
			em.markError(lastPicture, lastPictureOffset, eu.pictureErr)
		}
		if eu.picture {
			clock.picture()
		}
		if eu.rate > 0 {
			clock.detect(eu.rate)
		}
		announce := eu.changed
		if eu.valid && !em.valid {
			em.markValid()
			p.streams.Store(1)
			announce = true
			em.log.Info("stream detected", "format", p.format.String(), "offset", u.Offset)
		}

		id := em.unit(model.Entry{
			Stream: 0,
			Offset: u.Offset,
			Size:   u.Size(),
			Name:   eu.name,
			Fields: eu.fields,
			Err:    eu.err,
		}, clock.ms())
		em.details(id, 0, u.Offset, eu.details)
		if eu.picture {
			lastPicture, lastPictureOffset = id, u.Offset
		}
		if announce && em.valid {
			sink.StreamInfo(p.info(codec, clock))
		}
	}
	if err := sc.Err(); err != nil {
		return em.sum, &IOError{Op: "read", Path: cur.Name(), Err: err}
	}
	if reason := closePicture(codec); reason != "" {
		em.markError(lastPicture, lastPictureOffset, reason)
	}
	if err := em.checkpoint(ctx, 0); err != nil {
		return em.sum, err
	}
	return em.finish()
}

func (p *annexBParser) describe(codec esCodec, u demux.StartCodeUnit, ts int64) esUnit {
	switch {
	case u.Leading:
		return esUnit{
			name:   "Leading data",
			fields: []model.Field{model.F("size", u.Size())},
			err:    "no start code",
		}
	case u.Continued:
		return esUnit{
			name:   "Continuation",
			fields: []model.Field{model.F("size", u.Size())},
			err:    fmt.Sprintf("continues a unit longer than %d bytes", p.opts.MaxUnitSize),
		}
	}

	eu := codec.describe(u, ts)
	if u.Cut {
		eu.err = joinReason(eu.err, fmt.Sprintf("unit longer than %d bytes was split", p.opts.MaxUnitSize))
	}
	eu.fields = append(eu.fields, model.F("start_code_length", u.StartCodeLen))
	if u.TrailingZeros > 0 {
		eu.fields = append(eu.fields, model.F("trailing_zero_bytes", u.TrailingZeros))
	}
	return eu
}

func (p *annexBParser) info(codec esCodec, clock *frameClock) Info {
	children := []Item{KV("format", p.format.String())}
	children = append(children, codec.info()...)
	children = append(children,
		KV("frame_rate", strconv.FormatFloat(clock.rate(), 'f', 3, 64)),
		KV("frame_rate_source", clock.source()),
	)
	return Info{Group("Stream 0", "video", children...)}
}

func joinReason(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "; " + b
	}
}
