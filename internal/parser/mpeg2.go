package parser

import (
	"fmt"

	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
)

const errPictureWithoutSlices = "picture has no slice data"

type mpeg2Codec struct {
	seq *demux.MPEG2SequenceHeaderInfo
	ext *demux.MPEG2SequenceExtension

	inPicture bool
	slices    int
}

func newMPEG2Codec() *mpeg2Codec {
	return &mpeg2Codec{}
}

// endPicture closes the current picture and reports whether it was empty.
func (c *mpeg2Codec) endPicture() string {
	empty := c.inPicture && c.slices == 0
	c.inPicture, c.slices = false, 0
	if empty {
		return errPictureWithoutSlices
	}
	return ""
}

func (c *mpeg2Codec) describe(u demux.StartCodeUnit, _ int64) esUnit {
	data := u.Payload()
	if len(data) == 0 {
		return esUnit{name: "Empty unit", err: "start code without a start code value"}
	}
	code, body := data[0], data[1:]

	eu := esUnit{
		name:   demux.MPEG2StartCodeName(code),
		fields: []model.Field{model.F("start_code", fmt.Sprintf("0x%02X", code))},
	}
	if err := demux.ValidateMPEG2StartCode(code); err != nil {
		eu.err = err.Error()
		return eu
	}
	eu.valid = true

	switch {
	case code == demux.MPEG2Picture:
		eu.pictureErr = c.endPicture()
		c.inPicture = true
		eu.picture = true
		c.describePicture(body, &eu)
	case code >= demux.MPEG2SliceFirst && code <= demux.MPEG2SliceLast:
		c.slices++
		eu.fields = append(eu.fields, model.F("slice_vertical_position", code))
	case code == demux.MPEG2SequenceHeader:
		eu.pictureErr = c.endPicture()
		c.describeSequence(body, &eu)
	case code == demux.MPEG2Extension:
		c.describeExtension(body, &eu)
	case code == demux.MPEG2GOP:
		eu.pictureErr = c.endPicture()
		c.describeGOP(body, &eu)
	case code == demux.MPEG2SequenceEnd:
		eu.pictureErr = c.endPicture()
	case code == demux.MPEG2UserData:
		eu.fields = append(eu.fields, model.F("user_data_length", len(body)))
	}
	return eu
}

func (c *mpeg2Codec) describePicture(body []byte, eu *esUnit) {
	p, err := demux.ParseMPEG2Picture(body)
	eu.details = append(eu.details, detail{
		name: "picture_header",
		fields: []model.Field{
			model.F("temporal_reference", p.TemporalReference),
			model.F("picture_coding_type", fmt.Sprintf("%d (%s)", p.CodingType, p.CodingTypeName())),
			model.F("vbv_delay", p.VBVDelay),
		},
	})
	if err != nil {
		eu.err = "picture_header: " + err.Error()
		return
	}
	eu.fields = append(eu.fields,
		model.F("picture_coding_type", p.CodingTypeName()),
		model.F("temporal_reference", p.TemporalReference),
	)
}

func (c *mpeg2Codec) describeSequence(body []byte, eu *esUnit) {
	s, err := demux.ParseMPEG2SequenceHeader(body)
	if err != nil {
		eu.err = "sequence_header: " + err.Error()
		return
	}
	fields := []model.Field{
		model.F("horizontal_size_value", s.Width),
		model.F("vertical_size_value", s.Height),
		model.F("aspect_ratio_information", fmt.Sprintf("%d (%s)", s.AspectCode, s.AspectRatio())),
		model.F("frame_rate_code", s.FrameRateCode),
		model.F("bit_rate", fmt.Sprintf("%d bit/s", uint64(s.BitRate)*400)),
		model.F("vbv_buffer_size_value", s.VBVBufferSize),
		model.F("custom_quant_matrices", s.CustomMatrices),
	}
	if fps := s.FrameRate(); fps > 0 {
		fields = append(fields, model.F("frame_rate", fmt.Sprintf("%.3f", fps)))
		eu.rate = fps
	}
	eu.details = append(eu.details, detail{name: "sequence_header", fields: fields})
	eu.fields = append(eu.fields, model.F("resolution", fmt.Sprintf("%dx%d", s.Width, s.Height)))

	if c.seq == nil || *c.seq != s {
		eu.changed = true
	}
	c.seq = &s
}

func (c *mpeg2Codec) describeExtension(body []byte, eu *esUnit) {
	ext, id, ok, err := demux.ParseMPEG2Extension(body)
	eu.fields = append(eu.fields, model.F("extension_start_code_identifier", id))
	if !ok {
		if err != nil {
			eu.err = "extension: " + err.Error()
		}
		return
	}
	eu.name = "sequence_extension"
	eu.details = append(eu.details, detail{
		name: "sequence_extension",
		fields: []model.Field{
			model.F("profile_and_level_indication", fmt.Sprintf("0x%02X (%s)", ext.ProfileLevel, ext.Profile())),
			model.F("progressive_sequence", ext.Progressive),
			model.F("chroma_format", fmt.Sprintf("%d (%s)", ext.ChromaFormat, ext.ChromaSubsampling())),
		},
	})
	if err != nil {
		eu.err = "sequence_extension: " + err.Error()
		return
	}
	if c.ext == nil || *c.ext != ext {
		eu.changed = true
	}
	c.ext = &ext
}

func (c *mpeg2Codec) describeGOP(body []byte, eu *esUnit) {
	g, err := demux.ParseMPEG2GOP(body)
	if err != nil {
		eu.err = "group_of_pictures_header: " + err.Error()
		return
	}
	eu.details = append(eu.details, detail{
		name: "group_of_pictures_header",
		fields: []model.Field{
			model.F("drop_frame_flag", g.DropFrame),
			model.F("time_code", g.TimeCode.String()),
			model.F("closed_gop", g.ClosedGOP),
			model.F("broken_link", g.BrokenLink),
		},
	})
	eu.fields = append(eu.fields, model.F("time_code", g.TimeCode.String()))
}

func (c *mpeg2Codec) info() []Item {
	items := []Item{KV("codec", "MPEG-2 Video")}
	if s := c.seq; s != nil {
		items = append(items,
			KV("resolution", fmt.Sprintf("%dx%d", s.Width, s.Height)),
			KV("aspect_ratio", s.AspectRatio()),
			KV("bit_rate", fmt.Sprintf("%d bit/s", uint64(s.BitRate)*400)),
		)
	}
	if e := c.ext; e != nil {
		items = append(items,
			KV("profile", e.Profile()),
			KV("progressive", e.Progressive),
			KV("chroma", e.ChromaSubsampling()),
		)
	}
	return items
}
