package parser

import (
	"errors"
	"fmt"

	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
)

type avcCodec struct {
	sps      map[uint]demux.SPSInfo
	pps      map[uint]demux.PPSInfo
	active   *demux.SPSInfo
	captions *demux.CaptionDecoder
}

func newAVCCodec() *avcCodec {
	return &avcCodec{
		sps:      make(map[uint]demux.SPSInfo),
		pps:      make(map[uint]demux.PPSInfo),
		captions: demux.NewCaptionDecoder(),
	}
}

func (c *avcCodec) describe(u demux.StartCodeUnit, ts int64) esUnit {
	nal := u.Payload()
	h, err := demux.ParseAVCHeader(nal)
	if errors.Is(err, demux.ErrEmptyNAL) {
		return esUnit{name: "Empty NAL unit", err: err.Error()}
	}

	eu := esUnit{
		name: demux.NALTypeName(h.Type),
		fields: []model.Field{
			model.F("nal_unit_type", h.Type),
			model.F("nal_ref_idc", h.RefIDC),
		},
		details: []detail{{
			name: "nal_unit_header",
			size: 1,
			fields: []model.Field{
				model.F("forbidden_zero_bit", h.ForbiddenZeroBit),
				model.F("nal_ref_idc", h.RefIDC),
				model.F("nal_unit_type", h.Type),
			},
		}},
	}
	if err != nil {
		eu.err = err.Error()
		return eu
	}
	eu.valid = h.Type >= demux.NALTypeSlice && h.Type <= demux.NALTypeSliceExt3D

	switch {
	case demux.IsSPS(h.Type):
		c.describeSPS(nal, &eu)
	case demux.IsPPS(h.Type):
		c.describePPS(nal, &eu)
	case demux.IsAVCVCL(h.Type):
		c.describeSlice(nal, h.Type, &eu)
	case h.Type == demux.NALTypeSEI:
		ds, serr := describeSEI(nal, 1, c.captions, ts)
		eu.details = append(eu.details, ds...)
		eu.err = serr
		if c.active != nil {
			if tc, ok := demux.ParsePicTimingSEI(nal, *c.active); ok {
				eu.fields = append(eu.fields, model.F("timecode", tc.String()))
			}
		}
	}
	return eu
}

func (c *avcCodec) describeSPS(nal []byte, eu *esUnit) {
	sps, err := demux.ParseSPS(nal)
	switch {
	case errors.Is(err, demux.ErrTrailingData):
		eu.err = err.Error()
	case err != nil:
		eu.err = "SPS: " + err.Error()
		return
	}
	fields := []model.Field{
		model.F("profile_idc", sps.ProfileIDC),
		model.F("constraint_set_flags", fmt.Sprintf("0x%02X", sps.ConstraintFlags)),
		model.F("level_idc", sps.LevelIDC),
		model.F("seq_parameter_set_id", sps.ID),
		model.F("chroma_format_idc", sps.ChromaFormatIDC),
		model.F("frame_mbs_only_flag", sps.FrameMbsOnly),
		model.F("width", sps.Width),
		model.F("height", sps.Height),
		model.F("codec", sps.CodecString()),
	}
	if fps := sps.FrameRate(); fps > 0 {
		fields = append(fields, model.F("frame_rate", fmt.Sprintf("%.3f", fps)))
		eu.rate = fps
	}
	eu.details = append(eu.details, detail{name: "seq_parameter_set_rbsp", fields: fields})
	eu.fields = append(eu.fields, model.F("resolution", fmt.Sprintf("%dx%d", sps.Width, sps.Height)))

	if prev, ok := c.sps[sps.ID]; !ok || prev != sps {
		eu.changed = true
	}
	c.sps[sps.ID] = sps
	c.active = &sps
}

func (c *avcCodec) describePPS(nal []byte, eu *esUnit) {
	pps, err := demux.ParsePPS(nal)
	switch {
	case errors.Is(err, demux.ErrTrailingData):
		eu.err = err.Error()
	case err != nil:
		eu.err = "PPS: " + err.Error()
		return
	}
	eu.details = append(eu.details, detail{
		name: "pic_parameter_set_rbsp",
		fields: []model.Field{
			model.F("pic_parameter_set_id", pps.ID),
			model.F("seq_parameter_set_id", pps.SPSID),
			model.F("entropy_coding_mode_flag", pps.EntropyCodingCABAC),
			model.F("bottom_field_pic_order_in_frame_present_flag", pps.BottomFieldPicOrder),
			model.F("num_slice_groups_minus1", pps.NumSliceGroups-1),
			model.F("weighted_pred_flag", pps.WeightedPred),
			model.F("weighted_bipred_idc", pps.WeightedBipredIDC),
			model.F("pic_init_qp", pps.PicInitQP),
			model.F("deblocking_filter_control_present_flag", pps.DeblockingFilterControl),
			model.F("constrained_intra_pred_flag", pps.ConstrainedIntraPred),
			model.F("transform_8x8_mode_flag", pps.Transform8x8),
		},
	})
	c.pps[pps.ID] = pps
}

func (c *avcCodec) describeSlice(nal []byte, nalType byte, eu *esUnit) {
	sh, err := demux.ParseAVCSliceHeader(nal)
	if err != nil {
		eu.err = "slice_header: " + err.Error()
		return
	}
	eu.details = append(eu.details, detail{
		name: "slice_header",
		fields: []model.Field{
			model.F("first_mb_in_slice", sh.FirstMB),
			model.F("slice_type", fmt.Sprintf("%d (%s)", sh.SliceType, demux.SliceTypeName(sh.SliceType))),
			model.F("pic_parameter_set_id", sh.PPSID),
		},
	})
	eu.fields = append(eu.fields, model.F("slice_type", demux.SliceTypeName(sh.SliceType)))
	if demux.IsKeyframe(nalType) {
		eu.fields = append(eu.fields, model.F("keyframe", true))
	}
	if _, ok := c.pps[sh.PPSID]; !ok {
		eu.fields = append(eu.fields, model.F("pps_missing", true))
	}
	if sh.FirstMB == 0 {
		eu.picture = true
		c.captions.AdvancePicture()
	}
}

func (c *avcCodec) info() []Item {
	items := []Item{KV("codec", "H.264/AVC")}
	if sps := c.active; sps != nil {
		items = append(items,
			KV("codec_string", sps.CodecString()),
			KV("resolution", fmt.Sprintf("%dx%d", sps.Width, sps.Height)),
			KV("profile_idc", sps.ProfileIDC),
			KV("level_idc", sps.LevelIDC),
			KV("chroma_format_idc", sps.ChromaFormatIDC),
		)
	}
	items = append(items, KV("parameter_sets", fmt.Sprintf("%d SPS, %d PPS", len(c.sps), len(c.pps))))
	return items
}
