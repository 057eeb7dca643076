package parser

import (
	"errors"
	"fmt"

	"github.com/zsiec/bitlens/internal/demux"
	"github.com/zsiec/bitlens/internal/model"
)

type hevcCodec struct {
	vps      map[uint]demux.HEVCVPSInfo
	sps      map[uint]demux.HEVCSPSInfo
	pps      map[uint]demux.HEVCPPSInfo
	active   *demux.HEVCSPSInfo
	rate     float64
	captions *demux.CaptionDecoder
}

func newHEVCCodec() *hevcCodec {
	return &hevcCodec{
		vps:      make(map[uint]demux.HEVCVPSInfo),
		sps:      make(map[uint]demux.HEVCSPSInfo),
		pps:      make(map[uint]demux.HEVCPPSInfo),
		captions: demux.NewCaptionDecoder(),
	}
}

func (c *hevcCodec) describe(u demux.StartCodeUnit, ts int64) esUnit {
	nal := u.Payload()
	h, err := demux.ParseHEVCHeader(nal)
	if errors.Is(err, demux.ErrEmptyNAL) {
		return esUnit{name: "Empty NAL unit", err: err.Error()}
	}

	eu := esUnit{
		name: demux.HEVCNALTypeName(h.Type),
		fields: []model.Field{
			model.F("nal_unit_type", h.Type),
			model.F("nuh_layer_id", h.LayerID),
			model.F("nuh_temporal_id_plus1", h.TemporalIDPlus1),
		},
		details: []detail{{
			name: "nal_unit_header",
			size: 2,
			fields: []model.Field{
				model.F("forbidden_zero_bit", h.ForbiddenZeroBit),
				model.F("nal_unit_type", h.Type),
				model.F("nuh_layer_id", h.LayerID),
				model.F("nuh_temporal_id_plus1", h.TemporalIDPlus1),
			},
		}},
	}
	if err != nil {
		eu.err = err.Error()
		return eu
	}
	eu.valid = h.Type <= demux.HEVCNALSEISuffix

	switch {
	case demux.IsHEVCVPS(h.Type):
		c.describeVPS(nal, &eu)
	case demux.IsHEVCSPS(h.Type):
		c.describeSPS(nal, &eu)
	case demux.IsHEVCPPS(h.Type):
		c.describePPS(nal, &eu)
	case demux.IsHEVCVCL(h.Type):
		c.describeSlice(nal, h.Type, &eu)
	case h.Type == demux.HEVCNALSEIPrefix || h.Type == demux.HEVCNALSEISuffix:
		ds, serr := describeSEI(nal, 2, c.captions, ts)
		eu.details = append(eu.details, ds...)
		eu.err = serr
	}
	return eu
}

func (c *hevcCodec) describeVPS(nal []byte, eu *esUnit) {
	vps, err := demux.ParseHEVCVPS(nal)
	if err != nil {
		eu.err = "VPS: " + err.Error()
		return
	}
	fields := []model.Field{
		model.F("vps_video_parameter_set_id", vps.ID),
		model.F("vps_max_layers", vps.MaxLayers),
		model.F("vps_max_sub_layers", vps.MaxSubLayers),
		model.F("general_profile_idc", vps.ProfileIDC),
		model.F("general_level_idc", vps.LevelIDC),
	}
	if fps := vps.FrameRate(); fps > 0 {
		fields = append(fields, model.F("frame_rate", fmt.Sprintf("%.3f", fps)))
		eu.rate = fps
		if fps != c.rate {
			c.rate = fps
			eu.changed = true
		}
	}
	eu.details = append(eu.details, detail{name: "video_parameter_set_rbsp", fields: fields})
	c.vps[vps.ID] = vps
}

func (c *hevcCodec) describeSPS(nal []byte, eu *esUnit) {
	sps, err := demux.ParseHEVCSPS(nal)
	if err != nil {
		eu.err = "SPS: " + err.Error()
		return
	}
	tier := "Main"
	if sps.TierFlag == 1 {
		tier = "High"
	}
	eu.details = append(eu.details, detail{
		name: "seq_parameter_set_rbsp",
		fields: []model.Field{
			model.F("sps_video_parameter_set_id", sps.VPSID),
			model.F("sps_seq_parameter_set_id", sps.ID),
			model.F("sps_max_sub_layers", sps.MaxSubLayers),
			model.F("general_profile_idc", sps.ProfileIDC),
			model.F("general_tier", tier),
			model.F("general_level_idc", sps.LevelIDC),
			model.F("chroma_format_idc", sps.ChromaFormatIdc),
			model.F("pic_width", sps.Width),
			model.F("pic_height", sps.Height),
			model.F("bit_depth_luma", int(sps.BitDepthLumaMinus8)+8),
			model.F("bit_depth_chroma", int(sps.BitDepthChromaMinus8)+8),
			model.F("codec", sps.CodecString()),
		},
	})
	eu.fields = append(eu.fields, model.F("resolution", fmt.Sprintf("%dx%d", sps.Width, sps.Height)))

	if prev, ok := c.sps[sps.ID]; !ok || prev != sps {
		eu.changed = true
	}
	c.sps[sps.ID] = sps
	c.active = &sps
}

func (c *hevcCodec) describePPS(nal []byte, eu *esUnit) {
	pps, err := demux.ParseHEVCPPS(nal)
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
			model.F("pps_pic_parameter_set_id", pps.ID),
			model.F("pps_seq_parameter_set_id", pps.SPSID),
			model.F("dependent_slice_segments_enabled_flag", pps.DependentSliceSegments),
			model.F("output_flag_present_flag", pps.OutputFlagPresent),
			model.F("num_extra_slice_header_bits", pps.NumExtraSliceHeaderBits),
			model.F("sign_data_hiding_enabled_flag", pps.SignDataHiding),
			model.F("init_qp", pps.InitQP),
			model.F("weighted_pred_flag", pps.WeightedPred),
			model.F("weighted_bipred_flag", pps.WeightedBipred),
			model.F("tiles_enabled_flag", pps.TilesEnabled),
			model.F("entropy_coding_sync_enabled_flag", pps.EntropyCodingSync),
			model.F("pps_scaling_list_data_present_flag", pps.ScalingListData),
			model.F("pps_extension_present_flag", pps.ExtensionPresent),
		},
	})
	if pps.TilesEnabled {
		eu.fields = append(eu.fields, model.F("tiles", fmt.Sprintf("%dx%d", pps.TileColumns, pps.TileRows)))
	}
	c.pps[pps.ID] = pps
}

func (c *hevcCodec) describeSlice(nal []byte, nalType byte, eu *esUnit) {
	sh, err := demux.ParseHEVCSliceHeader(nal)
	if err != nil {
		eu.err = "slice_segment_header: " + err.Error()
		return
	}
	eu.details = append(eu.details, detail{
		name: "slice_segment_header",
		fields: []model.Field{
			model.F("first_slice_segment_in_pic_flag", sh.FirstSliceSegmentInPic),
			model.F("slice_pic_parameter_set_id", sh.PPSID),
		},
	})
	if demux.IsHEVCKeyframe(nalType) {
		eu.fields = append(eu.fields, model.F("keyframe", true))
	}
	if _, ok := c.pps[sh.PPSID]; !ok {
		eu.fields = append(eu.fields, model.F("pps_missing", true))
	}
	if sh.FirstSliceSegmentInPic {
		eu.picture = true
		c.captions.AdvancePicture()
	}
}

func (c *hevcCodec) info() []Item {
	items := []Item{KV("codec", "H.265/HEVC")}
	if sps := c.active; sps != nil {
		items = append(items,
			KV("codec_string", sps.CodecString()),
			KV("resolution", fmt.Sprintf("%dx%d", sps.Width, sps.Height)),
			KV("profile_idc", sps.ProfileIDC),
			KV("level_idc", sps.LevelIDC),
			KV("chroma_format_idc", sps.ChromaFormatIdc),
			KV("bit_depth", int(sps.BitDepthLumaMinus8)+8),
		)
	}
	items = append(items, KV("parameter_sets", fmt.Sprintf("%d VPS, %d SPS, %d PPS", len(c.vps), len(c.sps), len(c.pps))))
	return items
}
