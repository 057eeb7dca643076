package demux

import (
	"errors"
	"fmt"
	"math/bits"
)

// H.265/HEVC NAL unit type constants as defined in ITU-T H.265 Table 7-1.
const (
	HEVCNALTrailN     = 0
	HEVCNALTrailR     = 1
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALEOS        = 36
	HEVCNALEOB        = 37
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
	HEVCNALSEISuffix  = 40
)

// ErrZeroTemporalID is returned when nuh_temporal_id_plus1 is zero.
var ErrZeroTemporalID = errors.New("demux: nuh_temporal_id_plus1 is zero")

var hevcNALNames = map[byte]string{
	0:                 "TRAIL_N",
	1:                 "TRAIL_R",
	2:                 "TSA_N",
	3:                 "TSA_R",
	4:                 "STSA_N",
	5:                 "STSA_R",
	6:                 "RADL_N",
	7:                 "RADL_R",
	8:                 "RASL_N",
	9:                 "RASL_R",
	HEVCNALBlaWLP:     "BLA_W_LP",
	17:                "BLA_W_RADL",
	18:                "BLA_N_LP",
	HEVCNALIDRWRadl:   "IDR_W_RADL",
	HEVCNALIDRNlp:     "IDR_N_LP",
	HEVCNALCraNut:     "CRA_NUT",
	HEVCNALVPS:        "VPS_NUT",
	HEVCNALSPS:        "SPS_NUT",
	HEVCNALPPS:        "PPS_NUT",
	HEVCNALAUD:        "AUD_NUT",
	HEVCNALEOS:        "EOS_NUT",
	HEVCNALEOB:        "EOB_NUT",
	HEVCNALFillerData: "FD_NUT",
	HEVCNALSEIPrefix:  "PREFIX_SEI_NUT",
	HEVCNALSEISuffix:  "SUFFIX_SEI_NUT",
}

// HEVCNALTypeName returns the mnemonic of an HEVC NAL unit type.
func HEVCNALTypeName(t byte) string {
	if name, ok := hevcNALNames[t]; ok {
		return name
	}
	switch {
	case t <= 31:
		return fmt.Sprintf("RSV_VCL (%d)", t)
	case t <= 47:
		return fmt.Sprintf("RSV_NVCL (%d)", t)
	default:
		return fmt.Sprintf("UNSPEC (%d)", t)
	}
}

// HEVCNALType extracts the NAL unit type from the first byte of an HEVC
// 2-byte NAL header: forbidden(1) | type(6) | layerID_high(1).
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// HEVCHeader is the two-byte HEVC NAL unit header.
type HEVCHeader struct {
	ForbiddenZeroBit bool
	Type             byte
	LayerID          byte
	TemporalIDPlus1  byte
}

// ParseHEVCHeader decodes the NAL header of nal (start code removed). The
// header is returned alongside any conformance error so it can be shown.
func ParseHEVCHeader(nal []byte) (HEVCHeader, error) {
	if len(nal) < 2 {
		return HEVCHeader{}, ErrEmptyNAL
	}
	h := HEVCHeader{
		ForbiddenZeroBit: nal[0]&0x80 != 0,
		Type:             HEVCNALType(nal[0]),
		LayerID:          (nal[0]&0x01)<<5 | nal[1]>>3,
		TemporalIDPlus1:  nal[1] & 0x07,
	}
	switch {
	case h.ForbiddenZeroBit:
		return h, ErrForbiddenBit
	case h.TemporalIDPlus1 == 0:
		return h, ErrZeroTemporalID
	}
	return h, nil
}

// IsHEVCVCL reports whether the NAL type carries coded slice segment data.
func IsHEVCVCL(nalType byte) bool { return nalType <= 31 }

// IsHEVCKeyframe returns true if the NAL type represents an HEVC random access
// point (BLA, IDR, or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// IsHEVCVPS returns true if the NAL type is a Video Parameter Set.
func IsHEVCVPS(nalType byte) bool { return nalType == HEVCNALVPS }

// IsHEVCSPS returns true if the NAL type is a Sequence Parameter Set.
func IsHEVCSPS(nalType byte) bool { return nalType == HEVCNALSPS }

// IsHEVCPPS returns true if the NAL type is a Picture Parameter Set.
func IsHEVCPPS(nalType byte) bool { return nalType == HEVCNALPPS }

// ProfileTierLevel holds the general profile_tier_level fields shared by the
// HEVC VPS and SPS.
type ProfileTierLevel struct {
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64
}

// CodecString returns the RFC 6381 codec parameter string (e.g.
// "hev1.1.6.L93.B0").
func (p ProfileTierLevel) CodecString() string {
	tier := "L"
	if p.TierFlag == 1 {
		tier = "H"
	}

	reversed := bits.Reverse32(p.ProfileCompatibilityFlags)

	// Build constraint bytes (6 bytes from the 48-bit field), trim trailing zeros
	var constraintBytes [6]byte
	for i := 0; i < 6; i++ {
		constraintBytes[i] = byte((p.ConstraintIndicatorFlags >> uint((5-i)*8)) & 0xFF)
	}
	lastNonZero := -1
	for i := 5; i >= 0; i-- {
		if constraintBytes[i] != 0 {
			lastNonZero = i
			break
		}
	}

	codec := fmt.Sprintf("hev1.%d.%X.%s%d", p.ProfileIDC, reversed, tier, p.LevelIDC)
	for i := 0; i <= lastNonZero; i++ {
		codec += fmt.Sprintf(".%X", constraintBytes[i])
	}
	return codec
}

// HEVCSPSInfo holds parameters extracted from an HEVC SPS NAL unit.
type HEVCSPSInfo struct {
	ProfileTierLevel

	VPSID        uint
	ID           uint
	Width        int
	Height       int
	MaxSubLayers int

	ChromaFormatIdc      byte
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte
}

// ParseHEVCSPS parses an HEVC SPS NAL unit to extract resolution and
// profile/tier/level. The input should be the raw NAL data including
// the 2-byte NAL header.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, ErrTruncated
	}

	// Skip 2-byte NAL header
	rbsp := removeEmulationPrevention(nalu[2:])
	br := newBitReader(rbsp)

	info := HEVCSPSInfo{}

	// sps_video_parameter_set_id (4 bits)
	vpsID, err := br.readBits(4)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.VPSID = vpsID

	// sps_max_sub_layers_minus1 (3 bits)
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.MaxSubLayers = int(maxSubLayersMinus1) + 1

	// sps_temporal_id_nesting_flag (1 bit)
	if _, err := br.readBits(1); err != nil {
		return HEVCSPSInfo{}, err
	}

	if err := parseHEVCProfileTierLevel(br, &info.ProfileTierLevel, maxSubLayersMinus1); err != nil {
		return HEVCSPSInfo{}, err
	}

	// sps_seq_parameter_set_id
	if info.ID, err = br.readUE(); err != nil {
		return HEVCSPSInfo{}, err
	}

	chromaFormatIdc, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	info.ChromaFormatIdc = byte(chromaFormatIdc)

	if chromaFormatIdc == 3 {
		// separate_colour_plane_flag
		if _, err := br.readBits(1); err != nil {
			return HEVCSPSInfo{}, err
		}
	}

	width, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}
	height, err := br.readUE()
	if err != nil {
		return HEVCSPSInfo{}, err
	}

	info.Width = int(width)
	info.Height = int(height)

	// The remaining fields are informational; a short SPS still yields the
	// resolution read so far.
	confWindowFlag, err := br.readBits(1)
	if err != nil {
		return info, nil
	}

	if confWindowFlag == 1 {
		var win [4]uint
		for i := range win {
			if win[i], err = br.readUE(); err != nil {
				return info, nil
			}
		}

		var subWidthC, subHeightC uint
		switch chromaFormatIdc {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC, subHeightC = 2, 1
		default:
			subWidthC, subHeightC = 1, 1
		}

		info.Width -= int((win[0] + win[1]) * subWidthC)
		info.Height -= int((win[2] + win[3]) * subHeightC)
	}

	bdl, err := br.readUE()
	if err != nil {
		return info, nil
	}
	info.BitDepthLumaMinus8 = byte(bdl)

	bdc, err := br.readUE()
	if err != nil {
		return info, nil
	}
	info.BitDepthChromaMinus8 = byte(bdc)

	return info, nil
}

// HEVCVPSInfo holds the fields of an HEVC Video Parameter Set that describe
// the stream as a whole.
type HEVCVPSInfo struct {
	ProfileTierLevel

	ID             uint
	MaxLayers      int
	MaxSubLayers   int
	NumUnitsInTick uint32
	TimeScale      uint32
}

// FrameRate returns the picture rate signalled by vps_timing_info, or 0.
func (v HEVCVPSInfo) FrameRate() float64 {
	if v.NumUnitsInTick == 0 || v.TimeScale == 0 {
		return 0
	}
	return float64(v.TimeScale) / float64(v.NumUnitsInTick)
}

// ParseHEVCVPS parses an HEVC VPS NAL unit up to and including its timing
// information. The input includes the 2-byte NAL header.
func ParseHEVCVPS(nalu []byte) (HEVCVPSInfo, error) {
	if len(nalu) < 6 {
		return HEVCVPSInfo{}, ErrTruncated
	}
	br := newBitReader(removeEmulationPrevention(nalu[2:]))

	var info HEVCVPSInfo
	id, err := br.readBits(4)
	if err != nil {
		return HEVCVPSInfo{}, err
	}
	info.ID = id
	// vps_base_layer_internal_flag + vps_base_layer_available_flag
	if _, err := br.readBits(2); err != nil {
		return HEVCVPSInfo{}, err
	}
	maxLayersMinus1, err := br.readBits(6)
	if err != nil {
		return HEVCVPSInfo{}, err
	}
	maxSubLayersMinus1, err := br.readBits(3)
	if err != nil {
		return HEVCVPSInfo{}, err
	}
	info.MaxLayers = int(maxLayersMinus1) + 1
	info.MaxSubLayers = int(maxSubLayersMinus1) + 1
	// vps_temporal_id_nesting_flag + vps_reserved_0xffff_16bits
	if _, err := br.readBits(17); err != nil {
		return HEVCVPSInfo{}, err
	}
	if err := parseHEVCProfileTierLevel(br, &info.ProfileTierLevel, maxSubLayersMinus1); err != nil {
		return HEVCVPSInfo{}, err
	}

	// Timing info is optional trailing data; stop quietly if it is cut short.
	orderingPresent, err := br.readFlag()
	if err != nil {
		return info, nil
	}
	first := maxSubLayersMinus1
	if orderingPresent {
		first = 0
	}
	for i := first; i <= maxSubLayersMinus1; i++ {
		for j := 0; j < 3; j++ {
			if _, err := br.readUE(); err != nil {
				return info, nil
			}
		}
	}
	maxLayerID, err := br.readBits(6)
	if err != nil {
		return info, nil
	}
	numLayerSetsMinus1, err := br.readUE()
	if err != nil {
		return info, nil
	}
	for i := uint(1); i <= numLayerSetsMinus1; i++ {
		if _, err := br.readBits(int(maxLayerID) + 1); err != nil {
			return info, nil
		}
	}
	timingPresent, err := br.readFlag()
	if err != nil || !timingPresent {
		return info, nil
	}
	units, err := br.readBits(32)
	if err != nil {
		return info, nil
	}
	scale, err := br.readBits(32)
	if err != nil {
		return info, nil
	}
	info.NumUnitsInTick = uint32(units)
	info.TimeScale = uint32(scale)
	return info, nil
}

// HEVCSliceHeader holds the leading fields of an HEVC slice segment header.
type HEVCSliceHeader struct {
	FirstSliceSegmentInPic bool
	PPSID                  uint
}

// ParseHEVCSliceHeader reads first_slice_segment_in_pic_flag and
// slice_pic_parameter_set_id from a VCL NAL unit.
func ParseHEVCSliceHeader(nalu []byte) (HEVCSliceHeader, error) {
	if len(nalu) < 3 {
		return HEVCSliceHeader{}, ErrTruncated
	}
	nalType := HEVCNALType(nalu[0])
	br := newBitReader(removeEmulationPrevention(nalu[2:min(len(nalu), 32)]))
	var h HEVCSliceHeader
	var err error
	if h.FirstSliceSegmentInPic, err = br.readFlag(); err != nil {
		return HEVCSliceHeader{}, err
	}
	if nalType >= HEVCNALBlaWLP && nalType <= 23 {
		// no_output_of_prior_pics_flag
		if _, err := br.readBits(1); err != nil {
			return HEVCSliceHeader{}, err
		}
	}
	if h.PPSID, err = br.readUE(); err != nil {
		return HEVCSliceHeader{}, err
	}
	return h, nil
}

func parseHEVCProfileTierLevel(br *bitReader, ptl *ProfileTierLevel, maxSubLayersMinus1 uint) error {
	// general_profile_space (2 bits)
	if _, err := br.readBits(2); err != nil {
		return err
	}

	tierFlag, err := br.readBits(1)
	if err != nil {
		return err
	}
	ptl.TierFlag = byte(tierFlag)

	profileIDC, err := br.readBits(5)
	if err != nil {
		return err
	}
	ptl.ProfileIDC = byte(profileIDC)

	// general_profile_compatibility_flags (32 bits)
	hi, err := br.readBits(16)
	if err != nil {
		return err
	}
	lo, err := br.readBits(16)
	if err != nil {
		return err
	}
	ptl.ProfileCompatibilityFlags = uint32(hi)<<16 | uint32(lo)

	// general_constraint_indicator_flags (48 bits = 6 bytes)
	var cif uint64
	for i := 0; i < 6; i++ {
		b, err := br.readBits(8)
		if err != nil {
			return err
		}
		cif = (cif << 8) | uint64(b)
	}
	ptl.ConstraintIndicatorFlags = cif

	levelIDC, err := br.readBits(8)
	if err != nil {
		return err
	}
	ptl.LevelIDC = byte(levelIDC)

	if maxSubLayersMinus1 == 0 {
		return nil
	}

	var subLayerProfilePresent [8]bool
	var subLayerLevelPresent [8]bool
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if subLayerProfilePresent[i], err = br.readFlag(); err != nil {
			return err
		}
		if subLayerLevelPresent[i], err = br.readFlag(); err != nil {
			return err
		}
	}
	// reserved_zero_2bits up to eight sub-layers
	for i := maxSubLayersMinus1; i < 8; i++ {
		if _, err := br.readBits(2); err != nil {
			return err
		}
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if subLayerProfilePresent[i] {
			// sub_layer profile: 2+1+5+32+48 = 88 bits
			if _, err := br.readBits(32); err != nil {
				return err
			}
			if _, err := br.readBits(32); err != nil {
				return err
			}
			if _, err := br.readBits(24); err != nil {
				return err
			}
		}
		if subLayerLevelPresent[i] {
			if _, err := br.readBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}

// HEVCPPSInfo holds the decoded fields of an HEVC Picture Parameter Set.
type HEVCPPSInfo struct {
	ID                      uint
	SPSID                   uint
	DependentSliceSegments  bool
	OutputFlagPresent       bool
	NumExtraSliceHeaderBits uint
	SignDataHiding          bool
	InitQP                  int
	WeightedPred            bool
	WeightedBipred          bool
	TilesEnabled            bool
	TileColumns             uint
	TileRows                uint
	EntropyCodingSync       bool
	ScalingListData         bool
	ExtensionPresent        bool
}

// ParseHEVCPPS parses an HEVC PPS NAL unit through rbsp_trailing_bits. The
// input includes the 2-byte NAL header. When the syntax parses but data
// follows the stop bit, the decoded fields are returned together with
// ErrTrailingData. PPS extensions are not decoded, so the trailing bits of a
// PPS that carries one are not checked.
func ParseHEVCPPS(nalu []byte) (HEVCPPSInfo, error) {
	if len(nalu) < 3 {
		return HEVCPPSInfo{}, ErrTruncated
	}
	br := newBitReader(removeEmulationPrevention(nalu[2:]))
	info, err := parseHEVCPPS(br)
	if err != nil {
		return HEVCPPSInfo{}, err
	}
	if info.ExtensionPresent {
		return info, nil
	}
	if err := br.checkTrailingBits(); err != nil {
		if errors.Is(err, ErrTrailingData) {
			return info, err
		}
		return HEVCPPSInfo{}, err
	}
	return info, nil
}

func parseHEVCPPS(br *bitReader) (HEVCPPSInfo, error) {
	var info HEVCPPSInfo
	var err error
	if info.ID, err = br.readUE(); err != nil {
		return info, err
	}
	if info.SPSID, err = br.readUE(); err != nil {
		return info, err
	}
	if info.DependentSliceSegments, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.OutputFlagPresent, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.NumExtraSliceHeaderBits, err = br.readBits(3); err != nil {
		return info, err
	}
	if info.SignDataHiding, err = br.readFlag(); err != nil {
		return info, err
	}
	// cabac_init_present_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	// num_ref_idx_l0/l1_default_active_minus1
	for range 2 {
		if _, err := br.readUE(); err != nil {
			return info, err
		}
	}
	if info.InitQP, err = br.readSE(); err != nil {
		return info, err
	}
	info.InitQP += 26
	// constrained_intra_pred_flag, transform_skip_enabled_flag
	if _, err := br.readBits(2); err != nil {
		return info, err
	}
	cuQPDelta, err := br.readFlag()
	if err != nil {
		return info, err
	}
	if cuQPDelta {
		if _, err := br.readUE(); err != nil {
			return info, err
		}
	}
	// pps_cb_qp_offset, pps_cr_qp_offset
	for range 2 {
		if _, err := br.readSE(); err != nil {
			return info, err
		}
	}
	// pps_slice_chroma_qp_offsets_present_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	if info.WeightedPred, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.WeightedBipred, err = br.readFlag(); err != nil {
		return info, err
	}
	// transquant_bypass_enabled_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	if info.TilesEnabled, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.EntropyCodingSync, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.TilesEnabled {
		if err := parseHEVCTiles(br, &info); err != nil {
			return info, err
		}
	}
	// pps_loop_filter_across_slices_enabled_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	deblocking, err := br.readFlag()
	if err != nil {
		return info, err
	}
	if deblocking {
		// deblocking_filter_override_enabled_flag
		if _, err := br.readBits(1); err != nil {
			return info, err
		}
		disabled, err := br.readFlag()
		if err != nil {
			return info, err
		}
		if !disabled {
			// pps_beta_offset_div2, pps_tc_offset_div2
			for range 2 {
				if _, err := br.readSE(); err != nil {
					return info, err
				}
			}
		}
	}
	if info.ScalingListData, err = br.readFlag(); err != nil {
		return info, err
	}
	if info.ScalingListData {
		if err := skipHEVCScalingListData(br); err != nil {
			return info, err
		}
	}
	// lists_modification_present_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	// log2_parallel_merge_level_minus2
	if _, err := br.readUE(); err != nil {
		return info, err
	}
	// slice_segment_header_extension_present_flag
	if _, err := br.readBits(1); err != nil {
		return info, err
	}
	if info.ExtensionPresent, err = br.readFlag(); err != nil {
		return info, err
	}
	return info, nil
}

func parseHEVCTiles(br *bitReader, info *HEVCPPSInfo) error {
	cols, err := br.readUE()
	if err != nil {
		return err
	}
	rows, err := br.readUE()
	if err != nil {
		return err
	}
	info.TileColumns, info.TileRows = cols+1, rows+1
	uniform, err := br.readFlag()
	if err != nil {
		return err
	}
	if !uniform {
		for i := uint(0); i < cols+rows; i++ {
			if _, err := br.readUE(); err != nil {
				return err
			}
		}
	}
	// loop_filter_across_tiles_enabled_flag
	_, err = br.readBits(1)
	return err
}

func skipHEVCScalingListData(br *bitReader) error {
	for sizeID := 0; sizeID < 4; sizeID++ {
		step := 1
		if sizeID == 3 {
			step = 3
		}
		for matrixID := 0; matrixID < 6; matrixID += step {
			predMode, err := br.readFlag()
			if err != nil {
				return err
			}
			if !predMode {
				// scaling_list_pred_matrix_id_delta
				if _, err := br.readUE(); err != nil {
					return err
				}
				continue
			}
			coefNum := 64
			if sizeID == 0 {
				coefNum = 16
			}
			if sizeID > 1 {
				// scaling_list_dc_coef_minus8
				if _, err := br.readSE(); err != nil {
					return err
				}
			}
			for i := 0; i < coefNum; i++ {
				if _, err := br.readSE(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
