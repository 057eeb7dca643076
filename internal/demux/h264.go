package demux

import (
	"errors"
	"fmt"
	"math/bits"
)

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice       = 1
	NALTypeSliceDPA    = 2
	NALTypeSliceDPB    = 3
	NALTypeSliceDPC    = 4
	NALTypeIDR         = 5
	NALTypeSEI         = 6
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeAUD         = 9
	NALTypeEndOfSeq    = 10
	NALTypeEndOfStream = 11
	NALTypeFillerData  = 12
	NALTypeSPSExt      = 13
	NALTypePrefix      = 14
	NALTypeSubsetSPS   = 15
	NALTypeAuxSlice    = 19
	NALTypeSliceExt    = 20
	NALTypeSliceExt3D  = 21
)

var (
	// ErrEmptyNAL is returned for a start code that is not followed by a
	// complete NAL unit header.
	ErrEmptyNAL = errors.New("demux: empty NAL unit")
	// ErrForbiddenBit is returned when forbidden_zero_bit is set.
	ErrForbiddenBit = errors.New("demux: forbidden_zero_bit set")
)

var avcNALNames = map[byte]string{
	NALTypeSlice:       "Coded slice (non-IDR)",
	NALTypeSliceDPA:    "Slice data partition A",
	NALTypeSliceDPB:    "Slice data partition B",
	NALTypeSliceDPC:    "Slice data partition C",
	NALTypeIDR:         "Coded slice (IDR)",
	NALTypeSEI:         "SEI",
	NALTypeSPS:         "SPS",
	NALTypePPS:         "PPS",
	NALTypeAUD:         "Access unit delimiter",
	NALTypeEndOfSeq:    "End of sequence",
	NALTypeEndOfStream: "End of stream",
	NALTypeFillerData:  "Filler data",
	NALTypeSPSExt:      "SPS extension",
	NALTypePrefix:      "Prefix NAL unit",
	NALTypeSubsetSPS:   "Subset SPS",
	NALTypeAuxSlice:    "Auxiliary slice",
	NALTypeSliceExt:    "Coded slice extension",
	NALTypeSliceExt3D:  "Coded slice extension (3D)",
}

// NALTypeName returns a readable name for an H.264 NAL unit type.
func NALTypeName(t byte) string {
	if name, ok := avcNALNames[t]; ok {
		return name
	}
	if t == 0 || t > 23 {
		return fmt.Sprintf("Unspecified (%d)", t)
	}
	return fmt.Sprintf("Reserved (%d)", t)
}

// AVCHeader is the one-byte H.264 NAL unit header.
type AVCHeader struct {
	ForbiddenZeroBit bool
	RefIDC           byte
	Type             byte
}

// ParseAVCHeader decodes the NAL header of nal (start code removed). The
// header is returned even when forbidden_zero_bit is set so it can be shown.
func ParseAVCHeader(nal []byte) (AVCHeader, error) {
	if len(nal) < 1 {
		return AVCHeader{}, ErrEmptyNAL
	}
	h := AVCHeader{
		ForbiddenZeroBit: nal[0]&0x80 != 0,
		RefIDC:           (nal[0] >> 5) & 0x03,
		Type:             nal[0] & 0x1F,
	}
	if h.ForbiddenZeroBit {
		return h, ErrForbiddenBit
	}
	return h, nil
}

// IsAVCVCL reports whether the NAL type carries coded slice data.
func IsAVCVCL(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// IsKeyframe returns true if the NAL type is an IDR slice (type 5).
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// IsSPS returns true if the NAL type is SPS (type 7).
func IsSPS(nalType byte) bool {
	return nalType == NALTypeSPS
}

// IsPPS returns true if the NAL type is PPS (type 8).
func IsPPS(nalType byte) bool {
	return nalType == NALTypePPS
}

// SPSInfo holds parameters extracted from an H.264 Sequence Parameter Set,
// including resolution, profile/level identifiers, VUI timing and the HRD
// fields needed for pic_timing SEI parsing (timecode extraction).
type SPSInfo struct {
	ID                 uint
	Width              int
	Height             int
	ProfileIDC         byte
	ConstraintFlags    byte
	LevelIDC           byte
	ChromaFormatIDC    uint
	FrameMbsOnly       bool
	NumUnitsInTick     uint32
	TimeScale          uint32
	FixedFrameRate     bool
	PicStructPresent   bool
	HRDPresent         bool
	CpbRemovalDelayLen int
	DpbOutputDelayLen  int
	TimeOffsetLen      int
}

// CodecString returns the RFC 6381 codec parameter string (e.g. "avc1.42E01E").
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameRate returns the frame rate signalled in the VUI timing info, or 0.
// H.264 counts ticks per field, so a frame spans two ticks.
func (s SPSInfo) FrameRate() float64 {
	if s.NumUnitsInTick == 0 || s.TimeScale == 0 {
		return 0
	}
	return float64(s.TimeScale) / float64(2*s.NumUnitsInTick)
}

// ParseSPS parses an H.264 SPS NAL unit to extract resolution, profile/level,
// and VUI/HRD timing parameters. The input should be the raw NAL data
// including the NAL header byte but without the start code.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, ErrTruncated
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}

	constraintFlags, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	spsID, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	if profileIdc == 100 || profileIdc == 110 || profileIdc == 122 ||
		profileIdc == 244 || profileIdc == 44 || profileIdc == 83 ||
		profileIdc == 86 || profileIdc == 118 || profileIdc == 128 ||
		profileIdc == 138 || profileIdc == 139 || profileIdc == 134 {

		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIdc == 3 {
			separateColourPlane, err = br.readFlag()
			if err != nil {
				return SPSInfo{}, err
			}
		}
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}

		seqScalingMatrixPresent, err := br.readFlag()
		if err != nil {
			return SPSInfo{}, err
		}
		if seqScalingMatrixPresent {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readFlag()
				if err != nil {
					return SPSInfo{}, err
				}
				if flag {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil {
		return SPSInfo{}, err
	}

	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	switch picOrderCntType {
	case 0:
		if _, err := br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil {
		return SPSInfo{}, err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
	}

	if _, err := br.readBits(1); err != nil {
		return SPSInfo{}, err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint(0), uint(0), uint(0), uint(0)
	frameCroppingFlag, err := br.readFlag()
	if err != nil {
		return SPSInfo{}, err
	}
	if frameCroppingFlag {
		for _, dst := range []*uint{&cropLeft, &cropRight, &cropTop, &cropBottom} {
			if *dst, err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	width := int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	heightMul := 2 - frameMbsOnly
	height := int((picHeightMapUnits+1)*16*heightMul - cropUnitY*(cropTop+cropBottom))

	info := SPSInfo{
		ID:              spsID,
		Width:           width,
		Height:          height,
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
		ChromaFormatIDC: chromaFormatIdc,
		FrameMbsOnly:    frameMbsOnly == 1,
	}

	vuiPresent, err := br.readBits(1)
	if err != nil {
		return info, nil
	}
	if vuiPresent == 1 {
		parseVUI(br, &info)
	}
	// A VUI cut short by the source is tolerated; data after the stop bit is
	// not.
	if br.overrun {
		return info, nil
	}
	if err := br.checkTrailingBits(); errors.Is(err, ErrTrailingData) {
		return info, err
	}
	return info, nil
}

// parseVUI reads the optional VUI tail of an SPS. Fields past the end of the
// data are left at their zero values. When both HRD structures are present
// the NAL HRD is recorded.
func parseVUI(br *bitReader, info *SPSInfo) {
	skipVUIField := func(flagBits, dataBits int) {
		f, e := br.readBits(flagBits)
		if e != nil || f == 0 {
			return
		}
		br.readBits(dataBits)
	}

	arPresent, _ := br.readBits(1)
	if arPresent == 1 {
		arIdc, _ := br.readBits(8)
		if arIdc == 255 {
			br.readBits(32)
		}
	}

	skipVUIField(1, 1) // overscan

	videoSignal, _ := br.readBits(1)
	if videoSignal == 1 {
		br.readBits(4) // video_format + video_full_range
		colourDesc, _ := br.readBits(1)
		if colourDesc == 1 {
			br.readBits(24)
		}
	}

	chromaLoc, _ := br.readBits(1)
	if chromaLoc == 1 {
		br.readUE()
		br.readUE()
	}

	timingPresent, _ := br.readBits(1)
	if timingPresent == 1 {
		units, err1 := br.readBits(32)
		scale, err2 := br.readBits(32)
		fixed, _ := br.readBits(1)
		if err1 == nil && err2 == nil {
			info.NumUnitsInTick = uint32(units)
			info.TimeScale = uint32(scale)
			info.FixedFrameRate = fixed == 1
		}
	}

	parseHRD := func() {
		cpbCnt, _ := br.readUE()
		br.readBits(8) // bit_rate_scale + cpb_size_scale
		for i := uint(0); i <= cpbCnt; i++ {
			br.readUE()
			br.readUE()
			br.readBits(1)
		}
		br.readBits(5) // initial_cpb_removal_delay_length_minus1
		cpbRdLen, _ := br.readBits(5)
		dpbOdLen, _ := br.readBits(5)
		toLen, _ := br.readBits(5)
		if info.HRDPresent {
			return
		}
		info.CpbRemovalDelayLen = int(cpbRdLen) + 1
		info.DpbOutputDelayLen = int(dpbOdLen) + 1
		info.TimeOffsetLen = int(toLen)
		info.HRDPresent = true
	}

	nalHRD, _ := br.readBits(1)
	if nalHRD == 1 {
		parseHRD()
	}

	vclHRD, _ := br.readBits(1)
	if vclHRD == 1 {
		parseHRD()
	}

	if nalHRD == 1 || vclHRD == 1 {
		br.readBits(1) // low_delay_hrd_flag
	}

	picStructPresent, _ := br.readBits(1)
	info.PicStructPresent = picStructPresent == 1

	restriction, _ := br.readBits(1)
	if restriction == 1 {
		br.readBits(1) // motion_vectors_over_pic_boundaries_flag
		// max_bytes_per_pic_denom through max_dec_frame_buffering
		for range 6 {
			br.readUE()
		}
	}
}

// PPSInfo holds the decoded fields of an H.264 Picture Parameter Set.
type PPSInfo struct {
	ID                      uint
	SPSID                   uint
	EntropyCodingCABAC      bool
	BottomFieldPicOrder     bool
	NumSliceGroups          uint
	WeightedPred            bool
	WeightedBipredIDC       uint
	PicInitQP               int
	DeblockingFilterControl bool
	ConstrainedIntraPred    bool
	RedundantPicCnt         bool
	Transform8x8            bool
}

// ParsePPS parses an H.264 PPS NAL unit through rbsp_trailing_bits. When the
// syntax parses but data follows the stop bit, the decoded fields are returned
// together with ErrTrailingData.
//
// The PPS does not carry chroma_format_idc, so the 8x8 scaling lists are
// counted as for 4:2:0 and 4:2:2.
func ParsePPS(nalu []byte) (PPSInfo, error) {
	if len(nalu) < 2 {
		return PPSInfo{}, ErrTruncated
	}
	br := newBitReader(removeEmulationPrevention(nalu[1:]))
	var info PPSInfo
	var err error
	if info.ID, err = br.readUE(); err != nil {
		return PPSInfo{}, err
	}
	if info.SPSID, err = br.readUE(); err != nil {
		return PPSInfo{}, err
	}
	if info.EntropyCodingCABAC, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}
	if info.BottomFieldPicOrder, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}
	if info.NumSliceGroups, err = br.readUE(); err != nil {
		return PPSInfo{}, err
	}
	info.NumSliceGroups++
	if info.NumSliceGroups > 1 {
		if err := skipSliceGroups(br, info.NumSliceGroups-1); err != nil {
			return PPSInfo{}, err
		}
	}

	// num_ref_idx_l0/l1_default_active_minus1
	for range 2 {
		if _, err := br.readUE(); err != nil {
			return PPSInfo{}, err
		}
	}
	if info.WeightedPred, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}
	if info.WeightedBipredIDC, err = br.readBits(2); err != nil {
		return PPSInfo{}, err
	}
	if info.PicInitQP, err = br.readSE(); err != nil {
		return PPSInfo{}, err
	}
	info.PicInitQP += 26
	// pic_init_qs_minus26, chroma_qp_index_offset
	for range 2 {
		if _, err := br.readSE(); err != nil {
			return PPSInfo{}, err
		}
	}
	if info.DeblockingFilterControl, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}
	if info.ConstrainedIntraPred, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}
	if info.RedundantPicCnt, err = br.readFlag(); err != nil {
		return PPSInfo{}, err
	}

	if br.moreRBSPData() {
		if info.Transform8x8, err = br.readFlag(); err != nil {
			return PPSInfo{}, err
		}
		matrix, err := br.readFlag()
		if err != nil {
			return PPSInfo{}, err
		}
		if matrix {
			lists := 6
			if info.Transform8x8 {
				lists += 2
			}
			for i := 0; i < lists; i++ {
				present, err := br.readFlag()
				if err != nil {
					return PPSInfo{}, err
				}
				if !present {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				if err := br.skipScalingList(size); err != nil {
					return PPSInfo{}, err
				}
			}
		}
		if _, err := br.readSE(); err != nil {
			return PPSInfo{}, err
		}
	}
	if err := br.checkTrailingBits(); err != nil {
		if errors.Is(err, ErrTrailingData) {
			return info, err
		}
		return PPSInfo{}, err
	}
	return info, nil
}

func skipSliceGroups(br *bitReader, numMinus1 uint) error {
	mapType, err := br.readUE()
	if err != nil {
		return err
	}
	switch mapType {
	case 0:
		for i := uint(0); i <= numMinus1; i++ {
			if _, err := br.readUE(); err != nil {
				return err
			}
		}
	case 2:
		for i := uint(0); i < 2*numMinus1; i++ {
			if _, err := br.readUE(); err != nil {
				return err
			}
		}
	case 3, 4, 5:
		if _, err := br.readBits(1); err != nil {
			return err
		}
		if _, err := br.readUE(); err != nil {
			return err
		}
	case 6:
		units, err := br.readUE()
		if err != nil {
			return err
		}
		width := bits.Len(numMinus1)
		for i := uint(0); i <= units; i++ {
			if _, err := br.readBits(width); err != nil {
				return err
			}
		}
	}
	return nil
}

// AVCSliceHeader holds the leading fields of an H.264 slice header.
type AVCSliceHeader struct {
	FirstMB   uint
	SliceType uint
	PPSID     uint
}

// ParseAVCSliceHeader reads first_mb_in_slice, slice_type and
// pic_parameter_set_id from a VCL NAL unit.
func ParseAVCSliceHeader(nalu []byte) (AVCSliceHeader, error) {
	if len(nalu) < 2 {
		return AVCSliceHeader{}, ErrTruncated
	}
	// The leading slice header fields fit in a handful of bytes.
	head := nalu[1:min(len(nalu), 32)]
	br := newBitReader(removeEmulationPrevention(head))
	var h AVCSliceHeader
	var err error
	if h.FirstMB, err = br.readUE(); err != nil {
		return AVCSliceHeader{}, err
	}
	if h.SliceType, err = br.readUE(); err != nil {
		return AVCSliceHeader{}, err
	}
	if h.PPSID, err = br.readUE(); err != nil {
		return AVCSliceHeader{}, err
	}
	return h, nil
}

// SliceTypeName maps an H.264 slice_type to its letter (P, B, I, SP, SI).
func SliceTypeName(sliceType uint) string {
	switch sliceType % 5 {
	case 0:
		return "P"
	case 1:
		return "B"
	case 2:
		return "I"
	case 3:
		return "SP"
	default:
		return "SI"
	}
}
