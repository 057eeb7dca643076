package demux

import (
	"errors"
	"fmt"
)

// MPEG-2 video start code values (the byte after 00 00 01).
const (
	MPEG2Picture        = 0x00
	MPEG2SliceFirst     = 0x01
	MPEG2SliceLast      = 0xAF
	MPEG2UserData       = 0xB2
	MPEG2SequenceHeader = 0xB3
	MPEG2SequenceError  = 0xB4
	MPEG2Extension      = 0xB5
	MPEG2SequenceEnd    = 0xB7
	MPEG2GOP            = 0xB8
)

// ErrReservedStartCode is returned for start codes that may not appear in an
// MPEG-2 video elementary stream.
var ErrReservedStartCode = errors.New("demux: reserved or system start code in video stream")

// MPEG2StartCodeName returns the syntax name of an MPEG-2 video start code.
func MPEG2StartCodeName(code byte) string {
	switch {
	case code == MPEG2Picture:
		return "picture_start_code"
	case code >= MPEG2SliceFirst && code <= MPEG2SliceLast:
		return fmt.Sprintf("slice_start_code (%d)", code)
	case code == MPEG2UserData:
		return "user_data_start_code"
	case code == MPEG2SequenceHeader:
		return "sequence_header_code"
	case code == MPEG2SequenceError:
		return "sequence_error_code"
	case code == MPEG2Extension:
		return "extension_start_code"
	case code == MPEG2SequenceEnd:
		return "sequence_end_code"
	case code == MPEG2GOP:
		return "group_start_code"
	case code >= 0xB9:
		return fmt.Sprintf("system_start_code (0x%02X)", code)
	default:
		return fmt.Sprintf("reserved (0x%02X)", code)
	}
}

// ValidateMPEG2StartCode reports whether code may appear in a video
// elementary stream.
func ValidateMPEG2StartCode(code byte) error {
	switch code {
	case 0xB0, 0xB1, 0xB6:
		return ErrReservedStartCode
	}
	if code >= 0xB9 {
		return ErrReservedStartCode
	}
	return nil
}

// MPEG2SequenceHeaderInfo holds the fields of sequence_header().
type MPEG2SequenceHeaderInfo struct {
	Width          int
	Height         int
	AspectCode     uint
	FrameRateCode  uint
	BitRate        uint // units of 400 bit/s
	VBVBufferSize  uint
	CustomMatrices bool
}

// AspectRatio returns the display aspect ratio named by AspectCode.
func (s MPEG2SequenceHeaderInfo) AspectRatio() string {
	switch s.AspectCode {
	case 1:
		return "1:1"
	case 2:
		return "4:3"
	case 3:
		return "16:9"
	case 4:
		return "2.21:1"
	default:
		return ""
	}
}

// FrameRate returns the frame rate named by FrameRateCode, or 0.
func (s MPEG2SequenceHeaderInfo) FrameRate() float64 {
	switch s.FrameRateCode {
	case 1:
		return 24000.0 / 1001.0
	case 2:
		return 24.0
	case 3:
		return 25.0
	case 4:
		return 30000.0 / 1001.0
	case 5:
		return 30.0
	case 6:
		return 50.0
	case 7:
		return 60000.0 / 1001.0
	case 8:
		return 60.0
	default:
		return 0
	}
}

// ParseMPEG2SequenceHeader parses the payload following a sequence_header_code.
func ParseMPEG2SequenceHeader(data []byte) (MPEG2SequenceHeaderInfo, error) {
	if len(data) < 8 {
		return MPEG2SequenceHeaderInfo{}, ErrTruncated
	}
	br := newBitReader(data)
	width, _ := br.readBits(12)
	height, _ := br.readBits(12)
	aspect, _ := br.readBits(4)
	frameRateCode, _ := br.readBits(4)
	bitRate, _ := br.readBits(18)
	br.readBits(1) // marker_bit
	vbv, _ := br.readBits(10)
	br.readBits(1) // constrained_parameters_flag

	info := MPEG2SequenceHeaderInfo{
		Width:         int(width),
		Height:        int(height),
		AspectCode:    aspect,
		FrameRateCode: frameRateCode,
		BitRate:       bitRate,
		VBVBufferSize: vbv,
	}
	if width == 0 || height == 0 {
		return info, fmt.Errorf("demux: invalid picture size %dx%d", width, height)
	}
	if info.FrameRate() == 0 {
		return info, fmt.Errorf("demux: invalid frame_rate_code %d", frameRateCode)
	}

	loadIntra, err := br.readFlag()
	if err != nil {
		return info, nil
	}
	if loadIntra {
		// 64 eight-bit quantiser entries
		for i := 0; i < 16; i++ {
			if _, err := br.readBits(32); err != nil {
				return info, ErrTruncated
			}
		}
	}
	loadNonIntra, err := br.readFlag()
	if err != nil {
		return info, nil
	}
	info.CustomMatrices = loadIntra || loadNonIntra
	return info, nil
}

// MPEG2SequenceExtension holds the fields of sequence_extension().
type MPEG2SequenceExtension struct {
	ProfileLevel uint
	Progressive  bool
	ChromaFormat uint
}

// Profile returns the profile@level name, or "" for escape values.
func (e MPEG2SequenceExtension) Profile() string {
	profile := (e.ProfileLevel >> 4) & 0x07
	level := e.ProfileLevel & 0x0F
	profileStr := ""
	levelStr := ""
	switch profile {
	case 0x1:
		profileStr = "High"
	case 0x2:
		profileStr = "Spatial"
	case 0x3:
		profileStr = "SNR"
	case 0x4:
		profileStr = "Main"
	case 0x5:
		profileStr = "Simple"
	}
	switch level {
	case 0x4:
		levelStr = "High"
	case 0x6:
		levelStr = "High 1440"
	case 0x8:
		levelStr = "Main"
	case 0xA:
		levelStr = "Low"
	}
	if profileStr == "" || levelStr == "" {
		return ""
	}
	return fmt.Sprintf("%s@%s", profileStr, levelStr)
}

// ChromaSubsampling names the chroma_format value.
func (e MPEG2SequenceExtension) ChromaSubsampling() string {
	switch e.ChromaFormat {
	case 1:
		return "4:2:0"
	case 2:
		return "4:2:2"
	case 3:
		return "4:4:4"
	default:
		return ""
	}
}

// ParseMPEG2Extension parses the payload following an extension_start_code.
// Only sequence_extension (id 1) is decoded; ok is false for other ids.
func ParseMPEG2Extension(data []byte) (ext MPEG2SequenceExtension, id uint, ok bool, err error) {
	if len(data) < 1 {
		return MPEG2SequenceExtension{}, 0, false, ErrTruncated
	}
	id = uint(data[0] >> 4)
	if id != 1 {
		return MPEG2SequenceExtension{}, id, false, nil
	}
	if len(data) < 6 {
		return MPEG2SequenceExtension{}, id, false, ErrTruncated
	}
	br := newBitReader(data)
	br.readBits(4)
	ext.ProfileLevel, _ = br.readBits(8)
	ext.Progressive, _ = br.readFlag()
	ext.ChromaFormat, _ = br.readBits(2)
	if ext.ChromaFormat == 0 {
		return ext, id, true, errors.New("demux: reserved chroma_format 0")
	}
	return ext, id, true, nil
}

// MPEG2GOPHeader holds the fields of group_of_pictures_header().
type MPEG2GOPHeader struct {
	DropFrame  bool
	TimeCode   Timecode
	ClosedGOP  bool
	BrokenLink bool
}

// ParseMPEG2GOP parses the payload following a group_start_code.
func ParseMPEG2GOP(data []byte) (MPEG2GOPHeader, error) {
	if len(data) < 4 {
		return MPEG2GOPHeader{}, ErrTruncated
	}
	br := newBitReader(data)
	var g MPEG2GOPHeader
	g.DropFrame, _ = br.readFlag()
	hours, _ := br.readBits(5)
	minutes, _ := br.readBits(6)
	br.readBits(1) // marker_bit
	seconds, _ := br.readBits(6)
	pictures, _ := br.readBits(6)
	g.ClosedGOP, _ = br.readFlag()
	g.BrokenLink, _ = br.readFlag()
	g.TimeCode = Timecode{Hours: int(hours), Minutes: int(minutes), Seconds: int(seconds), Frames: int(pictures)}
	return g, nil
}

// MPEG2PictureHeader holds the leading fields of picture_header().
type MPEG2PictureHeader struct {
	TemporalReference uint
	CodingType        uint
	VBVDelay          uint
}

// CodingTypeName maps picture_coding_type to I, P, B or D.
func (p MPEG2PictureHeader) CodingTypeName() string {
	switch p.CodingType {
	case 1:
		return "I"
	case 2:
		return "P"
	case 3:
		return "B"
	case 4:
		return "D"
	default:
		return fmt.Sprintf("reserved (%d)", p.CodingType)
	}
}

// ParseMPEG2Picture parses the payload following a picture_start_code.
func ParseMPEG2Picture(data []byte) (MPEG2PictureHeader, error) {
	if len(data) < 4 {
		return MPEG2PictureHeader{}, ErrTruncated
	}
	br := newBitReader(data)
	var p MPEG2PictureHeader
	p.TemporalReference, _ = br.readBits(10)
	p.CodingType, _ = br.readBits(3)
	p.VBVDelay, _ = br.readBits(16)
	if p.CodingType == 0 || p.CodingType > 4 {
		return p, fmt.Errorf("demux: invalid picture_coding_type %d", p.CodingType)
	}
	return p, nil
}
