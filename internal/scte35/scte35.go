// Package scte35 decodes SCTE-35 splice_info_section tables carried in
// MPEG-TS section streams. It understands the splice_null, splice_insert,
// time_signal, bandwidth_reservation and private_command commands and the
// segmentation_descriptor; other descriptors are kept as raw bytes.
package scte35

import (
	"errors"
	"fmt"

	"github.com/zsiec/bitlens/internal/mpegts"
)

const (
	// TableID is the table_id of a splice_info_section.
	TableID = 0xFC

	SpliceNullType           uint32 = 0x00
	SpliceScheduleType       uint32 = 0x04
	SpliceInsertType         uint32 = 0x05
	TimeSignalType           uint32 = 0x06
	BandwidthReservationType uint32 = 0x07
	PrivateCommandType       uint32 = 0xFF

	legacyCommandLength = 0xFFF
)

var (
	ErrNotSpliceInfo = errors.New("scte35: not a splice_info_section")
	ErrTruncated     = errors.New("scte35: section truncated")
	ErrCRC           = errors.New("scte35: CRC_32 mismatch")
)

// SpliceCommand is a decoded splice command.
type SpliceCommand interface {
	Type() uint32
	decode(r *bitReader)
}

// SpliceTime carries an optional PTS time.
type SpliceTime struct {
	PTSTime *uint64
}

// BreakDuration specifies the duration of a commercial break.
type BreakDuration struct {
	AutoReturn bool
	Duration   uint64
}

// SpliceInfoSection is the top-level SCTE-35 structure.
type SpliceInfoSection struct {
	SAPType             uint32
	ProtocolVersion     uint32
	Encrypted           bool
	EncryptionAlgorithm uint32
	PTSAdjustment       uint64
	Tier                uint32
	CommandType         uint32
	CommandLength       int // as signaled; 0xFFF in legacy streams
	SpliceCommand       SpliceCommand
	SpliceDescriptors   []SpliceDescriptor
}

// CommandName returns the name of a splice_command_type.
func CommandName(t uint32) string {
	switch t {
	case SpliceNullType:
		return "splice_null"
	case SpliceScheduleType:
		return "splice_schedule"
	case SpliceInsertType:
		return "splice_insert"
	case TimeSignalType:
		return "time_signal"
	case BandwidthReservationType:
		return "bandwidth_reservation"
	case PrivateCommandType:
		return "private_command"
	default:
		return fmt.Sprintf("reserved (0x%02X)", t)
	}
}

// DecodeBytes decodes a binary splice_info_section including its CRC_32.
// When the section is damaged after the fixed header, the fields decoded so
// far are returned along with the error.
func DecodeBytes(data []byte) (*SpliceInfoSection, error) {
	if len(data) < 3 || data[0] != TableID {
		return nil, ErrNotSpliceInfo
	}
	sis := &SpliceInfoSection{}
	return sis, sis.decode(data)
}

func (sis *SpliceInfoSection) decode(data []byte) error {
	r := newBitReader(data)
	r.skip(8) // table_id
	r.skip(1) // section_syntax_indicator
	r.skip(1) // private_indicator
	sis.SAPType = r.readUint32(2)
	sectionLength := int(r.readUint32(12))
	if 3+sectionLength > len(data) {
		return fmt.Errorf("%w: section_length %d, %d bytes present", ErrTruncated, sectionLength, len(data)-3)
	}
	data = data[:3+sectionLength]
	if mpegts.CRC32(data) != 0 {
		return ErrCRC
	}
	r = newBitReader(data[:len(data)-4])
	r.skip(24)

	sis.ProtocolVersion = r.readUint32(8)
	sis.Encrypted = r.readBit()
	sis.EncryptionAlgorithm = r.readUint32(6)
	sis.PTSAdjustment = r.readUint64(33)
	r.skip(8) // cw_index
	sis.Tier = r.readUint32(12)
	sis.CommandLength = int(r.readUint32(12))
	sis.CommandType = r.readUint32(8)
	if r.overflow {
		return ErrTruncated
	}
	if sis.Encrypted {
		return nil
	}

	start := r.bitPos
	sis.SpliceCommand = newCommand(sis.CommandType, sis.CommandLength)
	sis.SpliceCommand.decode(r)
	if sis.CommandLength != legacyCommandLength {
		r.seek(start + sis.CommandLength*8)
	}
	if r.overflow {
		return fmt.Errorf("%w: %s", ErrTruncated, CommandName(sis.CommandType))
	}

	loopLength := int(r.readUint32(16))
	descs, err := decodeSpliceDescriptors(r.readBytes(loopLength))
	sis.SpliceDescriptors = descs
	if err != nil {
		return err
	}
	if r.overflow {
		return fmt.Errorf("%w: descriptor loop", ErrTruncated)
	}
	return nil
}

func newCommand(t uint32, length int) SpliceCommand {
	switch t {
	case SpliceNullType:
		return &SpliceNull{}
	case SpliceInsertType:
		return &SpliceInsert{}
	case TimeSignalType:
		return &TimeSignal{}
	case BandwidthReservationType:
		return &BandwidthReservation{}
	default:
		return &RawCommand{CommandType: t, length: length}
	}
}

// Duration returns the break or segmentation duration in 90 kHz ticks and
// whether the section signals one.
func (sis *SpliceInfoSection) Duration() (uint64, bool) {
	if si, ok := sis.SpliceCommand.(*SpliceInsert); ok && si.BreakDuration != nil {
		return si.BreakDuration.Duration, true
	}
	for _, d := range sis.SpliceDescriptors {
		if sd, ok := d.(*SegmentationDescriptor); ok && sd.SegmentationDuration != nil {
			return *sd.SegmentationDuration, true
		}
	}
	return 0, false
}
