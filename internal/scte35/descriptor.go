package scte35

import "fmt"

const (
	// SegmentationDescriptorTag is the splice_descriptor_tag for segmentation_descriptor.
	SegmentationDescriptorTag uint32 = 0x02

	// CUEIdentifier is the CUEI ASCII identifier (0x43554549).
	CUEIdentifier uint32 = 0x43554549
)

// SpliceDescriptor is an entry in the splice descriptor loop.
type SpliceDescriptor interface {
	Tag() uint32
}

// RawDescriptor is a descriptor this package does not decode.
type RawDescriptor struct {
	DescriptorTag uint32
	Identifier    uint32
	Data          []byte // bytes following the identifier
}

func (d *RawDescriptor) Tag() uint32 { return d.DescriptorTag }

// Segmentation types per SCTE-35 Table 22.
var segmentationTypeNames = map[uint32]string{
	0x00: "Not Indicated",
	0x01: "Content Identification",
	0x10: "Program Start",
	0x11: "Program End",
	0x12: "Program Early Termination",
	0x13: "Program Breakaway",
	0x14: "Program Resumption",
	0x15: "Program Runover Planned",
	0x16: "Program Runover Unplanned",
	0x17: "Program Overlap Start",
	0x18: "Program Blackout Override",
	0x19: "Program Start - In Progress",
	0x20: "Chapter Start",
	0x21: "Chapter End",
	0x22: "Break Start",
	0x23: "Break End",
	0x24: "Opening Credit Start",
	0x25: "Opening Credit End",
	0x26: "Closing Credit Start",
	0x27: "Closing Credit End",
	0x30: "Provider Advertisement Start",
	0x31: "Provider Advertisement End",
	0x32: "Distributor Advertisement Start",
	0x33: "Distributor Advertisement End",
	0x34: "Provider Placement Opportunity Start",
	0x35: "Provider Placement Opportunity End",
	0x36: "Distributor Placement Opportunity Start",
	0x37: "Distributor Placement Opportunity End",
	0x38: "Provider Overlay Placement Opportunity Start",
	0x39: "Provider Overlay Placement Opportunity End",
	0x3a: "Distributor Overlay Placement Opportunity Start",
	0x3b: "Distributor Overlay Placement Opportunity End",
	0x3c: "Provider Promo Start",
	0x3d: "Provider Promo End",
	0x3e: "Distributor Promo Start",
	0x3f: "Distributor Promo End",
	0x40: "Unscheduled Event Start",
	0x41: "Unscheduled Event End",
	0x42: "Alternate Content Opportunity Start",
	0x43: "Alternate Content Opportunity End",
	0x44: "Provider Ad Block Start",
	0x45: "Provider Ad Block End",
	0x46: "Distributor Ad Block Start",
	0x47: "Distributor Ad Block End",
	0x50: "Network Start",
	0x51: "Network End",
}

// SegmentationTypeName returns the name of a segmentation_type_id.
func SegmentationTypeName(id uint32) string {
	if name, ok := segmentationTypeNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", id)
}

// SegmentationDescriptor carries segmentation information per SCTE-35 10.3.3.
type SegmentationDescriptor struct {
	SegmentationEventID  uint32
	CancelIndicator      bool
	SegmentationTypeID   uint32
	SegmentationDuration *uint64 // 90 kHz ticks
	UPIDType             uint32
	UPID                 []byte
	SegmentNum           uint32
	SegmentsExpected     uint32
}

// Tag returns the splice_descriptor_tag.
func (sd *SegmentationDescriptor) Tag() uint32 {
	return SegmentationDescriptorTag
}

// Name returns a human-readable name for the segmentation type.
func (sd *SegmentationDescriptor) Name() string {
	return SegmentationTypeName(sd.SegmentationTypeID)
}

// decode reads the descriptor body that follows the CUEI identifier.
func (sd *SegmentationDescriptor) decode(r *bitReader) {
	sd.SegmentationEventID = r.readUint32(32)
	sd.CancelIndicator = r.readBit()
	r.skip(1) // segmentation_event_id_compliance_indicator
	r.skip(6) // reserved
	if sd.CancelIndicator {
		return
	}

	programSegmentationFlag := r.readBit()
	durationFlag := r.readBit()
	r.skip(1) // delivery_not_restricted_flag
	r.skip(5) // restriction flags or reserved

	if !programSegmentationFlag {
		componentCount := int(r.readUint32(8))
		for i := 0; i < componentCount; i++ {
			r.skip(8)  // component_tag
			r.skip(7)  // reserved
			r.skip(33) // pts_offset
		}
	}

	if durationFlag {
		dur := r.readUint64(40)
		sd.SegmentationDuration = &dur
	}

	sd.UPIDType = r.readUint32(8)
	sd.UPID = r.readBytes(int(r.readUint32(8)))
	sd.SegmentationTypeID = r.readUint32(8)
	sd.SegmentNum = r.readUint32(8)
	sd.SegmentsExpected = r.readUint32(8)
}

func decodeSpliceDescriptors(data []byte) ([]SpliceDescriptor, error) {
	var descs []SpliceDescriptor
	for offset := 0; offset < len(data); {
		if offset+2 > len(data) {
			return descs, fmt.Errorf("%w: descriptor header at %d", ErrTruncated, offset)
		}
		tag := uint32(data[offset])
		length := int(data[offset+1])
		end := offset + 2 + length
		if end > len(data) || length < 4 {
			return descs, fmt.Errorf("%w: descriptor 0x%02X length %d", ErrTruncated, tag, length)
		}

		r := newBitReader(data[offset+2 : end])
		identifier := r.readUint32(32)
		if tag == SegmentationDescriptorTag && identifier == CUEIdentifier {
			sd := &SegmentationDescriptor{}
			sd.decode(r)
			if r.overflow {
				return descs, fmt.Errorf("%w: segmentation_descriptor", ErrTruncated)
			}
			descs = append(descs, sd)
		} else {
			descs = append(descs, &RawDescriptor{
				DescriptorTag: tag,
				Identifier:    identifier,
				Data:          data[offset+6 : end],
			})
		}
		offset = end
	}
	return descs, nil
}
