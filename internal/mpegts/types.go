// Package mpegts implements MPEG-TS demuxing for transport stream analysis.
// It supports PAT/PMT discovery, PES reassembly with PTS/DTS extraction,
// generic PSI sections, and recovery from lost sync. Every unit it produces
// carries the file offset of its first packet, and damaged regions are
// reported rather than skipped silently.
package mpegts

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header       PacketHeader
	Offset       int64 // file offset of the sync byte
	PayloadStart int   // index of the first payload byte within the packet
	Payload      []byte
	PCR          *ClockReference
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
	Scrambled                 bool
}

// DemuxerData is the output of the demuxer for each logical unit: a PSI
// section, a PES packet, or a corrupt byte range. Exactly one of PAT, PMT,
// Section, PES or Corrupt is non-nil unless Err is set.
type DemuxerData struct {
	FirstPacket *Packet
	Packets     []*Packet // packets the unit was assembled from, in file order
	PID         uint16
	Offset      int64

	// Continued marks a further section carried in the same packets as the
	// unit before it.
	Continued bool

	PAT     *PATData
	PMT     *PMTData
	Section *SectionData
	PES     *PESData
	Corrupt *CorruptRegion

	// Err is set when the unit is malformed. Whatever could be parsed is
	// still attached.
	Err error
}

// Size is the number of file bytes spanned by the unit's packets.
func (d *DemuxerData) Size() int64 {
	if d.Corrupt != nil {
		return d.Corrupt.Size
	}
	return int64(len(d.Packets)) * packetSize
}

// FileOffset maps an index into the concatenated payload of the unit's
// packets to the file offset of that byte. Indexes past the end map to the
// end of the last packet.
func (d *DemuxerData) FileOffset(payloadIndex int) int64 {
	for _, p := range d.Packets {
		if payloadIndex < len(p.Payload) {
			return p.Offset + int64(p.PayloadStart+payloadIndex)
		}
		payloadIndex -= len(p.Payload)
	}
	if n := len(d.Packets); n > 0 {
		return d.Packets[n-1].Offset + packetSize
	}
	return d.Offset
}

// CorruptRegion is a byte range that could not be parsed as TS packets.
type CorruptRegion struct {
	Offset int64
	Size   int64
	Reason string
}

// PATData contains the parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Version           uint8
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData contains the parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	Version           uint8
	PCRPID            uint16
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream describes a single elementary stream in a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
}

// SectionData is a PSI section with a table id other than PAT or PMT.
type SectionData struct {
	TableID uint8
	Data    []byte // the complete section including its CRC
}

// PESData contains a reassembled Packetized Elementary Stream.
type PESData struct {
	Data       []byte
	DataOffset int // index of Data within the unit's concatenated payload
	Header     *PESHeader
}

// PESHeader contains the parsed PES packet header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
	PacketLength   int
}

// PESOptionalHeader carries optional PES fields including timestamps.
type PESOptionalHeader struct {
	DataAlignment bool
	PTS           *ClockReference
	DTS           *ClockReference
}

// ClockReference holds a 33-bit MPEG-TS timestamp base value (90 kHz clock).
type ClockReference struct {
	Base int64
}
