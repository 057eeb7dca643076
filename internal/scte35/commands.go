package scte35

// SpliceNull is the heartbeat command.
type SpliceNull struct{}

func (cmd *SpliceNull) Type() uint32 { return SpliceNullType }

func (cmd *SpliceNull) decode(*bitReader) {}

// BandwidthReservation carries no fields.
type BandwidthReservation struct{}

func (cmd *BandwidthReservation) Type() uint32 { return BandwidthReservationType }

func (cmd *BandwidthReservation) decode(*bitReader) {}

// RawCommand holds the bytes of a command this package does not decode,
// including private_command.
type RawCommand struct {
	CommandType uint32
	Data        []byte
	length      int
}

func (cmd *RawCommand) Type() uint32 { return cmd.CommandType }

func (cmd *RawCommand) decode(r *bitReader) {
	if cmd.length == legacyCommandLength {
		return
	}
	cmd.Data = r.readBytes(cmd.length)
}

// TimeSignal provides a time-synchronized data delivery mechanism.
type TimeSignal struct {
	SpliceTime SpliceTime
}

func (cmd *TimeSignal) Type() uint32 { return TimeSignalType }

func (cmd *TimeSignal) decode(r *bitReader) {
	cmd.SpliceTime = decodeSpliceTime(r)
}

func decodeSpliceTime(r *bitReader) SpliceTime {
	var st SpliceTime
	if r.readBit() { // time_specified_flag
		r.skip(6) // reserved
		pts := r.readUint64(33)
		st.PTSTime = &pts
	} else {
		r.skip(7) // reserved
	}
	return st
}

// SpliceInsert signals a splice point in the stream.
type SpliceInsert struct {
	SpliceEventID              uint32
	SpliceEventCancelIndicator bool
	OutOfNetworkIndicator      bool
	ProgramSpliceFlag          bool
	SpliceImmediateFlag        bool
	SpliceTime                 SpliceTime // program splice only
	ComponentCount             int
	BreakDuration              *BreakDuration
	UniqueProgramID            uint32
	AvailNum                   uint32
	AvailsExpected             uint32
}

func (cmd *SpliceInsert) Type() uint32 { return SpliceInsertType }

func (cmd *SpliceInsert) decode(r *bitReader) {
	cmd.SpliceEventID = r.readUint32(32)
	cmd.SpliceEventCancelIndicator = r.readBit()
	r.skip(7) // reserved
	if cmd.SpliceEventCancelIndicator {
		return
	}

	cmd.OutOfNetworkIndicator = r.readBit()
	cmd.ProgramSpliceFlag = r.readBit()
	durationFlag := r.readBit()
	cmd.SpliceImmediateFlag = r.readBit()
	r.skip(4) // reserved

	if cmd.ProgramSpliceFlag {
		if !cmd.SpliceImmediateFlag {
			cmd.SpliceTime = decodeSpliceTime(r)
		}
	} else {
		cmd.ComponentCount = int(r.readUint32(8))
		for i := 0; i < cmd.ComponentCount; i++ {
			r.skip(8) // component_tag
			if !cmd.SpliceImmediateFlag {
				decodeSpliceTime(r)
			}
		}
	}

	if durationFlag {
		cmd.BreakDuration = &BreakDuration{}
		cmd.BreakDuration.AutoReturn = r.readBit()
		r.skip(6) // reserved
		cmd.BreakDuration.Duration = r.readUint64(33)
	}
	cmd.UniqueProgramID = r.readUint32(16)
	cmd.AvailNum = r.readUint32(8)
	cmd.AvailsExpected = r.readUint32(8)
}
