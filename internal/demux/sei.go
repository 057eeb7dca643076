package demux

import (
	"fmt"

	"github.com/zsiec/ccx"
)

// SEI payload types shown by name in the packet tree.
const (
	SEIBufferingPeriod  = 0
	SEIPicTiming        = 1
	SEIUserDataITUT     = 4
	SEIUserDataUnreg    = 5
	SEIRecoveryPoint    = 6
	SEIMasteringDisplay = 137
	SEIContentLight     = 144
)

var seiNames = map[int]string{
	SEIBufferingPeriod:  "buffering_period",
	SEIPicTiming:        "pic_timing",
	SEIUserDataITUT:     "user_data_registered_itu_t_t35",
	SEIUserDataUnreg:    "user_data_unregistered",
	SEIRecoveryPoint:    "recovery_point",
	SEIMasteringDisplay: "mastering_display_colour_volume",
	SEIContentLight:     "content_light_level_info",
}

// SEIPayloadName returns the syntax name of an SEI payload type.
func SEIPayloadName(t int) string {
	if name, ok := seiNames[t]; ok {
		return name
	}
	return fmt.Sprintf("payload_type %d", t)
}

// SEIMessage is one sei_message() of an SEI RBSP.
type SEIMessage struct {
	Type    int
	Size    int
	Payload []byte
}

// ParseSEIMessages splits an SEI NAL unit into its messages. headerLen is
// the NAL header size (1 for H.264, 2 for HEVC). Messages that run past the
// end of the unit end the walk with ErrTruncated; the complete ones before
// it are still returned.
func ParseSEIMessages(nalu []byte, headerLen int) ([]SEIMessage, error) {
	if len(nalu) <= headerLen {
		return nil, ErrTruncated
	}
	rbsp := removeEmulationPrevention(nalu[headerLen:])

	var msgs []SEIMessage
	i := 0
	for i < len(rbsp) {
		if rbsp[i] == 0x80 {
			break
		}

		payloadType := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadType += 255
			i++
		}
		if i >= len(rbsp) {
			return msgs, ErrTruncated
		}
		payloadType += int(rbsp[i])
		i++

		payloadSize := 0
		for i < len(rbsp) && rbsp[i] == 0xFF {
			payloadSize += 255
			i++
		}
		if i >= len(rbsp) {
			return msgs, ErrTruncated
		}
		payloadSize += int(rbsp[i])
		i++

		if i+payloadSize > len(rbsp) {
			return msgs, ErrTruncated
		}
		msgs = append(msgs, SEIMessage{Type: payloadType, Size: payloadSize, Payload: rbsp[i : i+payloadSize]})
		i += payloadSize
	}
	return msgs, nil
}

// Timecode represents a SMPTE 12M timecode extracted from an H.264 pic_timing
// SEI message.
type Timecode struct {
	Hours   int
	Minutes int
	Seconds int
	Frames  int
}

// String formats the timecode as HH:MM:SS:FF.
func (tc Timecode) String() string {
	return fmt.Sprintf("%02d:%02d:%02d:%02d", tc.Hours, tc.Minutes, tc.Seconds, tc.Frames)
}

// ParsePicTimingSEI extracts a SMPTE 12M timecode from an H.264 pic_timing
// SEI message. Returns the timecode and true if extraction succeeded, or a
// zero value and false if the SEI doesn't contain valid clock timestamps.
// Requires HRD parameters from the SPS for correct bitstream parsing.
func ParsePicTimingSEI(seiNALU []byte, sps SPSInfo) (Timecode, bool) {
	if !sps.PicStructPresent || !sps.HRDPresent {
		return Timecode{}, false
	}
	msgs, _ := ParseSEIMessages(seiNALU, 1)
	for _, m := range msgs {
		if m.Type != SEIPicTiming {
			continue
		}
		if tc, ok := parsePicTimingPayload(m.Payload, sps); ok {
			return tc, true
		}
	}
	return Timecode{}, false
}

func parsePicTimingPayload(payload []byte, sps SPSInfo) (Timecode, bool) {
	br := newBitReader(payload)

	br.readBits(sps.CpbRemovalDelayLen)
	br.readBits(sps.DpbOutputDelayLen)

	picStruct, err := br.readBits(4)
	if err != nil {
		return Timecode{}, false
	}

	numClockTS := 1
	switch picStruct {
	case 3, 4:
		numClockTS = 2
	case 5, 6, 7, 8:
		numClockTS = 3
	}

	for c := 0; c < numClockTS; c++ {
		clockTSFlag, err := br.readBits(1)
		if err != nil {
			return Timecode{}, false
		}
		if clockTSFlag == 0 {
			continue
		}

		br.readBits(2) // ct_type
		br.readBits(1) // nuit_field_based_flag
		br.readBits(5) // counting_type
		fullTSFlag, _ := br.readBits(1)
		br.readBits(1) // discontinuity_flag
		br.readBits(1) // cnt_dropped_flag
		nFrames, _ := br.readBits(8)

		var secs, mins, hours uint
		if fullTSFlag == 1 {
			secs, _ = br.readBits(6)
			mins, _ = br.readBits(6)
			hours, _ = br.readBits(5)
		} else {
			secFlag, _ := br.readBits(1)
			if secFlag == 1 {
				secs, _ = br.readBits(6)
				minFlag, _ := br.readBits(1)
				if minFlag == 1 {
					mins, _ = br.readBits(6)
					hrFlag, _ := br.readBits(1)
					if hrFlag == 1 {
						hours, _ = br.readBits(5)
					}
				}
			}
		}

		if sps.TimeOffsetLen > 0 {
			br.readBits(sps.TimeOffsetLen)
		}

		return Timecode{
			Hours:   int(hours),
			Minutes: int(mins),
			Seconds: int(secs),
			Frames:  int(nFrames),
		}, true
	}

	return Timecode{}, false
}

// CaptionDecoder turns the CEA-608/708 data carried in SEI user data into
// displayable caption frames. It keeps per-channel decoder state, so one
// decoder serves exactly one video stream.
type CaptionDecoder struct {
	cea608Decs map[int]*ccx.CEA608Decoder
	cea708Svcs map[int]*ccx.CEA708Service
	dtvccBuf   []byte

	pictures        int64
	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
}

// NewCaptionDecoder returns a decoder for CC1-CC4 and DTVCC services 1-6.
func NewCaptionDecoder() *CaptionDecoder {
	d := &CaptionDecoder{
		cea608Decs: make(map[int]*ccx.CEA608Decoder, 4),
		cea708Svcs: make(map[int]*ccx.CEA708Service, 6),
	}
	for ch := 1; ch <= 4; ch++ {
		d.cea608Decs[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		d.cea708Svcs[svc] = ccx.NewCEA708Service()
	}
	return d
}

// AdvancePicture records that another coded picture was seen. Repeated
// 608 control codes are only dropped within two pictures of each other.
func (d *CaptionDecoder) AdvancePicture() { d.pictures++ }

// Decode feeds one SEI NAL unit (header included) and returns the caption
// frames that changed as a result, stamped with pts.
func (d *CaptionDecoder) Decode(seiData []byte, pts int64) []*ccx.CaptionFrame {
	cd := ccx.ExtractCaptions(seiData)
	if cd == nil {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		// Control codes are sent twice for robustness; act on them once.
		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := d.pictures - d.lastCCCtrlFrame[f]
			if d.lastCCWasCtrl[f] && d.lastCCCtrl[f] == cp && frameGap <= 2 {
				d.lastCCWasCtrl[f] = false
				continue
			}
			d.lastCCCtrl[f] = cp
			d.lastCCWasCtrl[f] = true
			d.lastCCCtrlFrame[f] = d.pictures
		} else {
			d.lastCCWasCtrl[f] = false
		}

		dec := d.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: pair.Channel}
			frame.Regions = dec.StyledRegions()
			out = append(out, frame)
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			out = append(out, d.drainDTVCC(pts)...)
			d.dtvccBuf = d.dtvccBuf[:0]
		}
		d.dtvccBuf = append(d.dtvccBuf, t.Data[0], t.Data[1])
	}
	return out
}

func (d *CaptionDecoder) drainDTVCC(pts int64) []*ccx.CaptionFrame {
	if len(d.dtvccBuf) < 1 {
		return nil
	}

	packetSize := ccx.DTVCCPacketSize(d.dtvccBuf[0])
	if len(d.dtvccBuf) < packetSize {
		return nil
	}

	var out []*ccx.CaptionFrame
	for _, block := range ccx.ParseDTVCCPacket(d.dtvccBuf[:packetSize]) {
		svc := d.cea708Svcs[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			if text := svc.DisplayText(); text != "" {
				// Channels 7-12 carry DTVCC services 1-6.
				frame := &ccx.CaptionFrame{PTS: pts, Text: text, Channel: block.ServiceNum + 6}
				frame.Regions = svc.StyledRegions()
				out = append(out, frame)
			}
		}
	}
	d.dtvccBuf = d.dtvccBuf[packetSize:]
	return out
}
