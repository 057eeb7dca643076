package demux

import "errors"

// ErrTruncated is returned when a syntax structure ends before all of its
// mandatory fields could be read.
var ErrTruncated = errors.New("demux: truncated syntax structure")

// ErrTrailingData is returned when bits other than rbsp_trailing_bits follow
// the last syntax element of an RBSP.
var ErrTrailingData = errors.New("trailing data after rbsp_trailing_bits")

type bitReader struct {
	data    []byte
	pos     int
	bit     int
	overrun bool // a read went past the end of data
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		br.overrun = true
		return 0, ErrTruncated
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readFlag() (bool, error) {
	b, err := br.readBit()
	return b == 1, err
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, ErrTruncated
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

// lastOne returns the position of the last set bit in the data, or -1.
func (br *bitReader) lastOne() int {
	for i := len(br.data) - 1; i >= 0; i-- {
		if b := br.data[i]; b != 0 {
			n := 7
			for b&1 == 0 {
				b >>= 1
				n--
			}
			return i*8 + n
		}
	}
	return -1
}

func (br *bitReader) moreRBSPData() bool {
	return br.pos*8+br.bit < br.lastOne()
}

// checkTrailingBits reports whether the reader sits on the stop bit and only
// zero bits follow it.
func (br *bitReader) checkTrailingBits() error {
	stop := br.lastOne()
	switch pos := br.pos*8 + br.bit; {
	case stop < pos:
		return ErrTruncated
	case stop > pos:
		return ErrTrailingData
	}
	return nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale := 8
	nextScale := 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// removeEmulationPrevention strips emulation_prevention_three_byte from NAL
// payload data, producing the RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}
