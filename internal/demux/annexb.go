package demux

import (
	"bytes"
	"errors"
	"io"
)

// NALUnit represents a parsed H.264 or H.265 NAL unit.
type NALUnit struct {
	Type byte   // NAL type (codec-specific: 5-bit for H.264, 6-bit for H.265)
	Data []byte // raw NAL data including the NAL header byte(s), without start code
}

// parseAnnexBGeneric scans an Annex B byte stream for start codes and extracts
// NAL units. The nalTypeFunc extracts the codec-specific NAL type from the raw
// NAL data. Both 3-byte (0x000001) and 4-byte (0x00000001) start codes are
// recognized. minNALBytes is the minimum NAL data length (1 for H.264, 2 for HEVC).
func parseAnnexBGeneric(data []byte, minNALBytes int, nalTypeFunc func([]byte) byte) []NALUnit {
	var units []NALUnit
	sc := NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		u := sc.Unit()
		if u.Leading || len(u.Payload()) < minNALBytes {
			continue
		}
		nal := u.Payload()
		units = append(units, NALUnit{Type: nalTypeFunc(nal), Data: nal})
	}
	return units
}

// ParseAnnexB parses H.264 Annex B byte stream into individual NAL units.
// It recognizes both 3-byte (0x000001) and 4-byte (0x00000001) start codes.
func ParseAnnexB(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC parses an HEVC Annex B byte stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// StartCodeUnit is one start-code delimited unit of an Annex B style
// elementary stream. Units tile the input: each begins at its start code
// (including a leading zero byte when the code is four bytes long) and ends
// where the next one begins.
type StartCodeUnit struct {
	Offset        int64
	StartCodeLen  int    // leading_zero_8bits of the first unit are counted here
	Data          []byte // start code plus payload
	Leading       bool   // bytes before the first start code
	TrailingZeros int

	// Cut is set when the unit reached the scanner's size limit before the
	// next start code; the following unit continues it and has Continued set.
	Cut       bool
	Continued bool
}

// Size is the number of input bytes the unit covers.
func (u StartCodeUnit) Size() int64 { return int64(len(u.Data)) }

// Payload returns the bytes after the start code with any trailing_zero_8bits
// removed.
func (u StartCodeUnit) Payload() []byte {
	return u.Data[u.StartCodeLen : len(u.Data)-u.TrailingZeros]
}

const scanChunk = 64 << 10

// Scanner splits an Annex B byte stream into StartCodeUnits without holding
// more than one unit plus a read chunk in memory. Bytes handed out through
// Unit are never overwritten, so earlier units stay valid.
type Scanner struct {
	r   io.Reader
	buf []byte // starts at the current unit
	off int64  // input offset of buf[0]
	pos int    // next search position within buf
	eof bool
	err error

	started bool
	scLen   int
	unit    StartCodeUnit

	maxUnit   int
	continued bool
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: r}
}

// SetMaxUnitSize bounds the bytes buffered for a single unit. Longer units
// are handed out in pieces of roughly n bytes. Zero means no limit.
func (s *Scanner) SetMaxUnitSize(n int) {
	s.maxUnit = n
}

// Scan advances to the next unit. It returns false at the end of input or on
// a read error, which Err reports.
func (s *Scanner) Scan() bool {
	for {
		at, n := findStartCode(s.buf, s.pos)
		switch {
		case at >= 0 && !s.started && allZero(s.buf[:at]):
			s.started = true
			s.scLen = at + n
			s.pos = at + n
			continue
		case at == 0 && s.continued:
			// A cut landed exactly on a start code.
			s.continued = false
			s.scLen = n
			s.pos = n
			continue
		case at >= 0:
			s.emit(at, n)
			return true
		}

		if s.eof {
			if len(s.buf) == 0 {
				return false
			}
			s.emit(len(s.buf), 0)
			return true
		}
		// Positions before len-2 are known not to begin a start code.
		s.pos = max(s.pos, len(s.buf)-2)
		if s.maxUnit > 0 && s.pos >= s.maxUnit {
			s.emit(s.pos, 0)
			s.unit.Cut = true
			s.unit.TrailingZeros = 0
			s.continued = true
			return true
		}
		s.fill()
	}
}

func (s *Scanner) fill() {
	if cap(s.buf)-len(s.buf) < scanChunk {
		grown := make([]byte, len(s.buf), max(2*len(s.buf), len(s.buf)+scanChunk))
		copy(grown, s.buf)
		s.buf = grown
	}
	n, err := io.ReadFull(s.r, s.buf[len(s.buf):len(s.buf)+scanChunk])
	s.buf = s.buf[:len(s.buf)+n]
	if err != nil {
		s.eof = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.err = err
		}
	}
}

// emit cuts buf[:end] into the current unit. The next unit starts at end
// with a start code of nextLen bytes.
func (s *Scanner) emit(end, nextLen int) {
	data := s.buf[:end:end]
	u := StartCodeUnit{
		Offset:       s.off,
		StartCodeLen: s.scLen,
		Data:         data,
		Leading:      !s.started,
		Continued:    s.continued,
	}
	s.continued = false
	if u.Leading {
		u.StartCodeLen = 0
	} else {
		for u.TrailingZeros < len(data)-s.scLen && data[len(data)-1-u.TrailingZeros] == 0 {
			u.TrailingZeros++
		}
	}
	s.unit = u

	s.buf = s.buf[end:]
	s.off += int64(end)
	s.started = true
	s.scLen = nextLen
	s.pos = nextLen
}

// Unit returns the unit produced by the last successful Scan.
func (s *Scanner) Unit() StartCodeUnit { return s.unit }

// Offset returns the input offset up to which units have been produced.
func (s *Scanner) Offset() int64 { return s.off }

// Err returns the first non-EOF read error.
func (s *Scanner) Err() error { return s.err }

// findStartCode returns the index of the first start code at or after from
// and its length. A zero byte directly before 00 00 01 makes it a four-byte
// code. It returns -1 when none is present.
func findStartCode(b []byte, from int) (at, n int) {
	for i := from; i+2 < len(b); i++ {
		if b[i+2] > 1 {
			i += 2
			continue
		}
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		if i > 0 && b[i-1] == 0 {
			return i - 1, 4
		}
		return i, 3
	}
	return -1, 0
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
