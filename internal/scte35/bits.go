package scte35

// bitReader reads bits MSB-first from a byte slice. Reads past the end
// return zero bits and set overflow.
type bitReader struct {
	data     []byte
	bitPos   int
	overflow bool
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) bitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

func (r *bitReader) readBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

func (r *bitReader) readUint32(n int) uint32 {
	return uint32(r.readUint64(n))
}

func (r *bitReader) readUint64(n int) uint64 {
	var val uint64
	for i := 0; i < n; i++ {
		val <<= 1
		if r.readBit() {
			val |= 1
		}
	}
	return val
}

func (r *bitReader) readBytes(n int) []byte {
	if n > r.bitsLeft()/8 {
		r.overflow = true
		n = r.bitsLeft() / 8
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.readUint32(8))
	}
	return out
}

func (r *bitReader) skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}

// seek moves to an absolute bit position.
func (r *bitReader) seek(bitPos int) {
	r.bitPos = bitPos
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}
