package main

import "math/rand"

// bitWriter packs MSB-first bit fields.
type bitWriter struct {
	buf  []byte
	nbit uint
}

func (w *bitWriter) write(v uint32, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> (w.nbit % 8)
		}
		w.nbit++
	}
}

func startCode(code byte) []byte {
	return []byte{0x00, 0x00, 0x01, code}
}

// sequenceHeader describes 720x576, 4:3, 25 fps at 6 Mbit/s.
func sequenceHeader() []byte {
	var w bitWriter
	w.write(720, 12)
	w.write(576, 12)
	w.write(2, 4)      // aspect_ratio_information
	w.write(3, 4)      // frame_rate_code
	w.write(15000, 18) // bit_rate_value, 400 bit/s units
	w.write(1, 1)
	w.write(112, 10) // vbv_buffer_size_value
	w.write(0, 1)
	w.write(0, 2) // no quantiser matrices
	return append(startCode(0xB3), w.buf...)
}

func gopHeader(picture int) []byte {
	secs := picture / 25
	var w bitWriter
	w.write(0, 1) // drop_frame_flag
	w.write(uint32(secs/3600), 5)
	w.write(uint32(secs/60%60), 6)
	w.write(1, 1)
	w.write(uint32(secs%60), 6)
	w.write(uint32(picture%25), 6)
	w.write(1, 1) // closed_gop
	w.write(0, 1)
	return append(startCode(0xB8), w.buf...)
}

func pictureHeader(temporalRef int, codingType uint32) []byte {
	var w bitWriter
	w.write(uint32(temporalRef), 10)
	w.write(codingType, 3)
	w.write(0xFFFF, 16)
	if codingType == 2 {
		w.write(0, 1) // full_pel_forward_vector
		w.write(7, 3) // forward_f_code
	}
	w.write(0, 1) // extra_bit_picture
	return append(startCode(0x00), w.buf...)
}

// buildPictures returns n coded pictures. The first picture of every GOP
// is an I picture led by a sequence and GOP header; the rest are P
// pictures. Slice bodies are random non-zero bytes, so they never contain
// a start code.
func buildPictures(rng *rand.Rand, n, gop int) [][]byte {
	if gop <= 0 {
		gop = 12
	}
	pictures := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		var pic []byte
		codingType := uint32(2)
		size := 6000 + rng.Intn(4000)
		if i%gop == 0 {
			pic = append(pic, sequenceHeader()...)
			pic = append(pic, gopHeader(i)...)
			codingType = 1
			size = 40000 + rng.Intn(10000)
		}
		pic = append(pic, pictureHeader(i%gop, codingType)...)
		const rows = 36
		for row := 1; row <= rows; row++ {
			pic = append(pic, startCode(byte(row))...)
			for j := 0; j < size/rows; j++ {
				pic = append(pic, byte(1+rng.Intn(255)))
			}
		}
		pictures = append(pictures, pic)
	}
	return pictures
}
