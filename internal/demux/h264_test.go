package demux

import (
	"errors"
	"math"
	"testing"
)

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		data      []byte
		wantTypes []byte
		wantLens  []int
	}{
		{
			name: "4-byte start codes",
			data: []byte{
				0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
				0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
				0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF, 0xFE,
			},
			wantTypes: []byte{NALTypeSPS, NALTypePPS, NALTypeIDR},
			wantLens:  []int{4, 4, 6},
		},
		{
			name: "3-byte start codes",
			data: []byte{
				0x00, 0x00, 0x01, 0x67, 0x42, 0xE0,
				0x00, 0x00, 0x01, 0x65, 0x88, 0x84,
			},
			wantTypes: []byte{NALTypeSPS, NALTypeIDR},
			wantLens:  []int{3, 3},
		},
		{
			name: "zero before start code belongs to the start code",
			data: []byte{
				0x00, 0x00, 0x00, 0x01, 0x06, 0xAA, 0xBB, 0x00,
				0x00, 0x00, 0x01, 0x41, 0x9A,
			},
			wantTypes: []byte{NALTypeSEI, NALTypeSlice},
			wantLens:  []int{3, 2},
		},
		{
			name: "mixed start code lengths",
			data: []byte{
				0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
				0x00, 0x00, 0x01, 0x68, 0xCE,
				0x00, 0x00, 0x00, 0x01, 0x06, 0xFF, 0xFE,
				0x00, 0x00, 0x01, 0x65, 0x88,
			},
			wantTypes: []byte{NALTypeSPS, NALTypePPS, NALTypeSEI, NALTypeIDR},
			wantLens:  []int{2, 2, 3, 2},
		},
		{
			name:      "trailing zero bytes are dropped",
			data:      []byte{0x00, 0x00, 0x01, 0x41, 0x9A, 0x00, 0x00, 0x00},
			wantTypes: []byte{NALTypeSlice},
			wantLens:  []int{2},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			nalus := ParseAnnexB(tt.data)
			if len(nalus) != len(tt.wantTypes) {
				t.Fatalf("got %d NAL units, want %d", len(nalus), len(tt.wantTypes))
			}
			for i := range nalus {
				if nalus[i].Type != tt.wantTypes[i] {
					t.Errorf("NALU[%d]: got type %d, want %d", i, nalus[i].Type, tt.wantTypes[i])
				}
				if len(nalus[i].Data) != tt.wantLens[i] {
					t.Errorf("NALU[%d]: got %d bytes, want %d", i, len(nalus[i].Data), tt.wantLens[i])
				}
			}
		})
	}
}

func TestParseAnnexBEmpty(t *testing.T) {
	t.Parallel()
	if nalus := ParseAnnexB(nil); nalus != nil {
		t.Errorf("expected nil for empty input, got %d units", len(nalus))
	}
	if nalus := ParseAnnexB([]byte{0x00, 0x01}); nalus != nil {
		t.Errorf("expected nil for too-short input, got %d units", len(nalus))
	}
}

func TestParseAVCHeader(t *testing.T) {
	t.Parallel()
	h, err := ParseAVCHeader([]byte{0x67})
	if err != nil {
		t.Fatalf("ParseAVCHeader error: %v", err)
	}
	if h.Type != NALTypeSPS || h.RefIDC != 3 || h.ForbiddenZeroBit {
		t.Errorf("header = %+v", h)
	}

	h, err = ParseAVCHeader([]byte{0xE5})
	if !errors.Is(err, ErrForbiddenBit) {
		t.Errorf("err = %v, want ErrForbiddenBit", err)
	}
	if h.Type != NALTypeIDR {
		t.Errorf("type with forbidden bit: got %d, want %d", h.Type, NALTypeIDR)
	}

	if _, err := ParseAVCHeader(nil); !errors.Is(err, ErrEmptyNAL) {
		t.Errorf("empty NAL err = %v, want ErrEmptyNAL", err)
	}
}

func TestNALTypeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ  byte
		want string
	}{
		{NALTypeIDR, "Coded slice (IDR)"},
		{NALTypeSPS, "SPS"},
		{0, "Unspecified (0)"},
		{17, "Reserved (17)"},
		{30, "Unspecified (30)"},
	}
	for _, tt := range tests {
		if got := NALTypeName(tt.typ); got != tt.want {
			t.Errorf("NALTypeName(%d) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		sps       []byte
		width     int
		height    int
		frameRate float64
	}{
		{
			name: "720p 23.976",
			sps: []byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
				0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
				0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
			},
			width:     1280,
			height:    720,
			frameRate: 24000.0 / 1001.0,
		},
		{
			name: "256x192 main profile",
			sps: []byte{
				0x67, 0x4d, 0x40, 0x1f, 0xb9, 0x08, 0x08, 0x0c,
				0xd8, 0x0b, 0x50, 0x10, 0x10, 0x14, 0x00, 0x00,
				0x0f, 0xa4, 0x00, 0x02, 0xee, 0x03, 0x81, 0x80,
				0x04, 0x93, 0xc0, 0x02, 0x49, 0xe8, 0xa0, 0xc0,
				0x3a, 0x8e, 0x18, 0xc9,
			},
			width:     256,
			height:    192,
			frameRate: 24000.0 / 1001.0,
		},
		{
			name: "720p 30 with HRD",
			sps: []byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
				0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
				0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
				0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
			},
			width:     1280,
			height:    720,
			frameRate: 30,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseSPS(tt.sps)
			if err != nil {
				t.Fatalf("ParseSPS error: %v", err)
			}
			if info.Width != tt.width || info.Height != tt.height {
				t.Errorf("size: got %dx%d, want %dx%d", info.Width, info.Height, tt.width, tt.height)
			}
			if got := info.FrameRate(); math.Abs(got-tt.frameRate) > 0.001 {
				t.Errorf("FrameRate: got %f, want %f", got, tt.frameRate)
			}
		})
	}
}

func TestParseSPSHRDFields(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0x01, 0x6a, 0x04, 0x04, 0x0a, 0x80,
		0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
		0x30, 0x20, 0x00, 0x16, 0xe3, 0x60, 0x00, 0x2d,
		0xc6, 0xd2, 0x49, 0x80, 0x7c, 0x60, 0xc6, 0x58,
	}

	info, err := ParseSPS(sps)
	if err != nil {
		t.Fatalf("ParseSPS error: %v", err)
	}
	if !info.PicStructPresent {
		t.Error("expected PicStructPresent=true")
	}
	if !info.HRDPresent {
		t.Error("expected HRDPresent=true")
	}
	if info.CpbRemovalDelayLen != 10 {
		t.Errorf("CpbRemovalDelayLen: got %d, want 10", info.CpbRemovalDelayLen)
	}
	if info.DpbOutputDelayLen != 7 {
		t.Errorf("DpbOutputDelayLen: got %d, want 7", info.DpbOutputDelayLen)
	}
	if got := info.CodecString(); got != "avc1.64001F" {
		t.Errorf("CodecString() = %q, want %q", got, "avc1.64001F")
	}
}

func TestParseSPSTrailingData(t *testing.T) {
	t.Parallel()
	sps := []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	if _, err := ParseSPS(append(append([]byte(nil), sps...), 0x00, 0x00)); err != nil {
		t.Errorf("trailing zero bytes: got %v, want nil", err)
	}

	info, err := ParseSPS(append(append([]byte(nil), sps...), 0xAB, 0xCD))
	if !errors.Is(err, ErrTrailingData) {
		t.Fatalf("ParseSPS error = %v, want ErrTrailingData", err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Errorf("size: got %dx%d, want 1280x720", info.Width, info.Height)
	}

	// A VUI cut short is read as far as it goes.
	if _, err := ParseSPS(sps[:24]); err != nil {
		t.Errorf("truncated VUI: got %v, want nil", err)
	}
}

func TestParseSPSTooShort(t *testing.T) {
	t.Parallel()
	for _, in := range [][]byte{nil, {}, {0x67, 0x64, 0x00}} {
		if _, err := ParseSPS(in); err == nil {
			t.Errorf("ParseSPS(% x): expected error", in)
		}
	}
}

func TestParsePPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		nalu    []byte
		want    PPSInfo
		wantErr error
	}{
		{
			name: "baseline",
			nalu: []byte{0x68, 0xCE, 0x38, 0x80},
			want: PPSInfo{NumSliceGroups: 1, PicInitQP: 26},
		},
		{
			name: "transform 8x8 extension",
			nalu: []byte{0x68, 0xCE, 0x38, 0xB0},
			want: PPSInfo{NumSliceGroups: 1, PicInitQP: 26, Transform8x8: true},
		},
		{
			name:    "garbage after stop bit",
			nalu:    []byte{0x68, 0xCE, 0x38, 0x80, 0xAB, 0xAB},
			want:    PPSInfo{NumSliceGroups: 1, PicInitQP: 26, Transform8x8: true},
			wantErr: ErrTrailingData,
		},
		{
			name:    "missing stop bit",
			nalu:    []byte{0x68, 0xCE, 0x38},
			wantErr: ErrTruncated,
		},
		{
			name:    "header only",
			nalu:    []byte{0x68},
			wantErr: ErrTruncated,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePPS(tt.nalu)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParsePPS error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PPS = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAVCSliceHeader(t *testing.T) {
	t.Parallel()
	h, err := ParseAVCSliceHeader([]byte{0x65, 0x88, 0x84, 0x00, 0xFF})
	if err != nil {
		t.Fatalf("ParseAVCSliceHeader error: %v", err)
	}
	want := AVCSliceHeader{FirstMB: 0, SliceType: 7, PPSID: 0}
	if h != want {
		t.Errorf("slice header = %+v, want %+v", h, want)
	}
	if got := SliceTypeName(h.SliceType); got != "I" {
		t.Errorf("SliceTypeName(7) = %q, want I", got)
	}
}

func TestIsAVCVCL(t *testing.T) {
	t.Parallel()
	for typ := byte(0); typ < 32; typ++ {
		want := typ >= 1 && typ <= 5
		if got := IsAVCVCL(typ); got != want {
			t.Errorf("IsAVCVCL(%d) = %v, want %v", typ, got, want)
		}
	}
	if !IsKeyframe(NALTypeIDR) || IsKeyframe(NALTypeSlice) {
		t.Error("IsKeyframe mismatch")
	}
	if !IsSPS(NALTypeSPS) || !IsPPS(NALTypePPS) {
		t.Error("IsSPS/IsPPS mismatch")
	}
}
