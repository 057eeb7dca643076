package scte35

import (
	"encoding/hex"
	"errors"
	"testing"
)

// Sections captured from a broadcast ad-insertion encoder.
var vectors = map[string]string{
	"ProviderAdStart":    "fc302700000000000000fff00506fe000dbba00011020f43554549000000017fbf0000300101ee197d02",
	"DistributorAdStart": "fc302c00000000000000fff00506fe000dbba00016021443554549000000027fff00002932e000003201031233f909",
	"ProviderAdEnd":      "fc302700000000000000fff00506fe000dbba00011020f43554549000000047fbf0000310101de2663d0",
	"SpliceInsertOut":    "fc303200000000000000fff01005000000057fbf00fe007b98a0000101010011020f43554549000000057fbf00002201017f1add87",
	"SpliceInsertIn":     "fc302d00000000000000fff00b05000000067f1f00000101010011020f43554549000000067fbf0000230101c2262974",
	"ChapterStart":       "fc302c00000000000000fff00506fe000dbba00016021443554549000000097fff00019bfcc00000200105bb3c1919",
	"NetworkStart":       "fc302700000000000000fff00506fe000dbba00011020f435545490000000b7fbf0000500000163074e3",
}

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	return b
}

func TestDecodeTimeSignalSegmentation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		eventID      uint32
		typeID       uint32
		typeName     string
		duration     uint64 // 0 means absent
		segsExpected uint32
	}{
		{"ProviderAdStart", 1, 0x30, "Provider Advertisement Start", 0, 1},
		{"DistributorAdStart", 2, 0x32, "Distributor Advertisement Start", 30 * 90000, 3},
		{"ProviderAdEnd", 4, 0x31, "Provider Advertisement End", 0, 1},
		{"ChapterStart", 9, 0x20, "Chapter Start", 0x19bfcc0, 5},
		{"NetworkStart", 11, 0x50, "Network Start", 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sis, err := DecodeBytes(mustDecodeHex(t, vectors[tt.name]))
			if err != nil {
				t.Fatalf("DecodeBytes: %v", err)
			}
			if sis.SAPType != 3 {
				t.Errorf("SAPType: got %d, want 3", sis.SAPType)
			}
			if sis.Tier != 0xFFF {
				t.Errorf("Tier: got 0x%X, want 0xFFF", sis.Tier)
			}
			if sis.CommandType != TimeSignalType {
				t.Fatalf("CommandType: got %d, want %d", sis.CommandType, TimeSignalType)
			}
			ts, ok := sis.SpliceCommand.(*TimeSignal)
			if !ok {
				t.Fatalf("SpliceCommand: got %T, want *TimeSignal", sis.SpliceCommand)
			}
			if ts.SpliceTime.PTSTime == nil || *ts.SpliceTime.PTSTime != 900000 {
				t.Errorf("PTSTime: got %v, want 900000", ts.SpliceTime.PTSTime)
			}

			if len(sis.SpliceDescriptors) != 1 {
				t.Fatalf("descriptors: got %d, want 1", len(sis.SpliceDescriptors))
			}
			sd, ok := sis.SpliceDescriptors[0].(*SegmentationDescriptor)
			if !ok {
				t.Fatalf("descriptor: got %T, want *SegmentationDescriptor", sis.SpliceDescriptors[0])
			}
			if sd.SegmentationEventID != tt.eventID {
				t.Errorf("SegmentationEventID: got %d, want %d", sd.SegmentationEventID, tt.eventID)
			}
			if sd.SegmentationTypeID != tt.typeID {
				t.Errorf("SegmentationTypeID: got 0x%02X, want 0x%02X", sd.SegmentationTypeID, tt.typeID)
			}
			if sd.Name() != tt.typeName {
				t.Errorf("Name: got %q, want %q", sd.Name(), tt.typeName)
			}
			if sd.SegmentsExpected != tt.segsExpected {
				t.Errorf("SegmentsExpected: got %d, want %d", sd.SegmentsExpected, tt.segsExpected)
			}

			dur, ok := sis.Duration()
			if tt.duration == 0 {
				if ok {
					t.Errorf("Duration: got %d, want none", dur)
				}
			} else if !ok || dur != tt.duration {
				t.Errorf("Duration: got %d (%v), want %d", dur, ok, tt.duration)
			}
		})
	}
}

func TestDecodeSpliceInsert(t *testing.T) {
	t.Parallel()

	sis, err := DecodeBytes(mustDecodeHex(t, vectors["SpliceInsertOut"]))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	si, ok := sis.SpliceCommand.(*SpliceInsert)
	if !ok {
		t.Fatalf("SpliceCommand: got %T, want *SpliceInsert", sis.SpliceCommand)
	}
	if si.SpliceEventID != 5 {
		t.Errorf("SpliceEventID: got %d, want 5", si.SpliceEventID)
	}
	if !si.OutOfNetworkIndicator {
		t.Error("OutOfNetworkIndicator: got false, want true")
	}
	if !si.SpliceImmediateFlag {
		t.Error("SpliceImmediateFlag: got false, want true")
	}
	if si.BreakDuration == nil {
		t.Fatal("BreakDuration: got nil")
	}
	if !si.BreakDuration.AutoReturn || si.BreakDuration.Duration != 90*90000 {
		t.Errorf("BreakDuration: got %+v, want auto-return 8100000", *si.BreakDuration)
	}
	if si.UniqueProgramID != 1 || si.AvailNum != 1 || si.AvailsExpected != 1 {
		t.Errorf("avail: got program %d avail %d/%d, want 1 1/1", si.UniqueProgramID, si.AvailNum, si.AvailsExpected)
	}
	if dur, ok := sis.Duration(); !ok || dur != 90*90000 {
		t.Errorf("Duration: got %d, want %d", dur, 90*90000)
	}

	sis, err = DecodeBytes(mustDecodeHex(t, vectors["SpliceInsertIn"]))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	si = sis.SpliceCommand.(*SpliceInsert)
	if si.OutOfNetworkIndicator {
		t.Error("OutOfNetworkIndicator: got true, want false")
	}
	if si.BreakDuration != nil {
		t.Errorf("BreakDuration: got %+v, want nil", *si.BreakDuration)
	}
	if sd := sis.SpliceDescriptors[0].(*SegmentationDescriptor); sd.Name() != "Break End" {
		t.Errorf("Name: got %q, want %q", sd.Name(), "Break End")
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	good := mustDecodeHex(t, vectors["ProviderAdStart"])

	badCRC := append([]byte(nil), good...)
	badCRC[len(badCRC)-1] ^= 0xFF

	truncated := good[:20]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"wrong_table", append([]byte{0x02}, good[1:]...), ErrNotSpliceInfo},
		{"empty", nil, ErrNotSpliceInfo},
		{"bad_crc", badCRC, ErrCRC},
		{"truncated", truncated, ErrTruncated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeBytes(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  uint32
		want string
	}{
		{SpliceNullType, "splice_null"},
		{SpliceInsertType, "splice_insert"},
		{TimeSignalType, "time_signal"},
		{PrivateCommandType, "private_command"},
		{0x42, "reserved (0x42)"},
	}
	for _, tt := range tests {
		if got := CommandName(tt.typ); got != tt.want {
			t.Errorf("CommandName(0x%02X): got %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestSegmentationTypeNameUnknown(t *testing.T) {
	t.Parallel()

	if got := SegmentationTypeName(0x99); got != "Unknown (0x99)" {
		t.Errorf("got %q, want %q", got, "Unknown (0x99)")
	}
}

func FuzzDecodeBytes(f *testing.F) {
	for _, v := range vectors {
		b, _ := hex.DecodeString(v)
		f.Add(b)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeBytes(data)
	})
}
