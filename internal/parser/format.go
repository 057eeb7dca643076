package parser

import (
	"fmt"
	"strings"
)

// Format selects the parser variant for an input. The caller classifies
// the input; nothing here sniffs content.
type Format int

const (
	FormatUnknown Format = iota
	FormatAnnexBHEVC
	FormatAnnexBAVC
	FormatAnnexBMPEG2
	FormatContainer
	FormatCapture
)

var formatNames = map[Format]string{
	FormatAnnexBHEVC:  "hevc",
	FormatAnnexBAVC:   "avc",
	FormatAnnexBMPEG2: "mpeg2",
	FormatContainer:   "ts",
	FormatCapture:     "pcap",
}

var formatAliases = map[string]Format{
	"hevc":   FormatAnnexBHEVC,
	"h265":   FormatAnnexBHEVC,
	"265":    FormatAnnexBHEVC,
	"avc":    FormatAnnexBAVC,
	"h264":   FormatAnnexBAVC,
	"264":    FormatAnnexBAVC,
	"mpeg2":  FormatAnnexBMPEG2,
	"m2v":    FormatAnnexBMPEG2,
	"ts":     FormatContainer,
	"mpegts": FormatContainer,
	"m2ts":   FormatContainer,
	"pcap":   FormatCapture,
}

// ParseFormat maps a user supplied name such as "h264" or "ts" to a Format.
func ParseFormat(name string) (Format, error) {
	if f, ok := formatAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
