// Package wire implements the binary framing of the live session feed.
//
// Every frame is [type (varint)] [length (varint)] [payload]. Payload fields
// are QUIC variable-length integers; signed values are zig-zag encoded
// first so that small negative numbers such as a missing stream index stay
// one byte long.
package wire
