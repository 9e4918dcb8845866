package protocol

import (
	"encoding/binary"
	"fmt"
)

// Fixed header layout (24 bytes). All integer fields are little-endian.
//
//	0  ..1   Magic      'H''R'
//	2        Version    u8
//	3        Type       u8
//	4  ..5   Flags      u16
//	6  ..7   Reserved   u16
//	8  ..11  Seq        u32 per-sender, per-class sequence
//	12 ..15  Tick       u32 sender simulation tick
//	16 ..19  PayloadLen u32
//	20 ..23  Reserved2  u32
const (
	HeaderSize = 24
	magic0     = 'H'
	magic1     = 'R'
	// Version is the wire version written by this build.
	Version uint8 = 1
	// MaxPayload guards against absurd lengths from a corrupt peer.
	MaxPayload = 1 << 20
)

// Header describes metadata for an envelope.
type Header struct {
	Version    uint8
	Type       uint8
	Flags      uint16
	Seq        uint32
	Tick       uint32
	PayloadLen uint32
}

// MarshalBinary encodes the header to a 24-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf, nil
}

func (h *Header) put(buf []byte) {
	buf[0], buf[1] = magic0, magic1
	buf[2] = h.Version
	buf[3] = h.Type
	binary.LittleEndian.PutUint16(buf[4:6], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.Seq)
	binary.LittleEndian.PutUint32(buf[12:16], h.Tick)
	binary.LittleEndian.PutUint32(buf[16:20], h.PayloadLen)
}

// UnmarshalBinary decodes the header from buf.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrShortFrame
	}
	if buf[0] != magic0 || buf[1] != magic1 {
		return ErrBadMagic
	}
	h.Version = buf[2]
	if h.Version == 0 || h.Version > Version {
		return fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	h.Type = buf[3]
	h.Flags = binary.LittleEndian.Uint16(buf[4:6])
	h.Seq = binary.LittleEndian.Uint32(buf[8:12])
	h.Tick = binary.LittleEndian.Uint32(buf[12:16])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[16:20])
	return nil
}
