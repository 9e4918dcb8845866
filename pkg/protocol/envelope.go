package protocol

import (
	"fmt"
	"io"
)

// Envelope is a header + payload wrapper for a single frame.
type Envelope struct {
	Header  Header
	Payload []byte
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint16) bool { return (e.Header.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint16, on bool) {
	if on {
		e.Header.Flags |= flag
	} else {
		e.Header.Flags &^= flag
	}
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
	if len(e.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d", ErrTooLarge, len(e.Payload))
	}
	if e.Header.Version == 0 {
		e.Header.Version = Version
	}
	e.Header.PayloadLen = uint32(len(e.Payload))
	out := make([]byte, HeaderSize+len(e.Payload))
	e.Header.put(out)
	copy(out[HeaderSize:], e.Payload)
	return out, nil
}

// DecodeFrame parses a single frame from buf. The payload is copied.
func (e *Envelope) DecodeFrame(buf []byte) error {
	if err := e.Header.UnmarshalBinary(buf); err != nil {
		return err
	}
	need := int(e.Header.PayloadLen)
	if need > MaxPayload {
		return fmt.Errorf("%w: %d", ErrTooLarge, need)
	}
	if HeaderSize+need > len(buf) {
		return io.ErrUnexpectedEOF
	}
	e.Payload = append(e.Payload[:0], buf[HeaderSize:HeaderSize+need]...)
	return nil
}

// PeekType returns the message type of a frame without decoding it.
func PeekType(frame []byte) (uint8, error) {
	if len(frame) < HeaderSize {
		return MsgUnknown, ErrShortFrame
	}
	if frame[0] != magic0 || frame[1] != magic1 {
		return MsgUnknown, ErrBadMagic
	}
	return frame[3], nil
}
