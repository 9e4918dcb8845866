package protocol

import (
	"errors"
	"fmt"
	"strings"

	"homerun/pkg/protocol/codec"
)

// Format is a compact on-wire indicator of payload encoding.
// It is carried as the first byte of Envelope.Payload.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return ContentJSON
	case FormatCBOR:
		return ContentCBOR
	case FormatProto:
		return ContentProto
	default:
		return ContentUnknown
	}
}

// ParseFormat maps a config name (json, cbor, proto) onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "", "cbor":
		return FormatCBOR, nil
	case "proto", "protobuf":
		return FormatProto, nil
	default:
		return FormatUnknown, fmt.Errorf("unknown body format %q", s)
	}
}

// CodecFor returns a codec instance for a given format.
func CodecFor(r *codec.Registry, f Format) (codec.Codec, error) {
	switch f {
	case FormatJSON:
		if c := r.Get(ContentJSON); c != nil {
			return c, nil
		}
		return codec.JSON(), nil
	case FormatCBOR:
		if c := r.Get(ContentCBOR); c != nil {
			return c, nil
		}
		return codec.CBOR()
	case FormatProto:
		if c := r.Get(ContentProto); c != nil {
			return c, nil
		}
		return codec.Proto(), nil
	default:
		return nil, fmt.Errorf("unknown format: %d", f)
	}
}

// EncodeBody serializes v using the codec for f and prefixes the payload
// with a single format byte.
func EncodeBody(r *codec.Registry, f Format, v any) ([]byte, error) {
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(f)
	copy(out[1:], b)
	return out, nil
}

// DecodeBody decodes payload produced by EncodeBody into v.
func DecodeBody(r *codec.Registry, payload []byte, v any) (Format, error) {
	if len(payload) == 0 {
		return FormatUnknown, errors.New("empty payload")
	}
	f := Format(payload[0])
	c, err := CodecFor(r, f)
	if err != nil {
		return f, err
	}
	if err := c.Unmarshal(payload[1:], v); err != nil {
		return f, fmt.Errorf("decode %s body: %w", f, err)
	}
	return f, nil
}

// BuildFrame encodes v with format f and wraps it in a complete frame.
func BuildFrame(r *codec.Registry, h Header, f Format, v any) ([]byte, error) {
	body, err := EncodeBody(r, f, v)
	if err != nil {
		return nil, err
	}
	e := Envelope{Header: h, Payload: body}
	return e.EncodeFrame()
}

// ParseFrame decodes frame and its body into v, returning the header.
func ParseFrame(r *codec.Registry, frame []byte, v any) (Header, error) {
	var e Envelope
	if err := e.DecodeFrame(frame); err != nil {
		return Header{}, err
	}
	if _, err := DecodeBody(r, e.Payload, v); err != nil {
		return e.Header, err
	}
	return e.Header, nil
}
