// Package wire encodes the messages exchanged between group members.
//
// Messages use the protobuf wire format through protowire, without generated
// code: every message is a flat list of numbered fields, and unknown fields
// are skipped so newer nodes can add fields without breaking older ones.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned when a message cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// MessageType selects the responder that handles a request.
type MessageType uint8

const (
	// MsgSearch asks a node whether it implements a metadata key.
	MsgSearch MessageType = 1
	// MsgPing is a liveness probe answered with an empty payload.
	MsgPing MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MsgSearch:
		return "search"
	case MsgPing:
		return "ping"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// FrameKind distinguishes requests from replies.
type FrameKind uint8

const (
	KindRequest FrameKind = 1
	KindReply   FrameKind = 2
)

// Frame is the envelope carried by the group transport.
type Frame struct {
	Kind      FrameKind
	RequestID string
	From      string
	Type      MessageType
	Payload   []byte
	// Error is set on replies whose handler failed.
	Error string
	// ReplyTo is the requester's host:port, used to answer a member that is
	// not yet in the responder's view.
	ReplyTo string
}

const (
	fieldKind      protowire.Number = 1
	fieldRequestID protowire.Number = 2
	fieldFrom      protowire.Number = 3
	fieldType      protowire.Number = 4
	fieldPayload   protowire.Number = 5
	fieldError     protowire.Number = 6
	fieldReplyTo   protowire.Number = 7
)

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	b := make([]byte, 0, 32+len(f.RequestID)+len(f.From)+len(f.Payload)+len(f.Error)+len(f.ReplyTo))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	b = appendString(b, fieldRequestID, f.RequestID)
	b = appendString(b, fieldFrom, f.From)
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	b = appendString(b, fieldError, f.Error)
	b = appendString(b, fieldReplyTo, f.ReplyTo)
	return b
}

// DecodeFrame parses a frame produced by Encode.
func DecodeFrame(b []byte) (*Frame, error) {
	f := &Frame{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.Kind = FrameKind(x)
			return n, nil
		case num == fieldRequestID && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.RequestID = s
			return n, nil
		case num == fieldFrom && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.From = s
			return n, nil
		case num == fieldType && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.Type = MessageType(x)
			return n, nil
		case num == fieldPayload && typ == protowire.BytesType:
			p, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				f.Payload = append([]byte(nil), p...)
			}
			return n, nil
		case num == fieldError && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.Error = s
			return n, nil
		case num == fieldReplyTo && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.ReplyTo = s
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind != KindRequest && f.Kind != KindReply {
		return nil, fmt.Errorf("decode frame: unknown kind %d: %w", f.Kind, ErrMalformed)
	}
	if f.RequestID == "" {
		return nil, fmt.Errorf("decode frame: missing request id: %w", ErrMalformed)
	}
	return f, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walk iterates over the fields of b. fn consumes one field value and returns
// the number of bytes used, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
