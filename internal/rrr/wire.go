package rrr

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/protocol/schema"
	"github.com/danmuck/leapscan/internal/protocol/tlv"
)

var ErrWrongService = errors.New("rrr: frame for another service")

// Message is one decoded DEBUG_SCAN method call.
type Message struct {
	Type     uint32
	Sequence uint64
	Value    uint8
	EOM      uint8
}

func (m Message) fields() []tlv.Field {
	fields := []tlv.Field{tlv.U8(schema.FieldValue, m.Value)}
	if m.Type == schema.MsgSend {
		fields = append(fields, tlv.U8(schema.FieldEOM, m.EOM))
	}
	return fields
}

// EncodeMessage validates m and returns its complete frame bytes.
func EncodeMessage(m Message, limits frame.Limits) ([]byte, error) {
	fields := m.fields()
	if err := schema.Validate(m.Type, fields); err != nil {
		return nil, err
	}
	var flags uint32
	if m.Type != schema.MsgCheckChannelReq && m.Type != schema.MsgScanReq {
		flags = frame.FlagIsResponse
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			Service:     schema.ServiceDebugScan,
			Sequence:    m.Sequence,
			MessageType: m.Type,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, limits)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadMessage reads and validates the next frame from r.
func ReadMessage(r io.Reader, limits frame.Limits) (Message, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(f)
}

func DecodeMessage(f frame.Frame) (Message, error) {
	if f.Header.Service != schema.ServiceDebugScan {
		return Message{}, fmt.Errorf("%w: service=%d", ErrWrongService, f.Header.Service)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return Message{}, err
	}
	m := Message{Type: f.Header.MessageType, Sequence: f.Header.Sequence}
	valueField, _ := tlv.GetField(fields, schema.FieldValue)
	if m.Value, err = tlv.AsU8(valueField); err != nil {
		return Message{}, err
	}
	if eomField, ok := tlv.GetField(fields, schema.FieldEOM); ok {
		if m.EOM, err = tlv.AsU8(eomField); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}
