// Package schema lists the RRR methods of the DEBUG_SCAN service and the
// fields each one must carry.
package schema

import (
	"fmt"

	"github.com/danmuck/leapscan/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// ServiceDebugScan is the RRR service id of the debug scan service.
const ServiceDebugScan uint16 = 3

// Message types. Requests flow software to hardware, the rest hardware to
// software.
const (
	MsgCheckChannelReq uint32 = 1
	MsgScanReq         uint32 = 2
	MsgCheckChannelRsp uint32 = 3
	MsgSend            uint32 = 4
	MsgDone            uint32 = 5
)

const (
	FieldValue uint16 = 1
	FieldEOM   uint16 = 2
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgCheckChannelReq: {{FieldValue, tlv.TypeU8}},
	MsgScanReq:         {{FieldValue, tlv.TypeU8}},
	MsgCheckChannelRsp: {{FieldValue, tlv.TypeU8}},
	MsgSend: {
		{FieldValue, tlv.TypeU8},
		{FieldEOM, tlv.TypeU8},
	},
	MsgDone: {{FieldValue, tlv.TypeU8}},
}

var names = map[uint32]string{
	MsgCheckChannelReq: "CheckChannelReq",
	MsgScanReq:         "ScanReq",
	MsgCheckChannelRsp: "CheckChannelRsp",
	MsgSend:            "Send",
	MsgDone:            "Done",
}

// Name returns the method name for logs.
func Name(messageType uint32) string {
	if n, ok := names[messageType]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", messageType)
}

// Validate enforces required fields and their types. Unknown fields are
// ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Str("method", Name(messageType)).Msg("schema.Validate ok")
	return nil
}
