package schema

import (
	"testing"

	"github.com/danmuck/leapscan/internal/protocol/tlv"
	"github.com/danmuck/leapscan/internal/testutil/testlog"
)

func TestValidateSendRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U8(FieldValue, 0xA5), tlv.U8(FieldEOM, 1)}
	if err := Validate(MsgSend, fields); err != nil {
		t.Fatalf("validate send: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U8(FieldValue, 27),
		tlv.Bytes(9999, []byte{0x01}),
	}
	if err := Validate(MsgCheckChannelReq, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgSend, []tlv.Field{tlv.U8(FieldValue, 1)})
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldEOM || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgDone, []tlv.Field{tlv.U32(FieldValue, 1)})
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldValue || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
	if Name(99) != "unknown(99)" || Name(MsgScanReq) != "ScanReq" {
		t.Fatalf("names got=%q,%q", Name(99), Name(MsgScanReq))
	}
}
