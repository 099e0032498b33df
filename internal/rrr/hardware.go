package rrr

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/protocol/schema"
)

// HardwareConn is the hardware end of the channel.
type HardwareConn struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits

	wmu sync.Mutex
	seq uint64
}

func NewHardwareConn(c net.Conn, limits frame.Limits) *HardwareConn {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &HardwareConn{conn: c, reader: bufio.NewReader(c), limits: limits}
}

// ReadRequest blocks for the next software request.
func (h *HardwareConn) ReadRequest() (Message, error) {
	m, err := ReadMessage(h.reader, h.limits)
	if err != nil {
		return Message{}, err
	}
	if m.Type != schema.MsgCheckChannelReq && m.Type != schema.MsgScanReq {
		return Message{}, fmt.Errorf("rrr: unexpected %s from software", schema.Name(m.Type))
	}
	return m, nil
}

func (h *HardwareConn) CheckChannelRsp(value uint8) error {
	return h.write(Message{Type: schema.MsgCheckChannelRsp, Value: value})
}

// Send delivers one byte of the current record; eom marks its last byte.
func (h *HardwareConn) Send(value uint8, eom bool) error {
	m := Message{Type: schema.MsgSend, Value: value}
	if eom {
		m.EOM = 1
	}
	return h.write(m)
}

// SendRecord sends msg byte by byte with eom on the last one.
func (h *HardwareConn) SendRecord(msg []byte) error {
	for i, b := range msg {
		if err := h.Send(b, i == len(msg)-1); err != nil {
			return err
		}
	}
	return nil
}

func (h *HardwareConn) Done() error {
	return h.write(Message{Type: schema.MsgDone})
}

func (h *HardwareConn) write(m Message) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()
	h.seq++
	m.Sequence = h.seq
	b, err := EncodeMessage(m, h.limits)
	if err != nil {
		return err
	}
	if _, err := h.conn.Write(b); err != nil {
		return fmt.Errorf("rrr: write %s: %w", schema.Name(m.Type), err)
	}
	return nil
}

func (h *HardwareConn) Close() error {
	return h.conn.Close()
}
