// Package rrr is the request/response channel to the hardware side of the
// DEBUG_SCAN service.
//
// Conn is the software end: it issues requests and dispatches inbound
// method calls, in order and once each, to a DebugScanServer. HardwareConn
// is the other end, used by the simulator.
package rrr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("rrr: connection closed")

// DebugScanServer receives the hardware to software calls.
type DebugScanServer interface {
	CheckChannelRsp(value uint8)
	Send(value uint8, eom bool)
	Done()
}

type Conn struct {
	conn   net.Conn
	limits frame.Limits

	wmu    sync.Mutex
	seq    atomic.Uint64
	closed atomic.Bool
}

func NewConn(c net.Conn, limits frame.Limits) *Conn {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &Conn{conn: c, limits: limits}
}

// CheckChannelReq sends the liveness probe carrying value.
func (c *Conn) CheckChannelReq(value uint8) error {
	return c.write(Message{Type: schema.MsgCheckChannelReq, Value: value})
}

// ScanReq asks hardware to stream its scan chain.
func (c *Conn) ScanReq() error {
	return c.write(Message{Type: schema.MsgScanReq})
}

func (c *Conn) write(m Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	m.Sequence = c.seq.Add(1)
	b, err := EncodeMessage(m, c.limits)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("rrr: write %s: %w", schema.Name(m.Type), err)
	}
	log.Trace().Str("method", schema.Name(m.Type)).Uint64("seq", m.Sequence).Msg("rrr.Conn write")
	return nil
}

// Serve reads inbound calls until EOF, a read error, or ctx ends. It is the
// only goroutine that calls srv, so callbacks never overlap. A clean EOF
// returns nil.
func (c *Conn) Serve(ctx context.Context, srv DebugScanServer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	reader := bufio.NewReader(c.conn)
	for {
		m, err := ReadMessage(reader, c.limits)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || c.closed.Load() {
				return nil
			}
			if errors.Is(err, ErrWrongService) {
				log.Warn().Err(err).Msg("rrr.Conn.Serve skip frame")
				continue
			}
			return fmt.Errorf("rrr: serve: %w", err)
		}

		switch m.Type {
		case schema.MsgCheckChannelRsp:
			srv.CheckChannelRsp(m.Value)
		case schema.MsgSend:
			srv.Send(m.Value, m.EOM != 0)
		case schema.MsgDone:
			srv.Done()
		default:
			log.Warn().Str("method", schema.Name(m.Type)).Msg("rrr.Conn.Serve unexpected request from hardware")
		}
	}
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
