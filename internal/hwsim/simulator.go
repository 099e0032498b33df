// Package hwsim plays the hardware end of the DEBUG_SCAN service so the
// scan daemon can run without an FPGA attached.
package hwsim

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/danmuck/leapscan/internal/observability"
	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/protocol/schema"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/rs/zerolog"
)

type Config struct {
	Layout strtab.Layout
	// EchoOffset is added to the liveness sentinel before it is echoed.
	// Any non-zero value makes every probe fail.
	EchoOffset uint8
	// StallLiveness drops liveness probes on the floor.
	StallLiveness bool
	Records       []Record
	Limits        frame.Limits
}

type Simulator struct {
	cfg    Config
	scans  atomic.Int64
	logger zerolog.Logger
}

func New(cfg Config) (*Simulator, error) {
	if cfg.Layout == (strtab.Layout{}) {
		cfg.Layout = strtab.DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, logger: observability.Component("hwsim")}, nil
}

// Scans reports how many scan requests have been answered.
func (s *Simulator) Scans() int64 { return s.scans.Load() }

// Serve accepts software connections until ctx ends.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("hwsim listening")
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			if err := s.ServeConn(ctx, conn); err != nil {
				s.logger.Warn().Err(err).Msg("hwsim connection ended")
			}
		}()
	}
}

// ServeConn answers requests on one connection until it closes.
func (s *Simulator) ServeConn(ctx context.Context, c net.Conn) error {
	hw := rrr.NewHardwareConn(c, s.cfg.Limits)
	defer hw.Close()
	stop := context.AfterFunc(ctx, func() { _ = hw.Close() })
	defer stop()

	remote := c.RemoteAddr().String()
	s.logger.Info().Str("remote", remote).Msg("hwsim software attached")
	for {
		req, err := hw.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				s.logger.Info().Str("remote", remote).Msg("hwsim software detached")
				return nil
			}
			return err
		}

		switch req.Type {
		case schema.MsgCheckChannelReq:
			if s.cfg.StallLiveness {
				s.logger.Debug().Uint8("value", req.Value).Msg("hwsim stalling liveness probe")
				continue
			}
			if err := hw.CheckChannelRsp(req.Value + s.cfg.EchoOffset); err != nil {
				return err
			}
		case schema.MsgScanReq:
			if err := s.streamScan(hw); err != nil {
				return err
			}
		}
	}
}

func (s *Simulator) streamScan(hw *rrr.HardwareConn) error {
	for _, r := range s.cfg.Records {
		if err := hw.SendRecord(r.Encode(s.cfg.Layout)); err != nil {
			return err
		}
	}
	n := s.scans.Add(1)
	s.logger.Debug().Int64("scan", n).Int("records", len(s.cfg.Records)).Msg("hwsim scan streamed")
	return hw.Done()
}
