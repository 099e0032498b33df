// Package daemon assembles the scan service: the RRR channel reader, the
// scan coordinator, the live pipe endpoint and the admin API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/leapscan/internal/admin"
	"github.com/danmuck/leapscan/internal/config"
	"github.com/danmuck/leapscan/internal/debugscan"
	"github.com/danmuck/leapscan/internal/observability"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrChannelClosed = errors.New("daemon: hardware channel closed")

type Option func(*debugscan.Config)

// WithFatal replaces the coordinator's fatal hook.
func WithFatal(fn func(error)) Option {
	return func(c *debugscan.Config) { c.Fatal = fn }
}

// WithDefaultSink sets where output outside a session goes.
func WithDefaultSink(w io.Writer) Option {
	return func(c *debugscan.Config) { c.DefaultSink = w }
}

type Daemon struct {
	cfg    config.DaemonConfig
	conn   *rrr.Conn
	coord  *debugscan.Coordinator
	live   *debugscan.LiveEndpoint
	admin  *admin.Server
	logger zerolog.Logger
}

// New builds the coordinator before anything can reach it, so scanners
// registered on Coordinator() are in place before Run starts serving.
func New(cfg config.DaemonConfig, conn *rrr.Conn, strings *strtab.Table, opts ...Option) (*Daemon, error) {
	if conn == nil {
		return nil, debugscan.ErrNilChannel
	}
	scanCfg := debugscan.DefaultConfig()
	scanCfg.Sentinel = cfg.DebugScan.Sentinel
	scanCfg.WatchdogTimeout = cfg.DebugScan.WatchdogTimeout
	scanCfg.Layout = cfg.Layout
	for _, opt := range opts {
		opt(&scanCfg)
	}

	var table debugscan.StringTable
	if strings != nil {
		table = strings
	}
	coord, err := debugscan.New(conn, table, scanCfg)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:    cfg,
		conn:   conn,
		coord:  coord,
		logger: observability.Component("daemon"),
	}
	if cfg.DebugScan.LiveEnabled {
		liveCfg := debugscan.DefaultLiveConfig()
		liveCfg.Path = cfg.DebugScan.LivePath
		liveCfg.Pause = cfg.DebugScan.LivePause
		d.live = debugscan.NewLiveEndpoint(coord, liveCfg)
	}
	if cfg.AdminAddr != "" {
		d.admin = admin.New(cfg.AdminAddr, coord)
	}
	return d, nil
}

func (d *Daemon) Coordinator() *debugscan.Coordinator {
	return d.coord
}

// Run serves until ctx ends or the channel closes. The channel reader is
// stopped only after the live endpoint and admin server have returned, so
// a scan already in progress still receives its callbacks.
func (d *Daemon) Run(ctx context.Context) error {
	loop := d.startServe()
	defer loop.stop()

	g, gctx := errgroup.WithContext(ctx)
	if d.live != nil {
		g.Go(func() error { return d.live.Run(gctx) })
	}
	if d.admin != nil {
		g.Go(func() error { return d.admin.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-loop.done:
			if loop.err != nil {
				return fmt.Errorf("%w: %w", ErrChannelClosed, loop.err)
			}
			return ErrChannelClosed
		}
	})

	d.logger.Info().
		Bool("live", d.live != nil).
		Bool("admin", d.admin != nil).
		Str("rrr", d.conn.RemoteAddr().String()).
		Msg("daemon.Daemon.Run start")
	err := g.Wait()
	d.logger.Info().Err(err).Msg("daemon.Daemon.Run stop")
	return err
}

// Once runs a single scan into w.
func (d *Daemon) Once(w io.Writer) error {
	loop := d.startServe()
	defer loop.stop()
	return d.coord.Scan(w)
}

type serveLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (d *Daemon) startServe() *serveLoop {
	ctx, cancel := context.WithCancel(context.Background())
	l := &serveLoop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		l.err = d.conn.Serve(ctx, d.coord)
		if ctx.Err() != nil {
			l.err = nil
			return
		}
		d.logger.Warn().Err(l.err).Msg("daemon.Daemon channel reader stopped")
		d.coord.ChannelClosed(l.err)
	}()
	return l
}

func (l *serveLoop) stop() {
	l.cancel()
	<-l.done
}
