// Package debugscan triggers hardware debug scans over the RRR channel and
// renders the returned records as text.
//
// A Coordinator runs at most one scan at a time. Each scan probes the
// channel with a sentinel value under a watchdog, requests the scan, decodes
// records as hardware streams them, then runs any registered Scanners
// before releasing the next caller.
package debugscan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/leapscan/internal/bitbuf"
	"github.com/danmuck/leapscan/internal/clock"
	"github.com/danmuck/leapscan/internal/observability"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSentinel is the liveness probe value hardware must echo.
const DefaultSentinel uint8 = 27

var (
	ErrTransport   = errors.New("debugscan: channel request failed")
	ErrNilChannel  = errors.New("debugscan: channel is nil")
	ErrNilStrings  = errors.New("debugscan: string table is nil")
	ErrNilScanner  = errors.New("debugscan: scanner is nil")
	ErrScannerName = errors.New("debugscan: scanner name already registered")
)

// Channel is the software to hardware half of the DEBUG_SCAN service.
type Channel interface {
	CheckChannelReq(value uint8) error
	ScanReq() error
}

type State int32

const (
	StateIdle State = iota
	StateLivenessProbe
	StateStreaming
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLivenessProbe:
		return "liveness_probe"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	Sentinel        uint8
	WatchdogTimeout time.Duration
	Layout          strtab.Layout
	Clock           clock.Clock
	// DefaultSink receives callbacks that arrive outside a session's
	// sink. Defaults to stdout.
	DefaultSink io.Writer
	// Fatal handles unrecoverable conditions. The default logs and exits.
	Fatal func(error)
}

func DefaultConfig() Config {
	return Config{
		Sentinel:        DefaultSentinel,
		WatchdogTimeout: DefaultWatchdogTimeout,
		Layout:          strtab.DefaultLayout(),
		Clock:           clock.Real(),
		DefaultSink:     os.Stdout,
		Fatal:           exitFatal,
	}
}

func exitFatal(err error) {
	log.Fatal().Err(err).Msg("debugscan fatal")
}

type Coordinator struct {
	cfg      Config
	channel  Channel
	decoder  Decoder
	watchdog *Watchdog
	logger   zerolog.Logger

	// scanMu is held for a whole session.
	scanMu sync.Mutex
	state  atomic.Int32

	// sessMu guards the session fields below. Callbacks arrive on the
	// transport goroutine while Scan waits.
	sessMu   sync.Mutex
	sink     io.Writer
	sinkErr  error
	buf      bitbuf.Buffer
	guard    *Guard
	session  string
	outcome  string
	nRecords int
	scanErr  error

	doneMu       sync.Mutex
	doneCond     *sync.Cond
	doneReceived bool

	regMu    sync.Mutex
	scanners []Scanner
}

func New(channel Channel, strings StringTable, cfg Config) (*Coordinator, error) {
	if channel == nil {
		return nil, ErrNilChannel
	}
	if strings == nil {
		return nil, ErrNilStrings
	}
	d := DefaultConfig()
	if cfg.Sentinel == 0 {
		cfg.Sentinel = d.Sentinel
	}
	if cfg.Layout == (strtab.Layout{}) {
		cfg.Layout = d.Layout
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = d.Clock
	}
	if cfg.DefaultSink == nil {
		cfg.DefaultSink = d.DefaultSink
	}
	if cfg.Fatal == nil {
		cfg.Fatal = d.Fatal
	}

	c := &Coordinator{
		cfg:     cfg,
		channel: channel,
		decoder: Decoder{Strings: strings, Layout: cfg.Layout},
		logger:  observability.Component("debugscan"),
		sink:    cfg.DefaultSink,
	}
	c.doneCond = sync.NewCond(&c.doneMu)
	c.watchdog = NewWatchdog(cfg.Clock, cfg.WatchdogTimeout, func() {
		c.fatal(fmt.Errorf("%w: no liveness reply within %s", ErrChannelLost, c.watchdog.Timeout()))
	})
	return c, nil
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) fatal(err error) {
	c.logger.Error().Err(err).Str("state", c.State().String()).Msg("debugscan.Coordinator fatal")
	c.cfg.Fatal(err)
}

// Scan runs one complete debug scan, writing rendered output to sink, and
// returns once hardware reports completion. Concurrent callers queue.
// A failed liveness probe is reported in the output, not as an error.
func (c *Coordinator) Scan(sink io.Writer) error {
	if sink == nil {
		sink = c.cfg.DefaultSink
	}
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	start := c.cfg.Clock.Now()

	c.doneMu.Lock()
	c.doneReceived = false
	c.doneMu.Unlock()

	c.sessMu.Lock()
	c.sink = sink
	c.sinkErr = nil
	c.buf.Reset()
	c.session = uuid.NewString()
	c.outcome = ""
	c.nRecords = 0
	c.scanErr = nil
	session := c.session
	c.printf("DEBUG SCAN:  (%s)\n", start.Format("2006-01-02 15:04:05"))
	c.state.Store(int32(StateLivenessProbe))
	c.guard = c.watchdog.Arm()
	c.sessMu.Unlock()

	logger := c.logger.With().Str("session", session).Logger()
	logger.Info().Msg("debugscan.Coordinator.Scan start")

	if err := c.channel.CheckChannelReq(c.cfg.Sentinel); err != nil {
		c.sessMu.Lock()
		c.guard.Disarm()
		c.abortLocked(err)
		c.sessMu.Unlock()
		c.complete()
	}

	c.doneMu.Lock()
	for !c.doneReceived {
		c.doneCond.Wait()
	}
	c.doneMu.Unlock()

	c.sessMu.Lock()
	outcome := c.outcome
	scanErr := c.scanErr
	c.sessMu.Unlock()

	if outcome == observability.OutcomeOK {
		for _, s := range c.Scanners() {
			if err := s.DebugScan(sink); err != nil {
				logger.Warn().Err(err).Str("scanner", s.Name()).Msg("debugscan.Coordinator.Scan scanner failed")
			}
		}
	}

	c.sessMu.Lock()
	records := c.nRecords
	sinkErr := c.sinkErr
	c.sink = c.cfg.DefaultSink
	c.state.Store(int32(StateIdle))
	c.sessMu.Unlock()

	elapsed := c.cfg.Clock.Now().Sub(start)
	observability.RecordScan(outcome, elapsed)
	event := logger.Info()
	if outcome != observability.OutcomeOK {
		event = logger.Warn()
	}
	if sinkErr != nil {
		event = event.AnErr("sink_err", sinkErr)
	}
	event.Str("outcome", outcome).Int("records", records).Dur("elapsed", elapsed).
		Msg("debugscan.Coordinator.Scan done")
	return scanErr
}

// CheckChannelRsp handles the liveness reply.
func (c *Coordinator) CheckChannelRsp(value uint8) {
	c.sessMu.Lock()
	if c.State() != StateLivenessProbe {
		c.sessMu.Unlock()
		c.logger.Warn().Uint8("value", value).Str("state", c.State().String()).
			Msg("debugscan.Coordinator.CheckChannelRsp outside liveness probe, dropped")
		return
	}
	if c.guard.Disarm() == TimedOut {
		c.sessMu.Unlock()
		return
	}

	if value != c.cfg.Sentinel {
		c.printf("    FAILED!  (%d)\n", value)
		c.outcome = observability.OutcomeLivenessFailed
		c.state.Store(int32(StateDraining))
		c.sessMu.Unlock()
		c.complete()
		return
	}

	c.printf("    OK\n")
	c.state.Store(int32(StateStreaming))
	c.sessMu.Unlock()

	if err := c.channel.ScanReq(); err != nil {
		c.sessMu.Lock()
		c.abortLocked(err)
		c.sessMu.Unlock()
		c.complete()
	}
}

// Send appends one byte of the current record. On eom the record is
// decoded into the session sink.
func (c *Coordinator) Send(value uint8, eom bool) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.State() != StateStreaming {
		c.logger.Warn().Uint8("value", value).Str("state", c.State().String()).
			Msg("debugscan.Coordinator.Send outside streaming, dropped")
		return
	}

	c.buf.Put(value)
	if !eom {
		return
	}

	var rendered bytes.Buffer
	kind, err := c.decoder.Decode(&c.buf, &rendered)
	c.buf.Reset()
	if err != nil {
		c.fatal(err)
		return
	}
	c.write(rendered.Bytes())
	c.nRecords++
	observability.RecordRecord(kind)
}

// Done handles hardware's end of scan.
func (c *Coordinator) Done() {
	c.sessMu.Lock()
	if c.State() == StateIdle {
		c.sessMu.Unlock()
		c.logger.Warn().Msg("debugscan.Coordinator.Done while idle, dropped")
		return
	}
	if c.State() == StateLivenessProbe {
		c.guard.Disarm()
		if c.outcome == "" {
			c.outcome = observability.OutcomeLivenessFailed
		}
	}
	if c.outcome == "" {
		c.outcome = observability.OutcomeOK
	}
	c.state.Store(int32(StateDraining))
	c.sessMu.Unlock()
	c.complete()
}

// ChannelClosed reports that the transport stopped delivering callbacks.
// A session still waiting on hardware can no longer finish, which is
// fatal. Once hardware is done with the session (Draining) nothing more is
// owed over the channel.
func (c *Coordinator) ChannelClosed(err error) {
	switch c.State() {
	case StateIdle, StateDraining:
		return
	}
	if err == nil {
		err = io.EOF
	}
	c.fatal(fmt.Errorf("%w: %w", ErrChannelLost, err))
}

func (c *Coordinator) complete() {
	c.doneMu.Lock()
	c.doneReceived = true
	c.doneCond.Signal()
	c.doneMu.Unlock()
}

func (c *Coordinator) abortLocked(err error) {
	c.printf("    FAILED!  (%v)\n", err)
	c.outcome = observability.OutcomeTransportError
	c.scanErr = fmt.Errorf("%w: %w", ErrTransport, err)
	c.state.Store(int32(StateDraining))
}

func (c *Coordinator) printf(format string, args ...any) {
	c.write(fmt.Appendf(nil, format, args...))
}

// write keeps the first sink error and carries on, so the hardware stream
// is always consumed even if the reader went away.
func (c *Coordinator) write(p []byte) {
	if c.sinkErr != nil {
		return
	}
	if _, err := c.sink.Write(p); err != nil {
		c.sinkErr = err
		c.logger.Warn().Err(err).Str("session", c.session).Msg("debugscan.Coordinator sink write failed")
	}
}
