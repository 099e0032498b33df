package debugscan

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danmuck/leapscan/internal/clock"
	"github.com/danmuck/leapscan/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	DefaultLivePath  = "/tmp/leap-live-debug/debug-scan"
	DefaultLivePause = 10 * time.Second
	// MinLivePause keeps the next open from attaching to a reader that has
	// not yet seen EOF from the previous scan.
	MinLivePause = 50 * time.Millisecond

	defaultUnblockInterval = 50 * time.Millisecond
)

// ScanRunner is what the live endpoint drives; *Coordinator satisfies it.
type ScanRunner interface {
	Scan(sink io.Writer) error
}

type LiveConfig struct {
	Path string
	// Pause separates one scan's close from the next open so a slow
	// reader sees its EOF before a new writer attaches. Values below
	// MinLivePause are raised to it.
	Pause time.Duration
	Clock clock.Clock
	// UnblockInterval paces reader opens used to release a blocked writer
	// open during shutdown.
	UnblockInterval time.Duration
}

func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		Path:            DefaultLivePath,
		Pause:           DefaultLivePause,
		Clock:           clock.Real(),
		UnblockInterval: defaultUnblockInterval,
	}
}

// LiveEndpoint serves scans through a named pipe: every reader that opens
// the pipe receives one full scan followed by EOF.
type LiveEndpoint struct {
	cfg    LiveConfig
	runner ScanRunner
	logger zerolog.Logger
}

func NewLiveEndpoint(runner ScanRunner, cfg LiveConfig) *LiveEndpoint {
	d := DefaultLiveConfig()
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.Pause < MinLivePause {
		cfg.Pause = MinLivePause
	}
	if cfg.Clock == nil {
		cfg.Clock = d.Clock
	}
	if cfg.UnblockInterval <= 0 {
		cfg.UnblockInterval = d.UnblockInterval
	}
	return &LiveEndpoint{
		cfg:    cfg,
		runner: runner,
		logger: observability.Component("debugscan.live").With().Str("path", cfg.Path).Logger(),
	}
}

func (l *LiveEndpoint) Path() string { return l.cfg.Path }

// Run serves readers until ctx ends, then removes the pipe. A scan already
// streaming to a reader is finished before Run returns.
func (l *LiveEndpoint) Run(ctx context.Context) error {
	l.makeFifo()
	defer l.removeFifo()

	loopDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.unblockOnCancel(ctx, loopDone)
	}()
	defer wg.Wait()
	defer close(loopDone)

	l.logger.Info().Msg("debugscan.LiveEndpoint.Run start")
	for {
		if ctx.Err() != nil {
			break
		}
		f, err := os.OpenFile(l.cfg.Path, os.O_WRONLY, 0)
		if err != nil {
			l.logger.Warn().Err(err).Msg("debugscan.LiveEndpoint open failed")
			if !l.pause(ctx) {
				break
			}
			continue
		}
		if ctx.Err() != nil {
			_ = f.Close()
			break
		}
		if !isPipe(f) {
			_ = f.Close()
			l.logger.Warn().Msg("debugscan.LiveEndpoint path is not a named pipe, not serving")
			if !l.pause(ctx) {
				break
			}
			continue
		}

		l.logger.Debug().Msg("debugscan.LiveEndpoint reader attached")
		if err := l.runner.Scan(f); err != nil {
			l.logger.Warn().Err(err).Msg("debugscan.LiveEndpoint scan failed")
		}
		if err := f.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("debugscan.LiveEndpoint close")
		}
		if !l.pause(ctx) {
			break
		}
	}
	l.logger.Info().Msg("debugscan.LiveEndpoint.Run stop")
	return nil
}

func (l *LiveEndpoint) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.cfg.Clock.After(l.cfg.Pause):
		return true
	}
}

func (l *LiveEndpoint) makeFifo() {
	if err := os.MkdirAll(filepath.Dir(l.cfg.Path), 0o755); err != nil {
		l.logger.Warn().Err(err).Msg("debugscan.LiveEndpoint mkdir failed")
	}
	err := unix.Mkfifo(l.cfg.Path, 0o755)
	switch {
	case err == nil:
	case errors.Is(err, unix.EEXIST):
		if fi, statErr := os.Lstat(l.cfg.Path); statErr == nil && fi.Mode()&os.ModeNamedPipe == 0 {
			l.logger.Warn().Str("mode", fi.Mode().String()).Msg("debugscan.LiveEndpoint path exists and is not a named pipe")
		}
	default:
		l.logger.Warn().Err(err).Msg("debugscan.LiveEndpoint mkfifo failed")
	}
}

func isPipe(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeNamedPipe != 0
}

// removeFifo only removes a named pipe; anything else at the path is not ours.
func (l *LiveEndpoint) removeFifo() {
	fi, err := os.Lstat(l.cfg.Path)
	if err != nil || fi.Mode()&os.ModeNamedPipe == 0 {
		return
	}
	if err := os.Remove(l.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn().Err(err).Msg("debugscan.LiveEndpoint remove failed")
	}
}

// unblockOnCancel waits for ctx to end, then keeps opening the pipe for
// reading without blocking so a writer stuck in open returns. It stops
// once the serve loop has exited.
func (l *LiveEndpoint) unblockOnCancel(ctx context.Context, loopDone <-chan struct{}) {
	select {
	case <-loopDone:
		return
	case <-ctx.Done():
	}

	ticker := l.cfg.Clock.NewTicker(l.cfg.UnblockInterval)
	defer ticker.Stop()
	for {
		if fd, err := unix.Open(l.cfg.Path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0); err == nil {
			_ = unix.Close(fd)
		}
		select {
		case <-loopDone:
			return
		case <-ticker.C:
		}
	}
}
