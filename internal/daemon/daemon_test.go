package daemon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/leapscan/internal/config"
	"github.com/danmuck/leapscan/internal/hwsim"
	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/danmuck/leapscan/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const (
	uidBlock = 0x00300000
	uidQueue = uidBlock | 1
	uidConns = uidBlock | 2
)

const report = "    OK\n" +
	"  Soft connection state [mem0]:\n" +
	"\tqueue:  not full / not empty\n"

func testStrings(t *testing.T) *strtab.Table {
	t.Helper()
	tbl := strtab.New()
	require.NoError(t, tbl.Add(uidBlock, "mem0"))
	require.NoError(t, tbl.Add(uidQueue, "queue"))
	require.NoError(t, tbl.Add(uidConns, "C:1"))
	return tbl
}

type rig struct {
	daemon *Daemon
	hwSide net.Conn
	fatal  chan error
}

func newRig(t *testing.T, cfg config.DaemonConfig) *rig {
	t.Helper()
	layout := strtab.DefaultLayout()
	sim, err := hwsim.New(hwsim.Config{
		Layout:  layout,
		Records: []hwsim.Record{{Tag: uidConns, Fields: hwsim.ConnectionEntry(layout, 1, true, true)}},
	})
	require.NoError(t, err)

	swSide, hwSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		_ = sim.ServeConn(ctx, hwSide)
	}()

	conn := rrr.NewConn(swSide, frame.DefaultLimits())
	fatal := make(chan error, 4)
	d, err := New(cfg, conn, testStrings(t),
		WithFatal(func(err error) { fatal <- err }),
		WithDefaultSink(io.Discard),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
		<-simDone
	})
	return &rig{daemon: d, hwSide: hwSide, fatal: fatal}
}

func baseConfig() config.DaemonConfig {
	cfg := config.DefaultDaemonConfig()
	cfg.DebugScan.LiveEnabled = false
	cfg.AdminAddr = ""
	return cfg
}

func TestOnceWritesReport(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, baseConfig())

	var out bytes.Buffer
	require.NoError(t, r.daemon.Once(&out))
	require.True(t, strings.HasPrefix(out.String(), "DEBUG SCAN:  ("), out.String())
	require.True(t, strings.HasSuffix(out.String(), report), out.String())
	require.Empty(t, r.fatal)
}

func TestRunServesLivePipe(t *testing.T) {
	testlog.Start(t)
	cfg := baseConfig()
	cfg.DebugScan.LiveEnabled = true
	cfg.DebugScan.LivePath = filepath.Join(t.TempDir(), "debug-scan")
	cfg.DebugScan.LivePause = 100 * time.Millisecond
	r := newRig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- r.daemon.Run(ctx) }()

	require.Eventually(t, func() bool {
		fi, err := os.Stat(cfg.DebugScan.LivePath)
		return err == nil && fi.Mode()&os.ModeNamedPipe != 0
	}, 5*time.Second, 10*time.Millisecond)

	f, err := os.Open(cfg.DebugScan.LivePath)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.True(t, strings.HasSuffix(string(got), report), string(got))

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	_, err = os.Stat(cfg.DebugScan.LivePath)
	require.True(t, errors.Is(err, os.ErrNotExist), "pipe left behind: %v", err)
}

func TestRunEndsWhenChannelCloses(t *testing.T) {
	testlog.Start(t)
	r := newRig(t, baseConfig())

	errc := make(chan error, 1)
	go func() { errc <- r.daemon.Run(context.Background()) }()

	require.NoError(t, r.hwSide.Close())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after channel close")
	}
	require.Empty(t, r.fatal, "idle channel loss is not fatal")
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	testlog.Start(t)
	_, err := New(baseConfig(), nil, strtab.New())
	require.Error(t, err)

	swSide, hwSide := net.Pipe()
	defer hwSide.Close()
	conn := rrr.NewConn(swSide, frame.DefaultLimits())
	defer conn.Close()
	_, err = New(baseConfig(), conn, nil)
	require.Error(t, err)
}
