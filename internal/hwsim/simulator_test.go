package hwsim

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/leapscan/internal/clock"
	"github.com/danmuck/leapscan/internal/debugscan"
	"github.com/danmuck/leapscan/internal/protocol/frame"
	"github.com/danmuck/leapscan/internal/rrr"
	"github.com/danmuck/leapscan/internal/strtab"
	"github.com/danmuck/leapscan/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	uidCore  = 0x00200000
	uidConns = uidCore | 1
	uidInQ   = uidCore | 2
	uidRaw   = uidCore | 3
	uidFmt   = uidCore | 4
)

func simStrings(t *testing.T) *strtab.Table {
	t.Helper()
	tbl := strtab.New()
	_, err := tbl.ReadFrom(strings.NewReader(
		"2097152,core0\n" +
			"2097153,C:1\n" +
			"2097154,in_q\n" +
			"2097155,R:pc\n" +
			"2097156,N:ctrl~M4~stall~8~epoch\n"))
	require.NoError(t, err)
	return tbl
}

func simRecords(layout strtab.Layout) []Record {
	return []Record{
		{Tag: uidConns, Fields: ConnectionEntry(layout, 2, true, false)},
		{Tag: uidRaw, Bytes: []byte{0xEF, 0xBE}},
		{Tag: uidFmt, Fields: []Field{{4, 0x3}, {1, 0}, {8, 0x42}}},
	}
}

const simOutput = "    OK\n" +
	"  Soft connection state [core0]:\n" +
	"\tin_q:  full / not empty\n" +
	"  pc:\n\tH beef  \tB 1011 1110 1110 1111\n" +
	"  ctrl [core0]:\n" +
	"\tstall:  Invalid\n" +
	"\tepoch:  0x42\n"

type harness struct {
	coord *debugscan.Coordinator
	sim   *Simulator
	fatal chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	layout := strtab.DefaultLayout()
	cfg.Layout = layout
	sim, err := New(cfg)
	require.NoError(t, err)

	swSide, hwSide := net.Pipe()
	conn := rrr.NewConn(swSide, frame.DefaultLimits())
	fatal := make(chan error, 4)
	coord, err := debugscan.New(conn, simStrings(t), debugscan.Config{
		Clock: clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)),
		Fatal: func(err error) { fatal <- err },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sim.ServeConn(ctx, hwSide) }()
	go func() { _ = conn.Serve(ctx, coord) }()
	t.Cleanup(func() {
		cancel()
		_ = conn.Close()
	})
	return &harness{coord: coord, sim: sim, fatal: fatal}
}

func scanWithin(t *testing.T, c *debugscan.Coordinator, d time.Duration) string {
	t.Helper()
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- c.Scan(&out) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(d):
		t.Fatalf("scan did not complete")
	}
	return out.String()
}

func TestEndToEndScanOverChannel(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{Records: simRecords(strtab.DefaultLayout())})

	for i := 0; i < 2; i++ {
		got := scanWithin(t, h.coord, 5*time.Second)
		want := "DEBUG SCAN:  (2026-01-02 03:04:05)\n" + simOutput
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("scan %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	require.Equal(t, int64(2), h.sim.Scans())
	require.Empty(t, h.fatal)
}

func TestEndToEndLivenessCorrupted(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, Config{EchoOffset: 3, Records: simRecords(strtab.DefaultLayout())})

	got := scanWithin(t, h.coord, 5*time.Second)
	require.Equal(t, "DEBUG SCAN:  (2026-01-02 03:04:05)\n    FAILED!  (30)\n", got)
	require.Zero(t, h.sim.Scans())
}

func TestEncodeMatchesLayout(t *testing.T) {
	testlog.Start(t)
	layout := strtab.DefaultLayout()
	msg := Record{Tag: uidConns, Fields: ConnectionEntry(layout, 5, false, true)}.Encode(layout)
	// 32 tag bits + 22 entry bits pad to 7 bytes.
	require.Len(t, msg, 7)
	require.Equal(t, []byte{0x01, 0x00, 0x20, 0x00}, msg[:4])
}

func TestServeOverTCP(t *testing.T) {
	testlog.Start(t)
	sim, err := New(Config{Records: simRecords(strtab.DefaultLayout())})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- sim.Serve(ctx, ln) }()

	cfg := rrr.DefaultConfig()
	cfg.Address = ln.Addr().String()
	conn, err := rrr.Dial(ctx, cfg)
	require.NoError(t, err)

	coord, err := debugscan.New(conn, simStrings(t), debugscan.Config{
		Fatal: func(err error) { t.Errorf("fatal: %v", err) },
	})
	require.NoError(t, err)
	go func() { _ = conn.Serve(ctx, coord) }()

	got := scanWithin(t, coord, 5*time.Second)
	require.True(t, strings.HasSuffix(got, simOutput), "got:\n%s", got)

	cancel()
	_ = conn.Close()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("simulator did not stop")
	}
}
