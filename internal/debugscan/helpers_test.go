package debugscan

import (
	"sync"
	"testing"

	"github.com/danmuck/leapscan/internal/bitbuf"
	"github.com/danmuck/leapscan/internal/strtab"
)

const (
	uidBoundary = 0x00100000
	uidConn2    = uidBoundary | 1
	uidChanA    = uidBoundary | 2
	uidChanB    = uidBoundary | 3
	uidRaw      = uidBoundary | 4
	uidFmt      = uidBoundary | 5
	uidBadKind  = uidBoundary | 6
	uidShortTag = uidBoundary | 7
	uidConn1    = uidBoundary | 8
	uidConnBad  = uidBoundary | 9
)

func testStrings(t *testing.T, extra map[uint32]string) *strtab.Table {
	t.Helper()
	tbl := strtab.New()
	base := map[uint32]string{
		uidBoundary: "cpu0",
		uidConn2:    "C:2",
		uidChanA:    "fetch_to_decode",
		uidChanB:    "decode_to_exec",
		uidRaw:      "R:regfile",
		uidFmt:      "N:alu~M8~result~4~opcode",
		uidBadKind:  "Q:what",
		uidShortTag: "C:",
		uidConn1:    "C:1",
		uidConnBad:  "C:two",
	}
	for k, v := range extra {
		base[k] = v
	}
	for uid, s := range base {
		if err := tbl.Add(uid, s); err != nil {
			t.Fatalf("add %d: %v", uid, err)
		}
	}
	return tbl
}

type field struct {
	v uint64
	n int
}

func record(uidBits int, tag uint32, fields ...field) []byte {
	var w bitbuf.Writer
	w.PutBits(uint64(tag), uidBits)
	for _, f := range fields {
		w.PutBits(f.v, f.n)
	}
	return w.Bytes()
}

func connEntry(local uint32, notEmpty, notFull uint64) []field {
	return []field{{uint64(local), strtab.DefaultLocalBits}, {notEmpty, 1}, {notFull, 1}}
}

func fill(p []byte) *bitbuf.Buffer {
	var b bitbuf.Buffer
	for _, v := range p {
		b.Put(v)
	}
	return &b
}

// fakeHardware answers the coordinator's requests on its own goroutines,
// the way the transport delivers callbacks.
type fakeHardware struct {
	coord    *Coordinator
	echo     func(uint8) uint8
	silent   bool
	checkErr error
	scanErr  error
	records  [][]byte

	mu     sync.Mutex
	events []string
}

func (h *fakeHardware) log(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHardware) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *fakeHardware) CheckChannelReq(v uint8) error {
	h.log("check")
	if h.checkErr != nil {
		return h.checkErr
	}
	if h.silent {
		return nil
	}
	reply := v
	if h.echo != nil {
		reply = h.echo(v)
	}
	go h.coord.CheckChannelRsp(reply)
	return nil
}

func (h *fakeHardware) ScanReq() error {
	h.log("scan")
	if h.scanErr != nil {
		return h.scanErr
	}
	go func() {
		for _, rec := range h.records {
			for i, b := range rec {
				h.coord.Send(b, i == len(rec)-1)
			}
		}
		h.log("done")
		h.coord.Done()
	}()
	return nil
}
