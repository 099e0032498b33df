package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	var calls atomic.Int32
	c.AfterFunc(30*time.Second, func() { calls.Add(1) })

	c.Advance(29 * time.Second)
	if calls.Load() != 0 {
		t.Fatalf("fired early")
	}
	c.Advance(time.Second)
	if calls.Load() != 1 {
		t.Fatalf("calls got=%d want=1", calls.Load())
	}
	c.Advance(time.Minute)
	if calls.Load() != 1 {
		t.Fatalf("one-shot timer fired twice")
	}
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	var calls atomic.Int32
	timer := c.AfterFunc(time.Second, func() { calls.Add(1) })
	if !timer.Stop() {
		t.Fatalf("first stop should report true")
	}
	if timer.Stop() {
		t.Fatalf("second stop should report false")
	}
	c.Advance(time.Second)
	if calls.Load() != 0 {
		t.Fatalf("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("pending got=%d", c.Pending())
	}
}

func TestFakeStopAfterFire(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	if timer.Stop() {
		t.Fatalf("stop after fire should report false")
	}
}

func TestFakeSleepWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(10 * time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(10 * time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("sleep did not return")
	}
}

func TestFakeTickerReschedules(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-tk.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeAfterZero(t *testing.T) {
	c := Fake(epoch)
	select {
	case got := <-c.After(0):
		if !got.Equal(epoch) {
			t.Fatalf("got=%v", got)
		}
	default:
		t.Fatalf("After(0) should be ready")
	}
}
