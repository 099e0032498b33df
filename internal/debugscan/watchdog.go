package debugscan

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/danmuck/leapscan/internal/clock"
)

// ErrChannelLost is reported when hardware never answers the liveness probe.
var ErrChannelLost = errors.New("debugscan: RRR communication lost")

// DefaultWatchdogTimeout bounds the liveness phase.
const DefaultWatchdogTimeout = 30 * time.Second

// Result says which side of an armed watchdog won.
type Result int

const (
	OnTime Result = iota
	TimedOut
)

func (r Result) String() string {
	switch r {
	case OnTime:
		return "on_time"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Watchdog runs onExpire if an armed Guard is not disarmed within timeout.
type Watchdog struct {
	clock    clock.Clock
	timeout  time.Duration
	onExpire func()
}

func NewWatchdog(c clock.Clock, timeout time.Duration, onExpire func()) *Watchdog {
	if c == nil {
		c = clock.Real()
	}
	if timeout <= 0 {
		timeout = DefaultWatchdogTimeout
	}
	return &Watchdog{clock: c, timeout: timeout, onExpire: onExpire}
}

func (w *Watchdog) Timeout() time.Duration { return w.timeout }

const (
	guardArmed int32 = iota
	guardDisarmed
	guardExpired
)

// Guard is one armed deadline. Exactly one of expiry and Disarm claims it.
type Guard struct {
	state atomic.Int32
	timer *clock.Timer
}

func (w *Watchdog) Arm() *Guard {
	g := &Guard{}
	g.timer = w.clock.AfterFunc(w.timeout, func() {
		if g.state.CompareAndSwap(guardArmed, guardExpired) {
			w.onExpire()
		}
	})
	return g
}

// Disarm cancels the deadline. It reports TimedOut when expiry claimed the
// guard first. Repeated calls return the first answer.
func (g *Guard) Disarm() Result {
	if g.state.CompareAndSwap(guardArmed, guardDisarmed) {
		g.timer.Stop()
		return OnTime
	}
	if g.state.Load() == guardDisarmed {
		return OnTime
	}
	return TimedOut
}
