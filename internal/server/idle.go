package server

import (
	"log/slog"
	"time"
)

// Arms and disarms the broker's idle-shutdown timer.
//
// The timer has two states. It is armed when the use count drops to zero
// and disarmed the moment the broker has a client or a held request again.
// The event loop calls sync exactly once per iteration before blocking, so
// the timer state and the use count can never change without the other
// being observed first.
type idleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	armed   bool
}

func newIdleTimer(timeout time.Duration) *idleTimer {
	return &idleTimer{timeout: timeout}
}

// Brings the timer in line with the current use count.
func (t *idleTimer) sync(usecnt int, log *slog.Logger) {
	if usecnt > 0 && t.armed {
		log.Info("broker is now active, disarming the idle timer")
		if !t.timer.Stop() {
			// Expired between iterations; discard the stale tick.
			select {
			case <-t.timer.C:
			default:
			}
		}
		t.armed = false
	} else if usecnt == 0 && !t.armed {
		log.Info("broker is now idle, arming the idle timer", "timeout", t.timeout)
		if t.timer == nil {
			t.timer = time.NewTimer(t.timeout)
		} else {
			t.timer.Reset(t.timeout)
		}
		t.armed = true
	}
}

// Returns the channel that fires on idle expiry, or nil while the timer is
// disarmed so that a select on it blocks forever.
func (t *idleTimer) expired() <-chan time.Time {
	if !t.armed {
		return nil
	}
	return t.timer.C
}
