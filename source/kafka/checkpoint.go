package kafka

import (
	"sync/atomic"
	"time"
)

// commitClock decides *when* a driver should flush marked offsets. Every
// Commit marks; only due calls pay for the broker round trip.
type commitClock struct {
	commitEveryNS int64
	lastCommitNS  int64
}

func newCommitClock(every time.Duration) *commitClock {
	return &commitClock{commitEveryNS: every.Nanoseconds()}
}

// due reports whether a flush should happen now and, if so, restarts the
// interval.
func (c *commitClock) due() bool {
	if c.commitEveryNS <= 0 {
		return true
	}
	now := time.Now().UnixNano()
	if atomic.LoadInt64(&c.lastCommitNS)+c.commitEveryNS <= now {
		atomic.StoreInt64(&c.lastCommitNS, now)
		return true
	}
	return false
}
