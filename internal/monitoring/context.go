// Package monitoring implements Host Monitoring / Enhanced Failure
// Monitoring (C13): a background Monitor per host that pings independently
// of the user's call, so a wedged network connection that never returns an
// error on its own is still caught within a bounded grace period. Adapted
// from the teacher's internal/plugins/scheduler.go pattern of a
// self-terminating background goroutine per managed resource, keyed and
// looked up through a registry rather than one goroutine per request.
package monitoring

import (
	"sync"
	"time"
)

// Context is the Monitor Context data model (spec §3): the state one
// EFM-wrapped call contributes to its host's Monitor for the duration of
// that call.
type Context struct {
	HostKey string

	FailureDetectionTime     time.Duration
	FailureDetectionInterval time.Duration
	FailureDetectionCount    int

	StartTime time.Time
	abort     func()
	done      chan struct{}
	closeOnce sync.Once

	mu               sync.Mutex
	failureCount     int
	invalidHostStart time.Time
}

// NewContext builds a Context for one call, wired to abort when the monitor
// decides the host is unhealthy.
func NewContext(hostKey string, grace, interval time.Duration, count int, abort func()) *Context {
	return &Context{
		HostKey:                  hostKey,
		FailureDetectionTime:     grace,
		FailureDetectionInterval: interval,
		FailureDetectionCount:    count,
		StartTime:                time.Now(),
		abort:                    abort,
		done:                     make(chan struct{}),
	}
}

// MarkInactive signals the monitor this context's call has returned, so the
// monitor stops tracking it on its next tick rather than waiting for it to
// age out naturally (spec §4.6: "marked inactive on method return").
func (c *Context) MarkInactive() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Context) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readyAt is the instant this context becomes eligible for promotion from
// the new queue to the active queue: its grace period has elapsed.
func (c *Context) readyAt() time.Time {
	return c.StartTime.Add(c.FailureDetectionTime)
}

// updateConnectionStatus applies one ping's outcome to this context's
// failure bookkeeping (spec §4.6) and reports whether the host should now be
// considered unhealthy via this context.
func (c *Context) updateConnectionStatus(pingStart, pingEnd time.Time, valid bool) (unhealthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if valid {
		c.failureCount = 0
		c.invalidHostStart = time.Time{}
		return false
	}

	if c.invalidHostStart.IsZero() {
		c.invalidHostStart = pingStart
	}
	c.failureCount++

	if c.failureCount < c.FailureDetectionCount {
		return false
	}
	return pingEnd.Sub(c.invalidHostStart) >= c.FailureDetectionTime
}
