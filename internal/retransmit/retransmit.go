// Package retransmit implements the Retransmit Loop: a periodic forced
// resend of the current frame on every sender, independent of each
// sender's own fps, so a node that missed a frame (or power-cycled)
// converges on the true state within one interval.
package retransmit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
)

// DefaultInterval is the forced-resend period when none is configured.
const DefaultInterval = 5 * time.Second

// Forcer is satisfied by sender.Manager.
type Forcer interface {
	ForceFrame(name string) error
}

// Loop periodically forces a frame on every sender. The interval can be
// changed at runtime without restarting the loop, and the loop can be
// armed/disarmed without tearing down its goroutine.
type Loop struct {
	log      *logger.Log
	forcer   Forcer
	interval atomic.Int64 // nanoseconds
	enabled  atomic.Bool
}

// New builds a disarmed Loop with DefaultInterval.
func New(log *logger.Log, forcer Forcer) *Loop {
	l := &Loop{log: log, forcer: forcer}
	l.interval.Store(int64(DefaultInterval))
	return l
}

// SetEnabled arms or disarms the loop.
func (l *Loop) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// Enabled reports whether the loop is currently armed.
func (l *Loop) Enabled() bool {
	return l.enabled.Load()
}

// SetInterval changes the retransmit period. Values below 100ms are
// clamped to 100ms to avoid a runaway resend storm.
func (l *Loop) SetInterval(d time.Duration) {
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	l.interval.Store(int64(d))
}

// Interval returns the current retransmit period.
func (l *Loop) Interval() time.Duration {
	return time.Duration(l.interval.Load())
}

// Run blocks until ctx is cancelled, forcing a frame on every sender
// once per interval. The ticker is rebuilt whenever the interval changes.
func (l *Loop) Run(ctx context.Context) {
	for {
		interval := l.Interval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !l.enabled.Load() {
				continue
			}
			if err := l.forcer.ForceFrame(""); err != nil {
				l.log.With(logger.Fields{"module": "retransmit"}).Warnf("forced resend failed: %v", err)
			}
		}
	}
}
