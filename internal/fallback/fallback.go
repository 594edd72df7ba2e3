// Package fallback implements the Fallback Controller: it watches a
// monotonic "last activity" timestamp and, after a configured idle
// period, applies a fallback scene or sequence through the same
// command path as a user command.
package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// Player is satisfied by engine.Engine.
type Player interface {
	PlayScene(id string, transitionSeconds float64) error
	PlaySequence(id string) error
}

// Slot mirrors model.FallbackSlot plus the "already triggered" latch.
type slot struct {
	cfg       model.FallbackSlot
	triggered bool
}

// Controller owns the two fallback slots and the activity clock.
type Controller struct {
	log    *logger.Log
	player Player

	mu           sync.Mutex
	lastActivity time.Time
	scene        slot
	sequence     slot
}

// New builds a disarmed Controller. Touch must be called once to start
// the activity clock.
func New(log *logger.Log, player Player) *Controller {
	return &Controller{log: log, player: player, lastActivity: time.Time{}}
}

// Configure sets both fallback slots, re-arming them (clearing the
// "triggered" latch) since a config change is itself new activity.
func (c *Controller) Configure(scene, sequence model.FallbackSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scene = slot{cfg: scene}
	c.sequence = slot{cfg: sequence}
}

// Scene returns the current scene-fallback slot config.
func (c *Controller) Scene() model.FallbackSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene.cfg
}

// Sequence returns the current sequence-fallback slot config.
func (c *Controller) Sequence() model.FallbackSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence.cfg
}

// Touch records activity "now", resetting both slots' triggered latch.
// Call this on every command that changes universe state: channel
// writes, play_*, stop.
func (c *Controller) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = now
	c.scene.triggered = false
	c.sequence.triggered = false
}

// Tick checks whether any armed, untriggered slot has expired and, if
// so, fires exactly one: the earliest to expire, with scene-fallback
// winning a simultaneous expiry. It is safe to call Tick repeatedly
// from a single watchdog goroutine; firing does not itself count as
// activity, so the same slot will not re-fire until Touch is called.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	if c.lastActivity.IsZero() {
		c.mu.Unlock()
		return
	}
	idle := now.Sub(c.lastActivity)

	sceneDue := c.scene.cfg.Enabled && !c.scene.triggered &&
		idle >= time.Duration(c.scene.cfg.DelaySeconds*float64(time.Second))
	seqDue := c.sequence.cfg.Enabled && !c.sequence.triggered &&
		idle >= time.Duration(c.sequence.cfg.DelaySeconds*float64(time.Second))

	var fireScene, fireSeq bool
	switch {
	case sceneDue && seqDue:
		if c.sequence.cfg.DelaySeconds < c.scene.cfg.DelaySeconds {
			fireSeq = true
		} else {
			fireScene = true // scene wins ties and when it expires first-or-equal
		}
	case sceneDue:
		fireScene = true
	case seqDue:
		fireSeq = true
	}

	if fireScene {
		c.scene.triggered = true
	}
	if fireSeq {
		c.sequence.triggered = true
	}
	sceneTarget, seqTarget := c.scene.cfg.TargetID, c.sequence.cfg.TargetID
	c.mu.Unlock()

	if fireScene {
		if err := c.player.PlayScene(sceneTarget, 0); err != nil {
			c.log.With(logger.Fields{"module": "fallback"}).Warnf("scene fallback %q failed: %v", sceneTarget, err)
		}
	} else if fireSeq {
		if err := c.player.PlaySequence(seqTarget); err != nil {
			c.log.With(logger.Fields{"module": "fallback"}).Warnf("sequence fallback %q failed: %v", seqTarget, err)
		}
	}
}

// WatchInterval is the inactivity watchdog's poll period.
const WatchInterval = 500 * time.Millisecond

// Run blocks until ctx is cancelled, polling Tick at WatchInterval.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			c.Tick(t)
		}
	}
}
