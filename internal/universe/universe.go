// Package universe holds the single authoritative 512-channel DMX buffer
// and applies follower-channel mirroring on every write.
package universe

import (
	"sync"
	"sync/atomic"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// Frame is the 512-octet snapshot handed to senders.
type Frame [model.NumChannels]uint8

// Buffer is the authoritative universe. Writes are mutually excluded by
// mu; Snapshot is wait-free with respect to writers via an atomic pointer
// swap, so a sender never observes a half-applied batch.
type Buffer struct {
	mu       sync.Mutex
	current  atomic.Pointer[Frame]
	follower atomic.Pointer[model.FollowerMap]
}

// New returns a zeroed Buffer.
func New() *Buffer {
	b := &Buffer{}
	var f Frame
	b.current.Store(&f)
	fm := model.FollowerMap{Leaders: map[int][]int{}}
	b.follower.Store(&fm)
	return b
}

// SetFollowerMap installs a new follower mapping. Self-references are
// filtered out at this boundary, per the one-level-deep invariant.
func (b *Buffer) SetFollowerMap(fm model.FollowerMap) {
	sanitized := fm.Sanitize()
	b.follower.Store(&sanitized)
}

// FollowerMap returns the currently installed follower mapping.
func (b *Buffer) FollowerMap() model.FollowerMap {
	return *b.follower.Load()
}

// Write sets one channel (1-based) and applies follower mirroring in the
// same atomic visibility step.
func (b *Buffer) Write(channel int, value uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := *b.current.Load()
	b.applyLocked(&next, channel, value)
	b.current.Store(&next)
}

// WriteMany applies a batch of channel writes atomically: either all
// values and their follower mirrors become visible together, or none do.
func (b *Buffer) WriteMany(values map[int]uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := *b.current.Load()
	for ch, v := range values {
		b.applyLocked(&next, ch, v)
	}
	b.current.Store(&next)
}

// applyLocked must be called with mu held.
func (b *Buffer) applyLocked(frame *Frame, channel int, value uint8) {
	if channel < 1 || channel > model.NumChannels {
		return
	}
	frame[channel-1] = value

	fm := *b.follower.Load()
	if !fm.Enabled {
		return
	}
	for _, follower := range fm.Leaders[channel] {
		if follower < 1 || follower > model.NumChannels {
			continue
		}
		frame[follower-1] = value
	}
}

// Blackout zeros all 512 channels.
func (b *Buffer) Blackout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero Frame
	b.current.Store(&zero)
}

// Snapshot returns a copy of the current frame, safe to hand to a sender
// goroutine without further synchronization.
func (b *Buffer) Snapshot() Frame {
	return *b.current.Load()
}
