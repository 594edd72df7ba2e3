package fallback

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

type fakePlayer struct {
	scenePlayed    string
	sequencePlayed string
	err            error
}

func (f *fakePlayer) PlayScene(id string, _ float64) error {
	if f.err != nil {
		return f.err
	}
	f.scenePlayed = id
	return nil
}

func (f *fakePlayer) PlaySequence(id string) error {
	if f.err != nil {
		return f.err
	}
	f.sequencePlayed = id
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakePlayer) {
	t.Helper()
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	p := &fakePlayer{}
	return New(log, p), p
}

func TestTickDoesNothingBeforeFirstTouch(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(model.FallbackSlot{Enabled: true, TargetID: "s", DelaySeconds: 0}, model.FallbackSlot{})
	c.Tick(time.Now())
	assert.Empty(t, p.scenePlayed, "fallback must not fire before Touch establishes an activity baseline")
}

func TestSceneFallbackFiresAfterDelay(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(
		model.FallbackSlot{Enabled: true, TargetID: "scene-a", DelaySeconds: 1},
		model.FallbackSlot{},
	)
	start := time.Now()
	c.Touch(start)

	c.Tick(start.Add(500 * time.Millisecond))
	assert.Empty(t, p.scenePlayed, "fired before its delay elapsed")

	c.Tick(start.Add(1100 * time.Millisecond))
	assert.Equal(t, "scene-a", p.scenePlayed)
}

func TestFallbackDoesNotRefireUntilTouched(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(model.FallbackSlot{Enabled: true, TargetID: "scene-a", DelaySeconds: 1}, model.FallbackSlot{})
	start := time.Now()
	c.Touch(start)
	c.Tick(start.Add(2 * time.Second))
	require.Equal(t, "scene-a", p.scenePlayed)

	p.scenePlayed = ""
	c.Tick(start.Add(5 * time.Second))
	assert.Empty(t, p.scenePlayed, "fallback re-fired without an intervening Touch")

	c.Touch(start.Add(6 * time.Second))
	c.Tick(start.Add(7100 * time.Millisecond))
	assert.Equal(t, "scene-a", p.scenePlayed, "fallback did not re-arm after Touch")
}

func TestSceneWinsSimultaneousExpiry(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(
		model.FallbackSlot{Enabled: true, TargetID: "scene-a", DelaySeconds: 1},
		model.FallbackSlot{Enabled: true, TargetID: "seq-a", DelaySeconds: 1},
	)
	start := time.Now()
	c.Touch(start)
	c.Tick(start.Add(1100 * time.Millisecond))

	assert.Equal(t, "scene-a", p.scenePlayed, "scene wins ties")
	assert.Empty(t, p.sequencePlayed, "scene should have won the tie")
}

func TestSequenceFiresFirstWhenItsDelayIsShorter(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(
		model.FallbackSlot{Enabled: true, TargetID: "scene-a", DelaySeconds: 5},
		model.FallbackSlot{Enabled: true, TargetID: "seq-a", DelaySeconds: 1},
	)
	start := time.Now()
	c.Touch(start)
	c.Tick(start.Add(1100 * time.Millisecond))

	assert.Equal(t, "seq-a", p.sequencePlayed, "shorter delay expires first")
	assert.Empty(t, p.scenePlayed, "longer delay has not expired yet")
}

func TestDisabledSlotNeverFires(t *testing.T) {
	c, p := newTestController(t)
	c.Configure(model.FallbackSlot{Enabled: false, TargetID: "scene-a", DelaySeconds: 0}, model.FallbackSlot{})
	start := time.Now()
	c.Touch(start)
	c.Tick(start.Add(time.Second))
	assert.Empty(t, p.scenePlayed, "a disabled slot must never fire")
}

func TestPlayerErrorDoesNotPanic(t *testing.T) {
	c, _ := newTestController(t)
	c.player = &fakePlayer{err: errors.New("boom")}
	c.Configure(model.FallbackSlot{Enabled: true, TargetID: "scene-a", DelaySeconds: 0}, model.FallbackSlot{})
	start := time.Now()
	c.Touch(start)
	c.Tick(start.Add(10 * time.Millisecond)) // must not panic despite the player erroring
}
