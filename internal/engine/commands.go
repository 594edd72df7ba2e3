package engine

import (
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// internalCmd is the unit of work processed by the engine's single
// command-loop goroutine. External calls (PlayScene, SetChannel, ...)
// set generation to 0 so they always run; internal driver events carry
// the generation they were spawned under, so a stale event from a
// preempted playback is dropped by Run instead of being applied.
type internalCmd struct {
	generation uint64
	run        func(e *Engine) error
	reply      chan error
}

func (e *Engine) submit(cmd internalCmd) error {
	reply := make(chan error, 1)
	cmd.reply = reply
	select {
	case e.cmdCh <- cmd:
	case <-e.ctx.Done():
		return dmxerr.Fatal("engine shut down")
	}
	return <-reply
}

// PlayScene applies scene id, either immediately or via a linear
// transition over transitionSeconds. Starting this playback cancels
// whatever was previously running.
func (e *Engine) PlayScene(id string, transitionSeconds float64) error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		return en.doPlayScene(id, transitionSeconds)
	}})
}

func (e *Engine) doPlayScene(id string, transitionSeconds float64) error {
	scene, ok := e.Scene(id)
	if !ok {
		return dmxerr.NotFound("scene %q", id)
	}

	gen := e.newGeneration()
	start := e.buf.Snapshot()

	e.setStatus(model.PlaybackStatus{IsPlaying: true, Kind: model.PlaybackStaticScene, ID: id})

	if transitionSeconds <= 0 {
		e.buf.WriteMany(sceneDelta(scene))
		return nil
	}

	durationMS := int(transitionSeconds * 1000)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTransition(gen, start, scene.Channels, durationMS, nil)
	}()
	return nil
}

// PlaySequence starts stepping through sequence id's steps, looping if
// configured.
func (e *Engine) PlaySequence(id string) error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		return en.doPlaySequence(id)
	}})
}

func (e *Engine) doPlaySequence(id string) error {
	seq, ok := e.Sequence(id)
	if !ok {
		return dmxerr.NotFound("sequence %q", id)
	}
	if len(seq.Steps) == 0 {
		return dmxerr.Invalid("sequence %q has no steps", id)
	}

	gen := e.newGeneration()
	e.setStatus(model.PlaybackStatus{IsPlaying: true, Kind: model.PlaybackSequence, ID: id})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSequence(gen, id, seq)
	}()
	return nil
}

// PlayProgrammable starts evaluating programmable scene id's channel
// expressions on every engine tick.
func (e *Engine) PlayProgrammable(id string) error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		return en.doPlayProgrammable(id)
	}})
}

func (e *Engine) doPlayProgrammable(id string) error {
	prog, ok := e.Programmable(id)
	if !ok {
		return dmxerr.NotFound("programmable scene %q", id)
	}
	compiled, ok := e.compiledProgram(id)
	if !ok {
		return dmxerr.Fatal("programmable scene %q was never compiled", id)
	}

	gen := e.newGeneration()
	e.setStatus(model.PlaybackStatus{IsPlaying: true, Kind: model.PlaybackProgrammable, ID: id})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runProgrammable(gen, id, prog, compiled)
	}()
	return nil
}

// SetChannel writes a single channel value and, per the single-writer
// invariant, preempts any active playback first. A channel outside
// 1..512 or a value outside 0..255 is rejected with InvalidInput.
func (e *Engine) SetChannel(channel int, value int) error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		return en.doSetChannel(channel, value)
	}})
}

func (e *Engine) doSetChannel(channel int, value int) error {
	if channel < 1 || channel > model.NumChannels {
		return dmxerr.Invalid("channel %d out of range 1..%d", channel, model.NumChannels)
	}
	if value < 0 || value > 255 {
		return dmxerr.Invalid("value %d out of range 0..255", value)
	}
	e.newGeneration() // preempt: aborts in-flight transition/sequence/programmable ticks
	e.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
	e.buf.Write(channel, uint8(value))
	return nil
}

// SetChannels applies a batch write (e.g. /api/dmx/all) with the same
// preemption semantics as SetChannel.
func (e *Engine) SetChannels(values map[int]uint8) error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		for ch := range values {
			if ch < 1 || ch > model.NumChannels {
				return dmxerr.Invalid("channel %d out of range 1..%d", ch, model.NumChannels)
			}
		}
		en.newGeneration()
		en.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
		en.buf.WriteMany(values)
		return nil
	}})
}

// Stop cancels the current playback, leaving the buffer at its last
// written values.
func (e *Engine) Stop() error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		en.newGeneration()
		en.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
		return nil
	}})
}

// Blackout zeros every channel and stops any active playback.
func (e *Engine) Blackout() error {
	return e.submit(internalCmd{run: func(en *Engine) error {
		en.newGeneration()
		en.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
		en.buf.Blackout()
		return nil
	}})
}

// sceneDelta converts a Scene's nullable channel vector into the sparse
// write map the Universe Buffer expects: null entries carry forward and
// are simply omitted.
func sceneDelta(scene model.Scene) map[int]uint8 {
	values := make(map[int]uint8, len(scene.Channels))
	for i, v := range scene.Channels {
		if v != nil {
			values[i+1] = *v
		}
	}
	return values
}
