package engine

import (
	"math"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/exprvm"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

// pushAsync submits a generation-tagged, fire-and-forget command. Run
// drops it silently if gen no longer matches the current generation,
// which is exactly how a preempted or looped playback's in-flight ticks
// are cancelled without a lock.
func (e *Engine) pushAsync(gen uint64, fn func(en *Engine) error) {
	select {
	case e.cmdCh <- internalCmd{generation: gen, run: fn}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) stillCurrent(gen uint64) bool {
	return e.ctx.Err() == nil && e.currentGeneration() == gen
}

// runTransition linearly interpolates each non-null channel from start
// toward target over durationMS, ticking at the engine's clock rate.
// onDone, if non-nil, runs once the transition completes in full (not
// if it is preempted mid-flight).
func (e *Engine) runTransition(gen uint64, start universe.Frame, target []*uint8, durationMS int, onDone func()) {
	if durationMS <= 0 {
		durationMS = 1
	}
	ticker := time.NewTicker(e.tickInterval())
	defer ticker.Stop()
	begin := time.Now()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			if !e.stillCurrent(gen) {
				return
			}
			elapsed := now.Sub(begin).Milliseconds()
			done := elapsed >= int64(durationMS)
			if done {
				elapsed = int64(durationMS)
			}
			frac := float64(elapsed) / float64(durationMS)

			values := make(map[int]uint8, len(target))
			for i, tv := range target {
				if tv == nil {
					continue
				}
				s := float64(start[i])
				values[i+1] = model.ClampChannelValue(s + (float64(*tv)-s)*frac)
			}

			e.pushAsync(gen, func(en *Engine) error {
				en.buf.WriteMany(values)
				return nil
			})

			if done {
				if onDone != nil {
					onDone()
				}
				return
			}
		}
	}
}

// runSequence steps through a sequence's Steps, applying each (with its
// per-step fade as a transition) and holding for its duration, looping
// if configured.
func (e *Engine) runSequence(gen uint64, id string, seq model.Sequence) {
	stepIdx := 0
	for {
		if !e.stillCurrent(gen) {
			return
		}
		step := seq.Steps[stepIdx]
		values, target := e.resolveStep(step)
		start := e.buf.Snapshot()

		idx := stepIdx
		e.pushAsync(gen, func(en *Engine) error {
			en.setStatus(model.PlaybackStatus{IsPlaying: true, Kind: model.PlaybackSequence, ID: id, StepIndex: idx})
			if step.FadeMS <= 0 {
				en.buf.WriteMany(values)
			}
			return nil
		})

		switch {
		case step.FadeMS > 0:
			go e.runTransition(gen, start, target, step.FadeMS, nil)
			e.sleepOrCancel(gen, time.Duration(step.DurationMS)*time.Millisecond)
		case step.DurationMS <= 0:
			e.sleepOrCancel(gen, e.tickInterval()) // avoid a busy loop on a zero-duration step
		default:
			e.sleepOrCancel(gen, time.Duration(step.DurationMS)*time.Millisecond)
		}

		if !e.stillCurrent(gen) {
			return
		}

		stepIdx++
		if stepIdx >= len(seq.Steps) {
			if seq.Loop {
				stepIdx = 0
				continue
			}
			e.pushAsync(gen, func(en *Engine) error {
				en.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
				return nil
			})
			return
		}
	}
}

// resolveStep returns the sparse write map for an immediate apply and
// the full 512-slot nullable target slice a transition needs.
func (e *Engine) resolveStep(step model.Step) (map[int]uint8, []*uint8) {
	target := make([]*uint8, model.NumChannels)
	values := map[int]uint8{}

	if step.SceneID != "" {
		if scene, ok := e.Scene(step.SceneID); ok {
			for i, v := range scene.Channels {
				if i >= model.NumChannels || v == nil {
					continue
				}
				vv := *v
				target[i] = &vv
				values[i+1] = vv
			}
			return values, target
		}
	}
	for ch, v := range step.Channels {
		if ch < 1 || ch > model.NumChannels {
			continue
		}
		vv := v
		target[ch-1] = &vv
		values[ch] = vv
	}
	return values, target
}

// sleepOrCancel blocks for d or until the engine shuts down or gen is
// preempted, whichever comes first.
func (e *Engine) sleepOrCancel(gen uint64, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	poll := time.NewTicker(e.tickInterval())
	defer poll.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
			return
		case <-poll.C:
			if !e.stillCurrent(gen) {
				return
			}
		}
	}
}

// runProgrammable evaluates a programmable scene's channel expressions
// on every engine tick until its duration elapses, looping if
// configured. t advances in real seconds from the scene's start.
func (e *Engine) runProgrammable(gen uint64, id string, prog model.ProgrammableScene, compiled *exprvm.Program) {
	compiled.ResetErrorReporting()
	ticker := time.NewTicker(e.tickInterval())
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			if !e.stillCurrent(gen) {
				return
			}
			elapsedMS := now.Sub(start).Milliseconds()
			tSec := float64(elapsedMS) / 1000.0
			pPct := 0.0
			if prog.DurationMS > 0 {
				pPct = math.Min(100, 100*float64(elapsedMS)/float64(prog.DurationMS))
			}

			frame := compiled.EvalFrame(exprvm.Vars{T: tSec, P: pPct}, func(ch int, err error) {
				e.log.With(logger.Fields{"module": "exprvm", "scene": id, "channel": ch}).Warnf("expression evaluation error: %v", err)
			})

			e.pushAsync(gen, func(en *Engine) error {
				en.buf.WriteMany(frame)
				en.setStatus(model.PlaybackStatus{
					IsPlaying:           true,
					Kind:                model.PlaybackProgrammable,
					ID:                  id,
					StepProgressPercent: pPct,
				})
				return nil
			})

			if prog.DurationMS > 0 && elapsedMS >= int64(prog.DurationMS) {
				if prog.Loop {
					start = now
					compiled.ResetErrorReporting()
					continue
				}
				e.pushAsync(gen, func(en *Engine) error {
					en.setStatus(model.PlaybackStatus{Kind: model.PlaybackIdle})
					return nil
				})
				return
			}
		}
	}
}
