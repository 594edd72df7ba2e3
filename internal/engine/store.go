package engine

import (
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/exprvm"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// PutScene adds or replaces a scene definition. Does not affect
// PlaybackState even if the scene is currently playing statically: the
// new definition takes effect on the next play_scene call.
func (e *Engine) PutScene(s model.Scene) {
	e.storeMu.Lock()
	e.scenes[s.ID] = s
	e.storeMu.Unlock()
}

func (e *Engine) DeleteScene(id string) error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if _, ok := e.scenes[id]; !ok {
		return dmxerr.NotFound("scene %q", id)
	}
	delete(e.scenes, id)
	return nil
}

func (e *Engine) Scene(id string) (model.Scene, bool) {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	s, ok := e.scenes[id]
	return s, ok
}

func (e *Engine) Scenes() []model.Scene {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	out := make([]model.Scene, 0, len(e.scenes))
	for _, s := range e.scenes {
		out = append(out, s)
	}
	return out
}

func (e *Engine) PutSequence(s model.Sequence) {
	e.storeMu.Lock()
	e.sequences[s.ID] = s
	e.storeMu.Unlock()
}

func (e *Engine) DeleteSequence(id string) error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if _, ok := e.sequences[id]; !ok {
		return dmxerr.NotFound("sequence %q", id)
	}
	delete(e.sequences, id)
	return nil
}

func (e *Engine) Sequence(id string) (model.Sequence, bool) {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	s, ok := e.sequences[id]
	return s, ok
}

func (e *Engine) Sequences() []model.Sequence {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	out := make([]model.Sequence, 0, len(e.sequences))
	for _, s := range e.sequences {
		out = append(out, s)
	}
	return out
}

// PutProgrammable adds or replaces a programmable scene, compiling its
// channel expressions eagerly so a parse error is surfaced at edit time
// rather than at first playback.
func (e *Engine) PutProgrammable(p model.ProgrammableScene) []error {
	prog, errs := exprvm.Compile(p.Expressions)
	e.storeMu.Lock()
	e.programmables[p.ID] = p
	e.compiled[p.ID] = prog
	e.storeMu.Unlock()
	return errs
}

func (e *Engine) DeleteProgrammable(id string) error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if _, ok := e.programmables[id]; !ok {
		return dmxerr.NotFound("programmable scene %q", id)
	}
	delete(e.programmables, id)
	delete(e.compiled, id)
	return nil
}

func (e *Engine) Programmable(id string) (model.ProgrammableScene, bool) {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	p, ok := e.programmables[id]
	return p, ok
}

func (e *Engine) Programmables() []model.ProgrammableScene {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	out := make([]model.ProgrammableScene, 0, len(e.programmables))
	for _, p := range e.programmables {
		out = append(out, p)
	}
	return out
}

func (e *Engine) compiledProgram(id string) (*exprvm.Program, bool) {
	e.storeMu.RLock()
	defer e.storeMu.RUnlock()
	p, ok := e.compiled[id]
	return p, ok
}
