// Package exprvm implements the sandboxed per-channel expression
// language used by programmable scenes: numeric literals, the free
// variables t and p, arithmetic operators, and a closed set of function
// calls. No identifier, attribute access or call outside that set is
// accepted -- Parse rejects it before the tree is ever evaluated.
package exprvm

import (
	"sync"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// Program is a parsed, cached set of per-channel expressions for one
// ProgrammableScene.
type Program struct {
	mu       sync.Mutex
	byChan   map[int]Node
	reported map[int]bool // evaluation errors surfaced once per channel per start
}

// Compile parses every channel expression once. A syntax error for a
// given channel is recorded but does not prevent other channels from
// compiling; that channel simply evaluates to 0 at every tick.
func Compile(exprs map[int]string) (*Program, []error) {
	prog := &Program{byChan: make(map[int]Node, len(exprs)), reported: make(map[int]bool)}
	var errs []error
	for ch, src := range exprs {
		n, err := Parse(src)
		if err != nil {
			errs = append(errs, err)
			prog.byChan[ch] = numberNode{value: 0}
			continue
		}
		prog.byChan[ch] = n
	}
	return prog, errs
}

// ResetErrorReporting clears the per-channel "already reported" state,
// called whenever a programmable scene (re)starts.
func (p *Program) ResetErrorReporting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reported = make(map[int]bool)
}

// EvalFrame evaluates every compiled channel expression for the given
// (t, p) and returns the resulting channel->value map, already rounded
// and clamped to [0,255]. onError is invoked at most once per channel
// per ResetErrorReporting cycle.
func (p *Program) EvalFrame(vars Vars, onError func(channel int, err error)) map[int]uint8 {
	out := make(map[int]uint8, len(p.byChan))
	for ch, node := range p.byChan {
		result, err := Eval(node, vars)
		if err != nil {
			p.mu.Lock()
			already := p.reported[ch]
			p.reported[ch] = true
			p.mu.Unlock()
			if !already && onError != nil {
				onError(ch, err)
			}
			out[ch] = 0
			continue
		}
		out[ch] = model.ClampChannelValue(result)
	}
	return out
}
