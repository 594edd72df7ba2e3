// Package engine implements the Playback Engine: the single authority
// over PlaybackState that time-steps scenes, sequences and programmable
// scenes into the Universe Buffer.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/exprvm"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

// Engine owns PlaybackState and the show artifact stores. It exposes a
// small synchronous API (PlayScene, PlaySequence, PlayProgrammable,
// SetChannel, Stop); every call is serialized onto a single internal
// command queue processed by one goroutine, so "last arriving wins" and
// state transitions never race with each other.
type Engine struct {
	log *logger.Log
	buf *universe.Buffer

	cmdCh chan internalCmd

	generation atomic.Uint64
	tickHz     atomic.Int64

	statusMu sync.RWMutex
	status   model.PlaybackStatus

	storeMu       sync.RWMutex
	scenes        map[string]model.Scene
	sequences     map[string]model.Sequence
	programmables map[string]model.ProgrammableScene
	compiled      map[string]*exprvm.Program

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Engine bound to buf. Call Run to start its command
// loop before issuing any play commands.
func New(log *logger.Log, buf *universe.Buffer) *Engine {
	e := &Engine{
		log:           log,
		buf:           buf,
		cmdCh:         make(chan internalCmd, 64),
		scenes:        map[string]model.Scene{},
		sequences:     map[string]model.Sequence{},
		programmables: map[string]model.ProgrammableScene{},
		compiled:      map[string]*exprvm.Program{},
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.tickHz.Store(40)
	e.status = model.PlaybackStatus{Kind: model.PlaybackIdle}
	return e
}

// SetTickHz updates the engine's internal clock rate, clamped to
// [25, 60] Hz. The Sender Fan-out calls this whenever the slowest
// configured sender's fps changes.
func (e *Engine) SetTickHz(hz int) {
	if hz < 25 {
		hz = 25
	}
	if hz > 60 {
		hz = 60
	}
	e.tickHz.Store(int64(hz))
}

func (e *Engine) tickInterval() time.Duration {
	hz := e.tickHz.Load()
	if hz < 25 {
		hz = 25
	}
	if hz > 60 {
		hz = 60
	}
	return time.Second / time.Duration(hz)
}

// Run starts the engine's command-processing goroutine. It blocks until
// ctx is cancelled, draining in-flight driver goroutines before
// returning.
func (e *Engine) Run(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			e.cancel()
		case <-e.ctx.Done():
		}
	}()
	defer e.wg.Wait()
	for {
		select {
		case <-e.ctx.Done():
			return
		case cmd := <-e.cmdCh:
			if cmd.generation != 0 && cmd.generation != e.generation.Load() {
				continue // stale event from a preempted/looped playback
			}
			err := cmd.run(e)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		}
	}
}

// Buffer returns the Universe Buffer backing this engine, for callers
// (the HTTP API's follower-map settings endpoint) that need to read or
// reconfigure it directly.
func (e *Engine) Buffer() *universe.Buffer {
	return e.buf
}

// Status returns an atomic snapshot of the engine's observable state.
func (e *Engine) Status() model.PlaybackStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) setStatus(s model.PlaybackStatus) {
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

func (e *Engine) newGeneration() uint64 {
	return e.generation.Add(1)
}

func (e *Engine) currentGeneration() uint64 {
	return e.generation.Load()
}
