// Package dispatch is the Command Dispatcher: it translates MQTT and
// HTTP boundary events into exactly one Playback Engine or Sender
// Fan-out operation each, rejects malformed input with a typed error,
// and keeps the Fallback Controller's activity clock current.
package dispatch

import (
	"sync"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/config"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/sender"
)

// Engine is satisfied by engine.Engine.
type Engine interface {
	PlayScene(id string, transitionSeconds float64) error
	PlaySequence(id string) error
	PlayProgrammable(id string) error
	SetChannel(channel, value int) error
	SetChannels(values map[int]uint8) error
	Stop() error
	Blackout() error
	Status() model.PlaybackStatus
}

// ActivityTouch is satisfied by fallback.Controller.
type ActivityTouch interface {
	Touch(now time.Time)
}

// ChannelUpdate is the most recent MQTT-originated channel write,
// surfaced to the browser console via GET /api/dmx/channel-update.
type ChannelUpdate struct {
	Channel int       `json:"channel"`
	Value   int       `json:"value"`
	At      time.Time `json:"at"`
}

// Dispatcher wires boundary events to the engine, the sender fan-out and
// the config manager, and touches the fallback clock on every command
// that changes universe state.
type Dispatcher struct {
	engine   Engine
	senders  *sender.Manager
	cfg      *config.Manager
	fallback ActivityTouch

	mu            sync.RWMutex
	lastMQTTWrite ChannelUpdate
}

// New builds a Dispatcher.
func New(engine Engine, senders *sender.Manager, cfg *config.Manager, fallback ActivityTouch) *Dispatcher {
	return &Dispatcher{engine: engine, senders: senders, cfg: cfg, fallback: fallback}
}

func (d *Dispatcher) touch() {
	d.fallback.Touch(time.Now())
}

// SetChannel validates and applies a single-channel write. origin
// distinguishes MQTT-originated writes, which are tracked for
// /api/dmx/channel-update.
func (d *Dispatcher) SetChannel(channel, value int, origin string) error {
	if channel < 1 || channel > model.NumChannels {
		return dmxerr.Invalid("channel %d out of range 1..%d", channel, model.NumChannels)
	}
	if value < 0 || value > 255 {
		return dmxerr.Invalid("value %d out of range 0..255", value)
	}
	if err := d.engine.SetChannel(channel, value); err != nil {
		return err
	}
	d.touch()
	if origin == "mqtt" {
		d.mu.Lock()
		d.lastMQTTWrite = ChannelUpdate{Channel: channel, Value: value, At: time.Now()}
		d.mu.Unlock()
	}
	return nil
}

// SetChannels validates and applies a batch channel write.
func (d *Dispatcher) SetChannels(values map[int]int) error {
	out := make(map[int]uint8, len(values))
	for ch, v := range values {
		if ch < 1 || ch > model.NumChannels {
			return dmxerr.Invalid("channel %d out of range 1..%d", ch, model.NumChannels)
		}
		if v < 0 || v > 255 {
			return dmxerr.Invalid("value %d out of range 0..255", v)
		}
		out[ch] = uint8(v)
	}
	if err := d.engine.SetChannels(out); err != nil {
		return err
	}
	d.touch()
	return nil
}

// LastChannelUpdate returns the most recent MQTT-originated channel
// write, for GET /api/dmx/channel-update.
func (d *Dispatcher) LastChannelUpdate() ChannelUpdate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastMQTTWrite
}

// PlayScene applies a named scene, optionally fading over
// transitionSeconds.
func (d *Dispatcher) PlayScene(name string, transitionSeconds float64) error {
	if name == "" {
		return dmxerr.Invalid("scene name is required")
	}
	if err := d.engine.PlayScene(name, transitionSeconds); err != nil {
		return err
	}
	d.touch()
	return nil
}

// PlaySequence starts a named sequence.
func (d *Dispatcher) PlaySequence(name string) error {
	if name == "" {
		return dmxerr.Invalid("sequence name is required")
	}
	if err := d.engine.PlaySequence(name); err != nil {
		return err
	}
	d.touch()
	return nil
}

// PlayProgrammable starts a named programmable scene.
func (d *Dispatcher) PlayProgrammable(name string) error {
	if name == "" {
		return dmxerr.Invalid("programmable scene name is required")
	}
	if err := d.engine.PlayProgrammable(name); err != nil {
		return err
	}
	d.touch()
	return nil
}

// Stop cancels the active playback.
func (d *Dispatcher) Stop() error {
	if err := d.engine.Stop(); err != nil {
		return err
	}
	d.touch()
	return nil
}

// Blackout zeros the universe and forces an immediate frame on every
// sender.
func (d *Dispatcher) Blackout() error {
	if err := d.engine.Blackout(); err != nil {
		return err
	}
	if err := d.senders.Blackout(""); err != nil {
		return err
	}
	d.touch()
	return nil
}

// Status returns the engine's current playback status.
func (d *Dispatcher) Status() model.PlaybackStatus {
	return d.engine.Status()
}

// SenderStatus returns per-sender status.
func (d *Dispatcher) SenderStatus() []sender.Status {
	return d.senders.Status()
}

// SenderList returns the configured sender names.
func (d *Dispatcher) SenderList() []string {
	return d.senders.List()
}

// SenderBlackout forces an immediate frame on name, or every sender if
// name is "".
func (d *Dispatcher) SenderBlackout(name string) error {
	return d.senders.Blackout(name)
}

// SenderRemove removes a sender from both the live fan-out and the
// persisted settings.
func (d *Dispatcher) SenderRemove(name string) error {
	if err := d.senders.Remove(name); err != nil {
		return err
	}
	return d.cfg.RemoveSender(name)
}

// ConfigReload reloads settings.json and config.json from disk.
func (d *Dispatcher) ConfigReload() error {
	return d.cfg.Reload()
}

// ConfigSave persists settings.json and config.json to disk.
func (d *Dispatcher) ConfigSave() error {
	return d.cfg.Save()
}

// ConfigShow renders the current in-memory configuration as JSON.
func (d *Dispatcher) ConfigShow() (string, error) {
	return d.cfg.PrintRawConfig()
}
