// Package sender implements the Sender Fan-out: one goroutine per
// configured DMX sender, each independently snapshotting the Universe
// Buffer at its own fps and transmitting on its wire protocol.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/artnet"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/sacn"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

// frameSender is satisfied by both artnet.Framer and sacn.Framer.
type frameSender interface {
	Send(frame universe.Frame) error
	PacketsSent() uint64
	Close() error
}

// Status is the per-sender status exposed to the Command Dispatcher.
type Status struct {
	Name        string        `json:"name"`
	Protocol    model.Protocol `json:"protocol"`
	Target      string        `json:"target"`
	Universe    int           `json:"universe"`
	FPS         int           `json:"fps"`
	PacketsSent uint64        `json:"packets_sent"`
	LastError   string        `json:"last_error,omitempty"`
}

type running struct {
	desc     model.SenderDescriptor
	framer   frameSender
	cancel   context.CancelFunc
	done     chan struct{}
	forceCh  chan struct{}
	lastErr  atomic.Pointer[string]
}

// TickRateObserver is notified whenever the slowest configured sender's
// fps changes, so the Playback Engine can match its clock to it.
type TickRateObserver interface {
	SetTickHz(hz int)
}

// Manager owns the live set of senders.
type Manager struct {
	log *logger.Log
	buf *universe.Buffer

	mu       sync.RWMutex
	senders  map[string]*running
	observer TickRateObserver
}

// New constructs an empty Manager.
func New(log *logger.Log, buf *universe.Buffer, observer TickRateObserver) *Manager {
	return &Manager{log: log, buf: buf, senders: map[string]*running{}, observer: observer}
}

// Add opens a new sender from desc. Names must be unique.
func (m *Manager) Add(ctx context.Context, desc model.SenderDescriptor) error {
	if err := desc.Validate(); err != nil {
		return dmxerr.Invalid("%v", err)
	}
	desc.FPS = model.ClampFPS(desc.FPS)

	m.mu.Lock()
	if _, exists := m.senders[desc.Name]; exists {
		m.mu.Unlock()
		return dmxerr.Conflict("sender %q already exists", desc.Name)
	}

	framer, err := openFramer(desc)
	if err != nil {
		m.mu.Unlock()
		return dmxerr.Fatal("open sender %q: %v", desc.Name, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	rs := &running{
		desc:    desc,
		framer:  framer,
		cancel:  cancel,
		done:    make(chan struct{}),
		forceCh: make(chan struct{}, 1),
	}
	m.senders[desc.Name] = rs
	go m.run(sctx, rs)
	m.mu.Unlock()
	m.notifyTickRate()
	return nil
}

// Remove stops and closes the named sender.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	rs, ok := m.senders[name]
	if !ok {
		m.mu.Unlock()
		return dmxerr.NotFound("sender %q", name)
	}
	delete(m.senders, name)
	m.mu.Unlock()

	rs.cancel()
	<-rs.done
	m.notifyTickRate()
	return nil
}

// List returns the configured sender names.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.senders))
	for name := range m.senders {
		out = append(out, name)
	}
	return out
}

// Status returns a point-in-time status for every sender.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.senders))
	for _, rs := range m.senders {
		s := Status{
			Name:        rs.desc.Name,
			Protocol:    rs.desc.Protocol,
			Target:      rs.desc.Target,
			Universe:    rs.desc.Universe,
			FPS:         rs.desc.FPS,
			PacketsSent: rs.framer.PacketsSent(),
		}
		if e := rs.lastErr.Load(); e != nil {
			s.LastError = *e
		}
		out = append(out, s)
	}
	return out
}

// Blackout zeros the buffer (shared across all senders) and forces an
// immediate frame on the named sender, or every sender if name is "".
func (m *Manager) Blackout(name string) error {
	m.buf.Blackout()
	return m.ForceFrame(name)
}

// ForceFrame requests an out-of-cadence frame from the named sender, or
// every sender if name is "". Used by Blackout and by the Retransmit
// Loop.
func (m *Manager) ForceFrame(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name != "" {
		rs, ok := m.senders[name]
		if !ok {
			return dmxerr.NotFound("sender %q", name)
		}
		trigger(rs)
		return nil
	}
	for _, rs := range m.senders {
		trigger(rs)
	}
	return nil
}

func trigger(rs *running) {
	select {
	case rs.forceCh <- struct{}{}:
	default:
	}
}

func (m *Manager) notifyTickRate() {
	if m.observer == nil {
		return
	}
	min := 0
	m.mu.RLock()
	for _, rs := range m.senders {
		if min == 0 || rs.desc.FPS < min {
			min = rs.desc.FPS
		}
	}
	m.mu.RUnlock()
	if min == 0 {
		min = 40
	}
	m.observer.SetTickHz(min)
}

func openFramer(desc model.SenderDescriptor) (frameSender, error) {
	switch desc.Protocol {
	case model.ProtocolArtNet:
		port := desc.Port
		if port == 0 {
			port = artnet.DefaultPort
		}
		return artnet.NewFramer(desc.Target, port, uint16(desc.Universe))
	case model.ProtocolE131:
		port := desc.Port
		if port == 0 {
			port = sacn.DefaultPort
		}
		return sacn.NewFramer(desc.Target, port, uint16(desc.Universe), desc.Name)
	default:
		return nil, fmt.Errorf("unknown protocol %q", desc.Protocol)
	}
}

// run drives one sender's ticker. A dmxerr.ErrTransient send failure is
// logged and counted without disturbing the socket. Anything else is
// treated as dmxerr.ErrFatal: the framer is reopened immediately, and a
// failed reopen backs off exponentially, capped at 30s.
func (m *Manager) run(ctx context.Context, rs *running) {
	defer close(rs.done)
	defer rs.framer.Close()

	interval := time.Second / time.Duration(model.ClampFPS(rs.desc.FPS))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	send := func() {
		frame := m.buf.Snapshot()
		err := rs.framer.Send(frame)
		if err == nil {
			return
		}
		msg := err.Error()
		rs.lastErr.Store(&msg)

		if errors.Is(err, dmxerr.ErrTransient) {
			m.log.With(logger.Fields{"module": "sender", "sender": rs.desc.Name}).Warnf("transient send failure: %v", err)
			return
		}

		m.log.With(logger.Fields{"module": "sender", "sender": rs.desc.Name}).Errorf("fatal send failure, reopening: %v", err)
		newFramer, reopenErr := openFramer(rs.desc)
		if reopenErr != nil {
			m.log.With(logger.Fields{"module": "sender", "sender": rs.desc.Name}).Errorf(
				"reopen failed, retrying in %s: %v", backoff, reopenErr)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			return
		}
		rs.framer.Close()
		rs.framer = newFramer
		backoff = time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		case <-rs.forceCh:
			send()
		}
	}
}
