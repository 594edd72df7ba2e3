package sender

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

type fakeObserver struct {
	hz int
}

func (f *fakeObserver) SetTickHz(hz int) { f.hz = hz }

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func newTestManager(t *testing.T) (*Manager, *fakeObserver) {
	t.Helper()
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	obs := &fakeObserver{}
	return New(log, universe.New(), obs), obs
}

func TestAddRejectsInvalidDescriptor(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Add(context.Background(), model.SenderDescriptor{Name: "a", Protocol: model.ProtocolArtNet, Universe: -1})
	assert.Error(t, err, "expected validation error for negative universe")
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	desc := model.SenderDescriptor{Name: "main", Protocol: model.ProtocolArtNet, Target: "127.0.0.1", Port: freeUDPPort(t), FPS: 40}
	require.NoError(t, m.Add(ctx, desc))
	assert.Error(t, m.Add(ctx, desc), "expected conflict error adding a duplicate sender name")
}

func TestAddNotifiesTickRateWithSlowestFPS(t *testing.T) {
	m, obs := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Add(ctx, model.SenderDescriptor{Name: "fast", Protocol: model.ProtocolArtNet, Target: "127.0.0.1", Port: freeUDPPort(t), FPS: 60}))
	require.NoError(t, m.Add(ctx, model.SenderDescriptor{Name: "slow", Protocol: model.ProtocolArtNet, Target: "127.0.0.1", Port: freeUDPPort(t), FPS: 25}))
	assert.Equal(t, 25, obs.hz, "tick rate must follow the slowest configured sender")
}

func TestRemoveUnknownSenderErrors(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.Remove("nope"))
}

func TestForceFrameUnknownSenderErrors(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Error(t, m.ForceFrame("nope"))
}

func TestListAndStatusReflectAddedSenders(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	desc := model.SenderDescriptor{Name: "main", Protocol: model.ProtocolE131, Target: "127.0.0.1", Port: freeUDPPort(t), Universe: 1, FPS: 40}
	require.NoError(t, m.Add(ctx, desc))

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "main", list[0])

	status := m.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "main", status[0].Name)
	assert.Equal(t, model.ProtocolE131, status[0].Protocol)
}

func TestBlackoutForcesFrameAndZerosBuffer(t *testing.T) {
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	buf := universe.New()
	buf.Write(1, 200)
	m := New(log, buf, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Add(ctx, model.SenderDescriptor{Name: "main", Protocol: model.ProtocolArtNet, Target: "127.0.0.1", Port: freeUDPPort(t), FPS: 40}))
	require.NoError(t, m.Blackout(""))
	snap := buf.Snapshot()
	assert.Zero(t, snap[0])
}

func TestRemoveStopsTheSenderGoroutine(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Add(ctx, model.SenderDescriptor{Name: "main", Protocol: model.ProtocolArtNet, Target: "127.0.0.1", Port: freeUDPPort(t), FPS: 40}))
	done := make(chan struct{})
	go func() {
		assert.NoError(t, m.Remove("main"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Remove did not return within 2s; sender goroutine likely did not shut down")
	}
}
