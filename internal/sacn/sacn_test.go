package sacn

import (
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

func TestMulticastGroup(t *testing.T) {
	cases := map[uint16]string{
		1:     "239.255.0.1",
		256:   "239.255.1.0",
		63999: "239.255.249.255",
	}
	for universeID, want := range cases {
		assert.Equal(t, want, MulticastGroup(universeID), "MulticastGroup(%d)", universeID)
	}
}

func TestBuildDMXLayout(t *testing.T) {
	var frame universe.Frame
	frame[0] = 42
	frame[511] = 7

	cid := uuid.New()
	pkt := BuildDMX(cid, "main", 5, 9, frame)

	assert.Equal(t, "ASC-E1.17", string(pkt[4:13]))
	assert.Equal(t, byte(9), pkt[fStartOffset()+73], "framing layer sequence")
	dStart := fStartOffset() + 77
	assert.Equal(t, byte(vectorDMPSetProp), pkt[dStart+2])
	assert.Equal(t, byte(dmxStartCode), pkt[dStart+10])
	assert.Equal(t, byte(42), pkt[dStart+11])
	assert.Equal(t, byte(7), pkt[dStart+11+511])
}

func fStartOffset() int { return 38 } // rootLen, kept in sync with BuildDMX's layout

func TestFramerUsesMulticastWhenTargetEmpty(t *testing.T) {
	f, err := NewFramer("", 0, 7, "main")
	require.NoError(t, err)
	defer f.Close()
	assert.NotEqual(t, uuid.Nil, f.CID(), "Framer must generate a non-nil CID at construction")
}

func TestFramerSendIncrementsSequenceAndCount(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer conn.Close()

	f, err := NewFramer("127.0.0.1", conn.LocalAddr().(*net.UDPAddr).Port, 1, "main")
	require.NoError(t, err)
	defer f.Close()

	var frame universe.Frame
	require.NoError(t, f.Send(frame))
	require.NoError(t, f.Send(frame))
	assert.EqualValues(t, 2, f.sequence)
	assert.EqualValues(t, 2, f.PacketsSent())
}
