// Package artnet builds and transmits Art-Net 3 ArtDMX packets and, via
// the teacher's own go-artnet dependency, listens for ArtPollReply
// traffic to keep a best-effort list of visible nodes.
package artnet

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

const (
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454

	opCodeDMX       = 0x5000
	protocolVersion = 14
	physicalPort    = 0
)

var artNetHeader = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0}

// BuildDMX encodes one ArtDMX packet: the 8-byte ID string, OpCode 0x5000
// (little-endian on the wire, i.e. low byte first per the spec), the
// protocol version, sequence, physical port, the 16-bit universe split
// into net/sub-net fields, a big-endian channel count, and the channel
// data itself.
func BuildDMX(sequence uint8, universeID uint16, frame universe.Frame) []byte {
	buf := make([]byte, 18+len(frame))
	copy(buf[0:8], artNetHeader[:])
	buf[8] = byte(opCodeDMX & 0xFF)
	buf[9] = byte(opCodeDMX >> 8)
	buf[10] = 0
	buf[11] = protocolVersion
	buf[12] = sequence
	buf[13] = physicalPort
	buf[14] = byte(universeID & 0xFF)        // SubUni
	buf[15] = byte((universeID >> 8) & 0x7F) // Net
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(frame)))
	copy(buf[18:], frame[:])
	return buf
}

// Framer transmits ArtDMX packets for one sender, maintaining its own
// monotonically wrapping 8-bit sequence number (1..255, never 0).
type Framer struct {
	conn      *net.UDPConn
	addr      *net.UDPAddr
	universe  uint16
	sequence  uint8
	sentCount uint64
}

// NewFramer opens a UDP socket targeting host:port (unicast or
// broadcast) for the given universe.
func NewFramer(target string, port int, universeID uint16) (*Framer, error) {
	if port <= 0 {
		port = DefaultPort
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", target, port))
	if err != nil {
		return nil, fmt.Errorf("art-net: resolve target %s:%d: %w", target, port, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("art-net: dial %s: %w", addr, err)
	}
	return &Framer{conn: conn, addr: addr, universe: universeID}, nil
}

// Send transmits one frame, advancing the sequence counter. The
// sequence wraps 1..255 and never emits 0 (0 means "sequencing
// disabled" per the Art-Net spec).
func (f *Framer) Send(frame universe.Frame) error {
	f.sequence++
	if f.sequence == 0 {
		f.sequence = 1
	}
	pkt := BuildDMX(f.sequence, f.universe, frame)
	if _, err := f.conn.Write(pkt); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return dmxerr.Transient("art-net: send: %v", err)
		}
		return dmxerr.Fatal("art-net: send: %v", err)
	}
	f.sentCount++
	return nil
}

// PacketsSent returns the number of frames successfully transmitted.
func (f *Framer) PacketsSent() uint64 { return f.sentCount }

// Close releases the underlying socket.
func (f *Framer) Close() error { return f.conn.Close() }
