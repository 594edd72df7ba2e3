// Package sacn implements E1.31 (Streaming ACN) DMX framing: the ACN
// root layer, framing layer and DMP layer, sent over UDP to a unicast
// target or the protocol's per-universe multicast group. No E1.31
// library appears anywhere in the retrieval pack, so this is a direct
// translation of the ANSI E1.31 layout into encoding/binary calls.
package sacn

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

// DefaultPort is the standard E1.31 UDP port.
const DefaultPort = 5568

const (
	vectorRootData    = 0x00000004
	vectorFrameData   = 0x00000002
	vectorDMPSetProp  = 0x02
	dmpAddrTypeInc    = 0xA1
	dmxStartCode      = 0x00
	propertyValueCnt  = 513 // start code + 512 channels
	defaultPriority   = 100
)

// MulticastGroup returns the per-universe multicast address
// 239.255.X.Y where X is the high byte and Y the low byte of universe.
func MulticastGroup(universeID uint16) string {
	return fmt.Sprintf("239.255.%d.%d", byte(universeID>>8), byte(universeID))
}

// BuildDMX encodes one E1.31 data packet for universeID, sourceName (at
// most 63 bytes) and the given CID, using sequence as the 8-bit wrapping
// frame counter.
func BuildDMX(cid uuid.UUID, sourceName string, universeID uint16, sequence uint8, frame universe.Frame) []byte {
	const (
		rootLen       = 38
		frameLen      = 77
		dmpHeaderLen  = 10
	)
	dmpLen := dmpHeaderLen + 1 + len(frame) // +1 for the embedded DMX start code
	total := rootLen + frameLen + dmpLen

	buf := make([]byte, total)

	// Root layer.
	binary.BigEndian.PutUint16(buf[0:2], 0x0010) // preamble size
	binary.BigEndian.PutUint16(buf[2:4], 0x0000) // postamble size
	copy(buf[4:16], []byte("ASC-E1.17\x00\x00\x00"))
	binary.BigEndian.PutUint16(buf[16:18], flagsAndLength(total-16))
	binary.BigEndian.PutUint32(buf[18:22], vectorRootData)
	cidBytes, _ := cid.MarshalBinary()
	copy(buf[22:38], cidBytes)

	// Framing layer.
	fStart := rootLen
	binary.BigEndian.PutUint16(buf[fStart:fStart+2], flagsAndLength(total-fStart))
	binary.BigEndian.PutUint32(buf[fStart+2:fStart+6], vectorFrameData)
	name := sourceName
	if len(name) > 63 {
		name = name[:63]
	}
	copy(buf[fStart+6:fStart+6+64], []byte(name))
	buf[fStart+70] = defaultPriority
	binary.BigEndian.PutUint16(buf[fStart+71:fStart+73], 0) // sync address
	buf[fStart+73] = sequence
	buf[fStart+74] = 0 // options
	binary.BigEndian.PutUint16(buf[fStart+75:fStart+77], universeID)

	// DMP layer.
	dStart := fStart + frameLen
	binary.BigEndian.PutUint16(buf[dStart:dStart+2], flagsAndLength(total-dStart))
	buf[dStart+2] = vectorDMPSetProp
	buf[dStart+3] = dmpAddrTypeInc
	binary.BigEndian.PutUint16(buf[dStart+4:dStart+6], 0x0000) // first property address
	binary.BigEndian.PutUint16(buf[dStart+6:dStart+8], 0x0001) // address increment
	binary.BigEndian.PutUint16(buf[dStart+8:dStart+10], propertyValueCnt)
	buf[dStart+10] = dmxStartCode
	copy(buf[dStart+11:], frame[:])

	return buf
}

// flagsAndLength packs the ACN "0x7-length" flags nibble with a 12-bit
// length, per the ACN root/framing/DMP PDU header format.
func flagsAndLength(length int) uint16 {
	return 0x7000 | uint16(length&0x0FFF)
}

// Framer transmits E1.31 data packets for one sender: a stable CID
// generated once at construction, and an 8-bit wrapping sequence.
type Framer struct {
	conn       *net.UDPConn
	cid        uuid.UUID
	sourceName string
	universe   uint16
	sequence   uint8
	sentCount  uint64
}

// NewFramer opens a UDP socket targeting target:port (unicast, or the
// protocol's multicast group when target is empty) for universeID.
func NewFramer(target string, port int, universeID uint16, sourceName string) (*Framer, error) {
	if port <= 0 {
		port = DefaultPort
	}
	if target == "" {
		target = MulticastGroup(universeID)
	}
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", target, port))
	if err != nil {
		return nil, fmt.Errorf("sacn: resolve target %s:%d: %w", target, port, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("sacn: dial %s: %w", addr, err)
	}
	return &Framer{
		conn:       conn,
		cid:        uuid.New(),
		sourceName: sourceName,
		universe:   universeID,
	}, nil
}

// Send transmits one frame, advancing the 8-bit wrapping sequence.
func (f *Framer) Send(frame universe.Frame) error {
	pkt := BuildDMX(f.cid, f.sourceName, f.universe, f.sequence, frame)
	f.sequence++
	if _, err := f.conn.Write(pkt); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return dmxerr.Transient("sacn: send: %v", err)
		}
		return dmxerr.Fatal("sacn: send: %v", err)
	}
	f.sentCount++
	return nil
}

// CID returns the sender's stable UUIDv4, constant for its lifetime.
func (f *Framer) CID() uuid.UUID { return f.cid }

// PacketsSent returns the number of frames successfully transmitted.
func (f *Framer) PacketsSent() uint64 { return f.sentCount }

// Close releases the underlying socket.
func (f *Framer) Close() error { return f.conn.Close() }
