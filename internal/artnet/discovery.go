package artnet

import (
	"fmt"
	"os"
	"strings"
	"time"

	artnetlib "github.com/Haba1234/go-artnet"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
)

// Discovery periodically polls the Art-Net network for visible nodes
// using the teacher's own go-artnet controller, the way
// artnet2mqtt's ArtNet.debugDevices did -- trimmed here to discovery
// only, since frame transmission is handled by Framer.
type Discovery struct {
	log     *logger.Log
	sender  *artnetlib.Controller
	stopCh  chan struct{}
}

// NewDiscovery builds a Discovery bound to the host's own Art-Net
// interface. If no interface matches the Art-Net address range,
// discovery runs disabled and Nodes always reports empty.
func NewDiscovery(log *logger.Log) (*Discovery, error) {
	ip, err := FindArtNetIP()
	if err != nil {
		return nil, fmt.Errorf("art-net discovery: %w", err)
	}
	if ip == nil {
		return &Discovery{log: log}, nil
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("art-net discovery: resolve hostname: %w", err)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	sender := artnetlib.NewController(host, ip, artnetlib.NewDefaultLogger("info"), artnetlib.MaxFPS(1))
	return &Discovery{log: log, sender: sender, stopCh: make(chan struct{})}, nil
}

// Start begins the background poll. No-op if no Art-Net interface was
// found at construction time.
func (d *Discovery) Start() error {
	if d.sender == nil {
		return nil
	}
	if err := d.sender.Start(); err != nil {
		return fmt.Errorf("art-net discovery: start controller: %w", err)
	}
	go d.poll()
	return nil
}

// Stop halts the background poll and releases the controller.
func (d *Discovery) Stop() {
	if d.sender == nil {
		return
	}
	close(d.stopCh)
	d.sender.Stop()
}

func (d *Discovery) poll() {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-t.C:
			nodes := d.Nodes()
			d.log.With(logger.Fields{"module": "artnet.discovery"}).Debugf(
				"currently %d art-net nodes visible: %v", len(nodes.Descriptions), nodes.Descriptions)
		}
	}
}

// Nodes returns a best-effort snapshot of currently visible Art-Net
// nodes.
func (d *Discovery) Nodes() DiscoveredNodes {
	if d.sender == nil {
		return DiscoveredNodes{}
	}
	out := DiscoveredNodes{}
	for _, n := range d.sender.Nodes {
		desc, topic := nodeToString(n)
		out.Descriptions = append(out.Descriptions, desc)
		out.Topics = append(out.Topics, topic)
	}
	return out
}

func nodeToString(n *artnetlib.ControlledNode) (string, NodeTopic) {
	var inputs, outputs []string
	var out []uint16
	var outStr []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
		out = append(out, uint16(p.Address.Integer()))
		outStr = append(outStr, p.Address.String())
	}

	return fmt.Sprintf(
			" | IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
			n.UDPAddress.String(), n.Node.Name, n.Node.Type,
			n.Node.Manufacturer, n.Node.Description,
			strings.Join(inputs, "; "), strings.Join(outputs, "; "),
		), NodeTopic{
			Name:      n.Node.Name,
			OutputStr: outStr,
			Output:    out,
		}
}
