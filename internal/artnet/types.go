package artnet

// NodeTopic names one discovered Art-Net node's output ports, surfaced
// by the discovery watcher for logging/status purposes.
type NodeTopic struct {
	Name      string
	OutputStr []string
	Output    []uint16
}

// DiscoveredNodes is a best-effort snapshot of visible Art-Net nodes.
type DiscoveredNodes struct {
	Descriptions []string
	Topics       []NodeTopic
}
