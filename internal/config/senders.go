package config

import (
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

// Senders returns the configured default DMX senders.
func (m *Manager) Senders() []model.SenderDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SenderDescriptor, len(m.settings.DMX.DefaultConfigs))
	copy(out, m.settings.DMX.DefaultConfigs)
	return out
}

// AddSender appends a validated sender descriptor to settings.json's
// default_configs, rejecting duplicate names.
func (m *Manager) AddSender(desc model.SenderDescriptor) error {
	if err := ValidateSenderConfig(desc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.settings.DMX.DefaultConfigs {
		if existing.Name == desc.Name {
			return dmxerr.Conflict("sender %q already exists", desc.Name)
		}
	}
	m.settings.DMX.DefaultConfigs = append(m.settings.DMX.DefaultConfigs, desc)
	return nil
}

// RemoveSender deletes a sender descriptor by name.
func (m *Manager) RemoveSender(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := m.settings.DMX.DefaultConfigs
	kept := make([]model.SenderDescriptor, 0, len(configs))
	found := false
	for _, c := range configs {
		if c.Name == name {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return dmxerr.NotFound("sender %q", name)
	}
	m.settings.DMX.DefaultConfigs = kept
	return nil
}
