package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
)

func TestNewManagerDefaultsWhenFilesMissing(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	settings := m.Settings()
	assert.Equal(t, "mqtt-dmx-sequencer", settings.MQTT.ClientID)

	doc := m.Document()
	assert.NotNil(t, doc.Scenes)
	assert.NotNil(t, doc.Sequences)
	assert.NotNil(t, doc.ProgrammableScenes)
}

func TestSaveReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	settings := m.Settings()
	settings.MQTT.URL = "mqtt://example.invalid"
	m.SetSettings(settings)

	doc := m.Document()
	doc.Scenes["s1"] = model.Scene{ID: "s1", Name: "Scene One"}
	m.SetDocument(doc)

	require.NoError(t, m.Save())

	m2, err := NewManager(dir)
	require.NoError(t, err)
	assert.Equal(t, "mqtt://example.invalid", m2.Settings().MQTT.URL)
	_, ok := m2.Document().Scenes["s1"]
	assert.True(t, ok, "reloaded document is missing scene s1")
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	doc := m.Document()
	doc.Scenes["s1"] = model.Scene{ID: "s1"}
	m.SetDocument(doc)
	require.NoError(t, m.Save())

	m2, err := NewManager(dir)
	require.NoError(t, err)
	doc2 := m2.Document()
	doc2.Scenes["s2"] = model.Scene{ID: "s2"}
	m2.SetDocument(doc2)
	require.NoError(t, m2.Save())

	require.NoError(t, m.Reload())
	_, ok := m.Document().Scenes["s2"]
	assert.True(t, ok, "Reload did not pick up s2 written by another manager instance")
}

func TestPrintRawConfigRendersBothFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	raw, err := m.PrintRawConfig()
	require.NoError(t, err)
	assert.Contains(t, raw, "settings.json:")
	assert.Contains(t, raw, "config.json:")
}

func TestValidateSenderConfig(t *testing.T) {
	assert.NoError(t, ValidateSenderConfig(model.SenderDescriptor{Name: "a", Protocol: model.ProtocolArtNet, Universe: 0}))
	assert.Error(t, ValidateSenderConfig(model.SenderDescriptor{Name: "", Protocol: model.ProtocolArtNet}))
	assert.Error(t, ValidateSenderConfig(model.SenderDescriptor{Name: "a", Protocol: "bogus"}))
}

func TestAddAndRemoveSender(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.AddSender(model.SenderDescriptor{Name: "extra", Protocol: model.ProtocolE131, Universe: 2, Target: "10.0.0.5"}))
	assert.Error(t, m.AddSender(model.SenderDescriptor{Name: "extra", Protocol: model.ProtocolE131, Universe: 3}), "expected conflict adding a duplicate sender name")

	require.NoError(t, m.RemoveSender("extra"))
	assert.Error(t, m.RemoveSender("extra"), "expected not-found removing an already-removed sender")
}

func TestSettingsFilesUseDirJoin(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	require.NoError(t, m.Save())
	_, err = filepath.Abs(filepath.Join(dir, settingsFileName))
	assert.NoError(t, err)
}
