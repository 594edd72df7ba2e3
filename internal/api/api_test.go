package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/config"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dispatch"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/engine"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/fallback"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/retransmit"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/sender"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/universe"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	buf := universe.New()
	eng := engine.New(log, buf)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	senders := sender.New(log, buf, eng)
	cfg, err := config.NewManager(t.TempDir())
	require.NoError(t, err)
	fb := fallback.New(log, eng)
	rt := retransmit.New(log, senders)
	dsp := dispatch.New(eng, senders, cfg, fb)
	return New(log, dsp, eng, cfg, fb, rt, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSceneCRUDAndPlay(t *testing.T) {
	s := newTestServer(t)

	createBody := map[string]any{"id": "s1", "name": "Scene One", "channels": []any{100, nil, 50}}
	rec := doJSON(t, s, http.MethodPost, "/api/scenes", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodGet, "/api/scenes/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/scenes/s1/play", map[string]any{"transition_time": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodDelete, "/api/scenes/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/scenes/s1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlayUnknownSceneReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/scenes/nope/play", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSceneWithoutIDReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/scenes", map[string]any{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelSetAndUpdate(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/dmx/channel/5", map[string]any{"value": 200})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/api/dmx/channel/0", map[string]any{"value": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlackoutEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/dmx/blackout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRetransmitSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/settings/dmx-retransmission", map[string]any{"enabled": true, "interval_seconds": 2.5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/settings/dmx-retransmission", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Enabled  bool    `json:"enabled"`
		Interval float64 `json:"interval"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Enabled)
	assert.Equal(t, 2.5, body.Interval)
}

func TestFollowersSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	fm := model.FollowerMap{Enabled: true, Leaders: map[int][]int{1: {2, 3}}}
	rec := doJSON(t, s, http.MethodPost, "/api/settings/dmx-followers", fm)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/settings/dmx-followers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.FollowerMap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Enabled)
	assert.Len(t, got.Leaders[1], 2)
}

func TestFallbackDelaySetRequiresValidKind(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/settings/fallback-delay", map[string]any{"kind": "bogus", "delay_seconds": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/settings/fallback-delay", map[string]any{"kind": "scene", "delay_seconds": 3})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestArtNetNodesEndpointHandlesNilDiscovery(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/artnet/nodes", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
