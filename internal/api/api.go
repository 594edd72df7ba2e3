// Package api is the HTTP/REST half of the Command Dispatcher's
// boundary: a gorilla/mux router exposing the resources in the
// external interface surface for a browser console.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/artnet"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/config"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dispatch"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/dmxerr"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/engine"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/fallback"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/logger"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/model"
	"github.com/RBEGamer/mqtt-dmx-sequencer/internal/retransmit"
)

// Server owns the HTTP router and its dependencies.
type Server struct {
	log    *logger.Log
	dsp    *dispatch.Dispatcher
	eng    *engine.Engine
	cfg    *config.Manager
	fb     *fallback.Controller
	rt     *retransmit.Loop
	disc   *artnet.Discovery
	router *mux.Router
}

// New builds a Server with all routes registered. disc may be nil when no
// Art-Net interface was found at startup, in which case the discovery
// endpoint always reports an empty node list.
func New(log *logger.Log, dsp *dispatch.Dispatcher, eng *engine.Engine, cfg *config.Manager, fb *fallback.Controller, rt *retransmit.Loop, disc *artnet.Discovery) *Server {
	s := &Server{log: log, dsp: dsp, eng: eng, cfg: cfg, fb: fb, rt: rt, disc: disc, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/config", s.handleConfigGet).Methods(http.MethodGet)

	r.HandleFunc("/api/scenes", s.handleScenesList).Methods(http.MethodGet)
	r.HandleFunc("/api/scenes", s.handleSceneCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/scenes/{id}", s.handleSceneGet).Methods(http.MethodGet)
	r.HandleFunc("/api/scenes/{id}", s.handleSceneUpsert).Methods(http.MethodPut)
	r.HandleFunc("/api/scenes/{id}", s.handleSceneDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/scenes/{id}/play", s.handleScenePlay).Methods(http.MethodPost)

	r.HandleFunc("/api/sequences", s.handleSequencesList).Methods(http.MethodGet)
	r.HandleFunc("/api/sequences", s.handleSequenceCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/sequences/{id}", s.handleSequenceGet).Methods(http.MethodGet)
	r.HandleFunc("/api/sequences/{id}", s.handleSequenceUpsert).Methods(http.MethodPut)
	r.HandleFunc("/api/sequences/{id}", s.handleSequenceDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/sequences/{id}/play", s.handleSequencePlay).Methods(http.MethodPost)

	r.HandleFunc("/api/programmable", s.handleProgrammableList).Methods(http.MethodGet)
	r.HandleFunc("/api/programmable", s.handleProgrammableCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/programmable/{id}", s.handleProgrammableGet).Methods(http.MethodGet)
	r.HandleFunc("/api/programmable/{id}", s.handleProgrammableUpsert).Methods(http.MethodPut)
	r.HandleFunc("/api/programmable/{id}", s.handleProgrammableDelete).Methods(http.MethodDelete)
	r.HandleFunc("/api/programmable/{id}/play", s.handleProgrammablePlay).Methods(http.MethodPost)

	r.HandleFunc("/api/dmx/channel/{n}", s.handleChannelSet).Methods(http.MethodPost)
	r.HandleFunc("/api/dmx/all", s.handleChannelsSet).Methods(http.MethodPost)
	r.HandleFunc("/api/dmx/blackout", s.handleBlackout).Methods(http.MethodPost)
	r.HandleFunc("/api/dmx/channel-update", s.handleChannelUpdate).Methods(http.MethodGet)

	r.HandleFunc("/api/playback/stop", s.handlePlaybackStop).Methods(http.MethodPost)
	r.HandleFunc("/api/playback/status", s.handlePlaybackStatus).Methods(http.MethodGet)

	r.HandleFunc("/api/autostart", s.handleAutostartGet).Methods(http.MethodGet)
	r.HandleFunc("/api/autostart", s.handleAutostartSet).Methods(http.MethodPost)
	r.HandleFunc("/api/autostart", s.handleAutostartDelete).Methods(http.MethodDelete)

	r.HandleFunc("/api/fallback", s.handleFallbackGet).Methods(http.MethodGet)
	r.HandleFunc("/api/fallback", s.handleFallbackSet).Methods(http.MethodPost)
	r.HandleFunc("/api/fallback", s.handleFallbackDelete).Methods(http.MethodDelete)

	r.HandleFunc("/api/settings/dmx-retransmission", s.handleRetransmitGet).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/dmx-retransmission", s.handleRetransmitSet).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/dmx-followers", s.handleFollowersGet).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/dmx-followers", s.handleFollowersSet).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/fallback-delay", s.handleFallbackDelaySet).Methods(http.MethodPost)

	r.HandleFunc("/api/artnet/nodes", s.handleArtNetNodes).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeErr maps the dispatch error taxonomy to the spec's status codes.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dmxerr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, dmxerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dmxerr.ErrConflict):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func pathInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[name])
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return dmxerr.Invalid("decode request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfigGet serves the loaded configuration. A plain GET returns
// the structured JSON view; ?detail=full renders the sectioned
// human-readable summary, and ?detail=raw renders the indented raw
// JSON dump of both files. The last two are the views the CLI's
// --print-config and --show-config flags print on stdout.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("detail") {
	case "full":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(s.cfg.PrintFullConfig()))
	case "raw":
		raw, err := s.cfg.PrintRawConfig()
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(raw))
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"settings": s.cfg.Settings(),
			"document": s.cfg.Document(),
		})
	}
}

// --- Scenes ---

func (s *Server) handleScenesList(w http.ResponseWriter, _ *http.Request) {
	doc := s.cfg.Document()
	writeJSON(w, http.StatusOK, doc.Scenes)
}

func (s *Server) handleSceneGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	scene, ok := doc.Scenes[id]
	if !ok {
		writeErr(w, dmxerr.NotFound("scene %q", id))
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) handleSceneCreate(w http.ResponseWriter, r *http.Request) {
	var scene model.Scene
	if err := decodeBody(r, &scene); err != nil {
		writeErr(w, err)
		return
	}
	if scene.ID == "" {
		writeErr(w, dmxerr.Invalid("scene id is required"))
		return
	}
	doc := s.cfg.Document()
	doc.Scenes[scene.ID] = scene
	s.cfg.SetDocument(doc)
	s.eng.PutScene(scene)
	writeJSON(w, http.StatusCreated, scene)
}

func (s *Server) handleSceneUpsert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var scene model.Scene
	if err := decodeBody(r, &scene); err != nil {
		writeErr(w, err)
		return
	}
	scene.ID = id
	doc := s.cfg.Document()
	doc.Scenes[id] = scene
	s.cfg.SetDocument(doc)
	s.eng.PutScene(scene)
	writeJSON(w, http.StatusOK, scene)
}

func (s *Server) handleSceneDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	if _, ok := doc.Scenes[id]; !ok {
		writeErr(w, dmxerr.NotFound("scene %q", id))
		return
	}
	delete(doc.Scenes, id)
	s.cfg.SetDocument(doc)
	s.eng.DeleteScene(id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleScenePlay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		TransitionTime float64 `json:"transition_time"`
	}
	_ = decodeBody(r, &body)
	if err := s.dsp.PlayScene(id, body.TransitionTime); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Sequences ---

func (s *Server) handleSequencesList(w http.ResponseWriter, _ *http.Request) {
	doc := s.cfg.Document()
	writeJSON(w, http.StatusOK, doc.Sequences)
}

func (s *Server) handleSequenceGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	seq, ok := doc.Sequences[id]
	if !ok {
		writeErr(w, dmxerr.NotFound("sequence %q", id))
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) handleSequenceCreate(w http.ResponseWriter, r *http.Request) {
	var seq model.Sequence
	if err := decodeBody(r, &seq); err != nil {
		writeErr(w, err)
		return
	}
	if seq.ID == "" {
		writeErr(w, dmxerr.Invalid("sequence id is required"))
		return
	}
	doc := s.cfg.Document()
	doc.Sequences[seq.ID] = seq
	s.cfg.SetDocument(doc)
	s.eng.PutSequence(seq)
	writeJSON(w, http.StatusCreated, seq)
}

func (s *Server) handleSequenceUpsert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var seq model.Sequence
	if err := decodeBody(r, &seq); err != nil {
		writeErr(w, err)
		return
	}
	seq.ID = id
	doc := s.cfg.Document()
	doc.Sequences[id] = seq
	s.cfg.SetDocument(doc)
	s.eng.PutSequence(seq)
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) handleSequenceDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	if _, ok := doc.Sequences[id]; !ok {
		writeErr(w, dmxerr.NotFound("sequence %q", id))
		return
	}
	delete(doc.Sequences, id)
	s.cfg.SetDocument(doc)
	s.eng.DeleteSequence(id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSequencePlay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.dsp.PlaySequence(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Programmable scenes ---

func (s *Server) handleProgrammableList(w http.ResponseWriter, _ *http.Request) {
	doc := s.cfg.Document()
	writeJSON(w, http.StatusOK, doc.ProgrammableScenes)
}

func (s *Server) handleProgrammableGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	prog, ok := doc.ProgrammableScenes[id]
	if !ok {
		writeErr(w, dmxerr.NotFound("programmable scene %q", id))
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleProgrammableCreate(w http.ResponseWriter, r *http.Request) {
	var prog model.ProgrammableScene
	if err := decodeBody(r, &prog); err != nil {
		writeErr(w, err)
		return
	}
	if prog.ID == "" {
		writeErr(w, dmxerr.Invalid("programmable scene id is required"))
		return
	}
	if errs := s.eng.PutProgrammable(prog); len(errs) > 0 {
		s.log.With(logger.Fields{"module": "api"}).Warnf("programmable %s has %d expression errors", prog.ID, len(errs))
	}
	doc := s.cfg.Document()
	doc.ProgrammableScenes[prog.ID] = prog
	s.cfg.SetDocument(doc)
	writeJSON(w, http.StatusCreated, prog)
}

func (s *Server) handleProgrammableUpsert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var prog model.ProgrammableScene
	if err := decodeBody(r, &prog); err != nil {
		writeErr(w, err)
		return
	}
	prog.ID = id
	if errs := s.eng.PutProgrammable(prog); len(errs) > 0 {
		s.log.With(logger.Fields{"module": "api"}).Warnf("programmable %s has %d expression errors", prog.ID, len(errs))
	}
	doc := s.cfg.Document()
	doc.ProgrammableScenes[id] = prog
	s.cfg.SetDocument(doc)
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleProgrammableDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	doc := s.cfg.Document()
	if _, ok := doc.ProgrammableScenes[id]; !ok {
		writeErr(w, dmxerr.NotFound("programmable scene %q", id))
		return
	}
	delete(doc.ProgrammableScenes, id)
	s.cfg.SetDocument(doc)
	s.eng.DeleteProgrammable(id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleProgrammablePlay(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.dsp.PlayProgrammable(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Direct channel control ---

func (s *Server) handleChannelSet(w http.ResponseWriter, r *http.Request) {
	n, err := pathInt(r, "n")
	if err != nil {
		writeErr(w, dmxerr.Invalid("invalid channel in path: %v", err))
		return
	}
	var body struct {
		Value int `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.dsp.SetChannel(n, body.Value, "api"); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleChannelsSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channels map[string]int `json:"channels"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	values := make(map[int]int, len(body.Channels))
	for k, v := range body.Channels {
		ch, err := strconv.Atoi(k)
		if err != nil {
			writeErr(w, dmxerr.Invalid("invalid channel key %q", k))
			return
		}
		values[ch] = v
	}
	if err := s.dsp.SetChannels(values); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlackout(w http.ResponseWriter, _ *http.Request) {
	if err := s.dsp.Blackout(); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleChannelUpdate(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dsp.LastChannelUpdate())
}

// --- Playback ---

func (s *Server) handlePlaybackStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.dsp.Stop(); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePlaybackStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.dsp.Status())
}

// --- Autostart ---

func (s *Server) handleAutostartGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Document().Autostart)
}

func (s *Server) handleAutostartSet(w http.ResponseWriter, r *http.Request) {
	var cfg model.AutostartConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeErr(w, err)
		return
	}
	doc := s.cfg.Document()
	doc.Autostart = cfg
	s.cfg.SetDocument(doc)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAutostartDelete(w http.ResponseWriter, _ *http.Request) {
	doc := s.cfg.Document()
	doc.Autostart = model.AutostartConfig{}
	s.cfg.SetDocument(doc)
	w.WriteHeader(http.StatusOK)
}

// --- Fallback ---

func (s *Server) handleFallbackGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.FallbackConfig{Scene: s.fb.Scene(), Sequence: s.fb.Sequence()})
}

func (s *Server) handleFallbackSet(w http.ResponseWriter, r *http.Request) {
	var cfg model.FallbackConfig
	if err := decodeBody(r, &cfg); err != nil {
		writeErr(w, err)
		return
	}
	s.fb.Configure(cfg.Scene, cfg.Sequence)
	doc := s.cfg.Document()
	doc.Fallback = cfg
	s.cfg.SetDocument(doc)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFallbackDelete(w http.ResponseWriter, _ *http.Request) {
	s.fb.Configure(model.FallbackSlot{}, model.FallbackSlot{})
	doc := s.cfg.Document()
	doc.Fallback = model.FallbackConfig{}
	s.cfg.SetDocument(doc)
	w.WriteHeader(http.StatusOK)
}

// --- Settings ---

func (s *Server) handleRetransmitGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":  s.rt.Enabled(),
		"interval": s.rt.Interval().Seconds(),
	})
}

func (s *Server) handleRetransmitSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled         bool    `json:"enabled"`
		IntervalSeconds float64 `json:"interval_seconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	if body.IntervalSeconds > 0 {
		s.rt.SetInterval(time.Duration(body.IntervalSeconds * float64(time.Second)))
	}
	s.rt.SetEnabled(body.Enabled)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFollowersGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Buffer().FollowerMap())
}

func (s *Server) handleFollowersSet(w http.ResponseWriter, r *http.Request) {
	var fm model.FollowerMap
	if err := decodeBody(r, &fm); err != nil {
		writeErr(w, err)
		return
	}
	s.eng.Buffer().SetFollowerMap(fm)
	settings := s.cfg.Settings()
	settings.Followers = fm
	s.cfg.SetSettings(settings)
	w.WriteHeader(http.StatusOK)
}

// --- Art-Net discovery ---

func (s *Server) handleArtNetNodes(w http.ResponseWriter, _ *http.Request) {
	if s.disc == nil {
		writeJSON(w, http.StatusOK, artnet.DiscoveredNodes{})
		return
	}
	writeJSON(w, http.StatusOK, s.disc.Nodes())
}

func (s *Server) handleFallbackDelaySet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind    string  `json:"kind"`
		Seconds float64 `json:"delay_seconds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, err)
		return
	}
	scene, seq := s.fb.Scene(), s.fb.Sequence()
	switch body.Kind {
	case "scene":
		scene.DelaySeconds = body.Seconds
	case "sequence":
		seq.DelaySeconds = body.Seconds
	default:
		writeErr(w, dmxerr.Invalid("kind must be \"scene\" or \"sequence\""))
		return
	}
	s.fb.Configure(scene, seq)
	w.WriteHeader(http.StatusOK)
}
