package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/clock"
	"github.com/tjfontaine/cassette-replay/internal/fetch"
	"github.com/tjfontaine/cassette-replay/internal/library"
	"github.com/tjfontaine/cassette-replay/internal/replay"
	"github.com/tjfontaine/cassette-replay/internal/storage"
	"github.com/tjfontaine/cassette-replay/internal/tokens"
)

// maxQueryDelay caps delays requested through query parameters.
const maxQueryDelay = 10 * time.Second

// Pacing is the default delay configuration for replays.
type Pacing struct {
	Interaction time.Duration
	Chunk       time.Duration
	StreamChunk time.Duration // replaces Chunk for streamed fixtures when non-zero
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithStore records every replay in store.
func WithStore(store storage.RunStore) HandlerOption {
	return func(h *Handler) {
		h.store = store
	}
}

// WithPacing sets the default replay delays.
func WithPacing(p Pacing) HandlerOption {
	return func(h *Handler) {
		h.pacing = p
	}
}

// WithClock sets the time source for replay delays and run timestamps.
func WithClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		h.clock = c
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRemote makes /resolve check the docs site through client when a
// fixture is not in the local library. base is used as the page location
// when a request omits one; it may be nil.
func WithRemote(client *fetch.Client, base *url.URL) HandlerOption {
	return func(h *Handler) {
		h.remote = client
		h.base = base
	}
}

// Handler serves fixtures and their replays from a Library.
type Handler struct {
	lib    *library.Library
	store  storage.RunStore
	remote *fetch.Client
	base   *url.URL
	pacing Pacing
	clock  clock.Clock
	logger *slog.Logger
}

// NewHandler creates a Handler over lib.
func NewHandler(lib *library.Library, opts ...HandlerOption) *Handler {
	h := &Handler{
		lib:    lib,
		clock:  clock.NewReal(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the replay routes. The request timeout covers every route
// except the replay streams, which TimeoutMiddleware recognises itself.
func (h *Handler) Register(r chi.Router, timeout time.Duration) {
	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(timeout))
		r.Get(replayPrefix+"{name}", h.handleReplaySSE)
		r.Get(wsReplayPrefix+"{name}", h.handleReplayWebSocket)
		r.Get("/healthz", h.handleHealth)
		r.Get("/cassettes", h.handleListCassettes)
		r.Get("/cassettes/{name}", h.handleGetCassette)
		r.Post("/resolve", h.handleResolve)
		if h.store != nil {
			r.Get("/runs", h.handleListRuns)
			r.Get("/runs/{id}", h.handleGetRun)
		}
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListCassettes(w http.ResponseWriter, r *http.Request) {
	names, err := h.lib.List()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"cassettes": names})
}

func (h *Handler) handleGetCassette(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	SetFixture(r.Context(), name)

	data, err := h.lib.Raw(name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type resolveRequest struct {
	Source   string `json:"source"`
	Location string `json:"location"`
}

type resolveResponse struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Remote    bool   `json:"remote,omitempty"` // found on the docs site, not locally
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		WriteError(w, r, &RequestError{Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	location := h.base
	if req.Location != "" || location == nil {
		var err error
		location, err = url.Parse(req.Location)
		if err != nil || location.Scheme == "" || location.Host == "" {
			WriteError(w, r, &RequestError{Message: "location must be an absolute URL"})
			return
		}
	}

	u, err := cassette.FixtureURL(req.Source, location)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := resolveResponse{URL: u.String(), Name: path.Base(u.Path)}
	if _, err := h.lib.Raw(resp.Name); err == nil {
		resp.Available = true
	} else if h.remote != nil {
		resp.Available = h.remote.Has(r.Context(), resp.URL)
		resp.Remote = resp.Available
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Fixture: q.Get("fixture"),
		Status:  storage.RunStatus(q.Get("status")),
	}
	var err error
	if opts.Limit, err = intParam(q, "limit", 50); err != nil {
		WriteError(w, r, err)
		return
	}
	if opts.Offset, err = intParam(q, "offset", 0); err != nil {
		WriteError(w, r, err)
		return
	}

	runs, err := h.store.ListRuns(r.Context(), opts)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]*storage.Run{"runs": runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &RequestError{Message: fmt.Sprintf("%s must be a non-negative integer", key)}
	}
	return n, nil
}

// delays builds replay delays from the configured pacing and the
// interaction_delay / chunk_delay query overrides.
func (h *Handler) delays(q url.Values) (replay.Delays, error) {
	interaction, err := durationParam(q, "interaction_delay", h.pacing.Interaction)
	if err != nil {
		return replay.Delays{}, err
	}

	chunk := replay.ByType(h.pacing.Chunk, nil)
	if h.pacing.StreamChunk > 0 {
		chunk = replay.ByType(h.pacing.Chunk, map[cassette.ReplayType]time.Duration{
			cassette.ReplayStream: h.pacing.StreamChunk,
		})
	}
	if q.Has("chunk_delay") {
		d, err := durationParam(q, "chunk_delay", 0)
		if err != nil {
			return replay.Delays{}, err
		}
		chunk = replay.Fixed(d)
	}

	return replay.Delays{Interaction: replay.Fixed(interaction), Chunk: chunk}, nil
}

func durationParam(q url.Values, key string, def time.Duration) (time.Duration, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		if ms, convErr := strconv.Atoi(v); convErr == nil {
			d, err = time.Duration(ms)*time.Millisecond, nil
		}
	}
	if err != nil || d < 0 || d > maxQueryDelay {
		return 0, &RequestError{Message: fmt.Sprintf("%s must be a duration between 0 and %s", key, maxQueryDelay)}
	}
	return d, nil
}

// runRecorder tracks one replay in the run log. All methods are no-ops
// without a store.
type runRecorder struct {
	h       *Handler
	run     *storage.Run
	model   string
	started time.Time
	text    strings.Builder
}

func (h *Handler) startRun(ctx context.Context, name string, f *cassette.Fixture, transport string) *runRecorder {
	rec := &runRecorder{h: h, model: f.Model(), started: h.clock.Now()}
	if h.store == nil {
		return rec
	}

	file, _ := library.Name(name)
	rec.run = &storage.Run{
		ID:           uuid.New().String(),
		Fixture:      file,
		ReplayType:   string(f.Type()),
		Transport:    transport,
		Status:       storage.RunRunning,
		Interactions: f.Len(),
		StartedAt:    rec.started,
	}
	if err := h.store.CreateRun(ctx, rec.run); err != nil {
		h.logger.Error("failed to record run", slog.String("error", err.Error()))
		rec.run = nil
		return rec
	}
	SetRunID(ctx, rec.run.ID)
	return rec
}

// ID is the run ID, or "" when runs are not recorded.
func (rec *runRecorder) ID() string {
	if rec.run == nil {
		return ""
	}
	return rec.run.ID
}

func (rec *runRecorder) chunk(text string) {
	rec.text.WriteString(text)
	if rec.run != nil {
		rec.run.Chunks++
	}
}

func (rec *runRecorder) finish(status storage.RunStatus, err error) {
	if rec.run == nil {
		return
	}
	if count, cerr := tokens.ForModel(rec.model).Count(rec.text.String()); cerr == nil {
		rec.run.Tokens = count.Tokens
	}
	rec.run.Finish(status, err, rec.h.clock.Now())

	// the request context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := rec.h.store.FinishRun(ctx, rec.run); serr != nil {
		rec.h.logger.Error("failed to finish run",
			slog.String("run_id", rec.run.ID),
			slog.String("error", serr.Error()))
	}
}
