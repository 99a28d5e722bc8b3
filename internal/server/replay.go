package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/replay"
	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// Replay event types.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Transports recorded on runs.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // fixtures are public documentation data
	},
}

// ReplayEvent is the payload of every SSE data line and websocket message.
type ReplayEvent struct {
	Type   string       `json:"type"`
	Index  int          `json:"index"`
	Text   string       `json:"text"`
	Chunks int          `json:"chunks,omitempty"`
	RunID  string       `json:"run_id,omitempty"`
	Error  *errorDetail `json:"error,omitempty"`
}

// prepareReplay resolves the fixture and delays before any transport has
// committed to a response, so failures are still plain HTTP errors.
func (h *Handler) prepareReplay(w http.ResponseWriter, r *http.Request) (string, *cassette.Fixture, replay.Delays, bool) {
	name := chi.URLParam(r, "name")
	SetFixture(r.Context(), name)

	delays, err := h.delays(r.URL.Query())
	if err != nil {
		WriteError(w, r, err)
		return "", nil, replay.Delays{}, false
	}
	f, err := h.lib.Open(name)
	if err != nil {
		WriteError(w, r, err)
		return "", nil, replay.Delays{}, false
	}
	SetReplayType(r.Context(), f.Type())
	return name, f, delays, true
}

func (h *Handler) handleReplaySSE(w http.ResponseWriter, r *http.Request) {
	name, f, delays, ok := h.prepareReplay(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.play(r.Context(), name, f, delays, TransportSSE, func(ev ReplayEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

func (h *Handler) handleReplayWebSocket(w http.ResponseWriter, r *http.Request) {
	name, f, delays, ok := h.prepareReplay(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		AddError(r.Context(), err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Closing or dropping the connection stops the replay.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.play(ctx, name, f, delays, TransportWebSocket, func(ev ReplayEvent) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	})

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// play replays f through send and records the run. The replay stops when ctx
// ends or send fails.
func (h *Handler) play(ctx context.Context, name string, f *cassette.Fixture, delays replay.Delays, transport string, send func(ReplayEvent) error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec := h.startRun(ctx, name, f, transport)
	player := replay.NewPlayer(f, replay.WithClock(h.clock), replay.WithLogger(h.logger))

	count := 0
	for ev := range player.Play(delays).Subscribe(ctx) {
		if ev.Err != nil {
			AddError(ctx, ev.Err)
			rec.finish(storage.RunFailed, ev.Err)
			_, errType := StatusCode(ev.Err)
			send(ReplayEvent{
				Type:  EventError,
				Index: ev.Index,
				RunID: rec.ID(),
				Error: &errorDetail{Type: errType, Message: ev.Err.Error()},
			})
			return
		}

		rec.chunk(ev.Chunk)
		if err := send(ReplayEvent{Type: EventChunk, Index: ev.Index, Text: ev.Chunk}); err != nil {
			h.logger.Debug("replay client went away",
				slog.String("fixture", name),
				slog.String("error", err.Error()))
			rec.finish(storage.RunCancelled, err)
			return
		}
		count++
	}

	if err := ctx.Err(); err != nil {
		rec.finish(storage.RunCancelled, err)
		return
	}
	rec.finish(storage.RunCompleted, nil)
	SetChunks(ctx, count)
	send(ReplayEvent{Type: EventDone, Index: count, Chunks: count, RunID: rec.ID()})
}
