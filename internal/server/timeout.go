package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	replayPrefix   = "/replay/"
	wsReplayPrefix = "/ws/replay/"
)

// TimeoutMiddleware puts a deadline of timeout on the request context.
// Replay streams run for as long as their pacing asks and stop when the
// client leaves, so they are passed through untouched. Handlers observe the
// deadline through ctx.Done(); nothing is aborted from outside.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 || isReplayStream(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isReplayStream reports whether r opens a long-lived replay: a websocket
// upgrade, an EventSource request, or anything under the replay routes.
func isReplayStream(r *http.Request) bool {
	if websocket.IsWebSocketUpgrade(r) {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, replayPrefix) || strings.HasPrefix(r.URL.Path, wsReplayPrefix)
}
