package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
)

type requestLogKey struct{}

// requestLog is filled in by handlers and written as one line when the
// request ends.
type requestLog struct {
	mu         sync.Mutex
	fixture    string
	replayType cassette.ReplayType
	runID      string
	chunks     int
	hasChunks  bool
	err        string
	extra      []slog.Attr
}

func (l *requestLog) attrs() []slog.Attr {
	l.mu.Lock()
	defer l.mu.Unlock()

	var attrs []slog.Attr
	if l.fixture != "" {
		attrs = append(attrs, slog.String("fixture", l.fixture))
	}
	if l.replayType != "" {
		attrs = append(attrs, slog.String("replay_type", string(l.replayType)))
	}
	if l.runID != "" {
		attrs = append(attrs, slog.String("run_id", l.runID))
	}
	if l.hasChunks {
		attrs = append(attrs, slog.Int("chunks", l.chunks))
	}
	if l.err != "" {
		attrs = append(attrs, slog.String("error", l.err))
	}
	return append(attrs, l.extra...)
}

func updateLog(ctx context.Context, fn func(*requestLog)) {
	if l, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		l.mu.Lock()
		fn(l)
		l.mu.Unlock()
	}
}

// LoggingMiddleware writes one structured line per request with the fixture,
// replay type, run and chunk count the handlers recorded. The level follows
// the status: 5xx at ERROR, 4xx at WARN. Replay streams also get an opening
// line, since they can stay open for a long time.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := GetRequestID(r.Context())
			stream := isReplayStream(r)

			entry := &requestLog{}
			ctx := context.WithValue(r.Context(), requestLogKey{}, entry)
			rw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			if stream {
				logger.Info("replay stream opened",
					slog.String("request_id", requestID),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
			}

			next.ServeHTTP(rw, r.WithContext(ctx))

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				level = slog.LevelError
			case rw.statusCode >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			attrs := append([]slog.Attr{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Bool("stream", stream),
			}, entry.attrs()...)
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *loggingResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE replays streaming through the wrapper.
func (rw *loggingResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to a websocket upgrade, which is then logged as 101.
func (rw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// SetFixture records the fixture name a request addressed.
func SetFixture(ctx context.Context, name string) {
	updateLog(ctx, func(l *requestLog) { l.fixture = name })
}

// SetReplayType records how the fixture is replayed.
func SetReplayType(ctx context.Context, t cassette.ReplayType) {
	updateLog(ctx, func(l *requestLog) { l.replayType = t })
}

// SetRunID records the ID of the run stored for a replay.
func SetRunID(ctx context.Context, id string) {
	updateLog(ctx, func(l *requestLog) { l.runID = id })
}

// SetChunks records how many chunks a replay delivered.
func SetChunks(ctx context.Context, n int) {
	updateLog(ctx, func(l *requestLog) {
		l.chunks = n
		l.hasChunks = true
	})
}

// AddLogField adds a free-form attribute to the request line. Empty values
// are dropped. No-op outside LoggingMiddleware.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	updateLog(ctx, func(l *requestLog) { l.extra = append(l.extra, slog.String(key, value)) })
}

// AddError records err on the request line. The last error wins.
func AddError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	updateLog(ctx, func(l *requestLog) { l.err = err.Error() })
}
