package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/fetch"
	"github.com/tjfontaine/cassette-replay/internal/library"
	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// =============================================================================
// RequestIDMiddleware Tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}

func TestRequestIDMiddleware_IncomingID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "valid uuid kept", incoming: "9b2f7c1e-8a44-4d7e-9d55-0c3a1f2b6e10", keep: true},
		{name: "garbage replaced", incoming: "not-a-uuid", keep: false},
		{name: "header injection replaced", incoming: "abc\r\nX-Evil: 1", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			})

			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("X-Request-ID", tt.incoming)
			rec := httptest.NewRecorder()
			RequestIDMiddleware(handler).ServeHTTP(rec, req)

			if got := seen == tt.incoming; got != tt.keep {
				t.Errorf("request ID = %q, kept = %v, want kept = %v", seen, got, tt.keep)
			}
			if rec.Header().Get("X-Request-ID") != seen {
				t.Errorf("header = %q, context = %q", rec.Header().Get("X-Request-ID"), seen)
			}
		})
	}
}

func TestRequestIDMiddleware_UniqueIDs(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RequestIDMiddleware(handler)

	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, httptest.NewRequest("GET", "/", nil))

	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, httptest.NewRequest("GET", "/", nil))

	id1 := rec1.Header().Get("X-Request-ID")
	id2 := rec2.Header().Get("X-Request-ID")
	if id1 == id2 {
		t.Errorf("Expected unique request IDs, got same: %s", id1)
	}
}

func TestGetRequestID_NotSet(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("Expected empty string, got %q", id)
	}
}

// =============================================================================
// TimeoutMiddleware Tests
// =============================================================================

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok || deadline.IsZero() {
			t.Error("Expected context to have deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := TimeoutMiddleware(30 * time.Second)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestTimeoutMiddleware_ContextCancelled(t *testing.T) {
	contextCancelled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			contextCancelled = true
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})

	wrapped := TimeoutMiddleware(10 * time.Millisecond)(handler)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !contextCancelled {
		t.Error("Expected context to be cancelled due to timeout")
	}
}

func TestTimeoutMiddleware_ReplayStreamsExempt(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		headers      map[string]string
		wantDeadline bool
	}{
		{name: "listing", path: "/cassettes", wantDeadline: true},
		{name: "sse replay", path: "/replay/docs_intro_sync.py"},
		{name: "websocket replay", path: "/ws/replay/docs_intro_sync.py"},
		{name: "event source", path: "/other", headers: map[string]string{"Accept": "text/event-stream"}},
		{
			name:    "websocket upgrade",
			path:    "/other",
			headers: map[string]string{"Connection": "Upgrade", "Upgrade": "websocket"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hasDeadline bool
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, hasDeadline = r.Context().Deadline()
			})
			req := httptest.NewRequest("GET", tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			TimeoutMiddleware(time.Second)(handler).ServeHTTP(httptest.NewRecorder(), req)
			if hasDeadline != tt.wantDeadline {
				t.Errorf("deadline set = %v, want %v", hasDeadline, tt.wantDeadline)
			}
		})
	}
}

func TestTimeoutMiddleware_Disabled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("zero timeout should not set a deadline")
		}
	})
	TimeoutMiddleware(0)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cassettes", nil))
}

// =============================================================================
// LoggingMiddleware Tests
// =============================================================================

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		status  int
		want    []string
		notWant []string
	}{
		{
			name:    "plain request",
			path:    "/test-path",
			status:  http.StatusTeapot,
			want:    []string{"level=WARN", "request completed", "path=/test-path", "status=418", "stream=false"},
			notWant: []string{"replay stream opened"},
		},
		{
			name:   "server error",
			path:   "/cassettes",
			status: http.StatusInternalServerError,
			want:   []string{"level=ERROR", "status=500"},
		},
		{
			name:   "replay stream",
			path:   "/replay/docs_intro_sync.py",
			status: http.StatusOK,
			want:   []string{"replay stream opened", "level=INFO", "stream=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			RequestIDMiddleware(LoggingMiddleware(logger)(handler)).
				ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))

			output := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(output, want) {
					t.Errorf("log output missing %q: %s", want, output)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(output, notWant) {
					t.Errorf("log output has %q: %s", notWant, output)
				}
			}
		})
	}
}

func TestLoggingMiddleware_ReplayFields(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetFixture(r.Context(), "docs_intro_stream.py")
		SetReplayType(r.Context(), cassette.ReplayStream)
		SetRunID(r.Context(), "run-1")
		SetChunks(r.Context(), 0)
	})
	LoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/replay/docs_intro_stream.py", nil))

	output := buf.String()
	for _, want := range []string{"fixture=docs_intro_stream.py", "replay_type=stream", "run_id=run-1", "chunks=0"} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q: %s", want, output)
		}
	}
}

func TestAddLogField(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "fixture", "docs_intro_sync.py")
		AddLogField(r.Context(), "empty_field", "")
		w.WriteHeader(http.StatusOK)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	output := buf.String()
	if !strings.Contains(output, "fixture=docs_intro_sync.py") {
		t.Errorf("Expected custom field in log output, got: %s", output)
	}
	if strings.Contains(output, "empty_field") {
		t.Errorf("Empty field should not be in log output, got: %s", output)
	}
}

func TestAddLogField_NoContext(t *testing.T) {
	// no-op without LoggingMiddleware
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), nil)
	SetFixture(context.Background(), "docs_intro_sync.py")
	SetChunks(context.Background(), 3)
}

func TestAddError(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), errors.New("test error message"))
		w.WriteHeader(http.StatusInternalServerError)
	})

	LoggingMiddleware(logger)(testHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !strings.Contains(buf.String(), "test error message") {
		t.Errorf("Expected error in log output, got: %s", buf.String())
	}
}

func TestLoggingResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &loggingResponseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("Hijack() expected error for recorder")
	}
	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d after failed hijack", rw.statusCode)
	}
}

// =============================================================================
// Error mapping Tests
// =============================================================================

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		errorTyp string
	}{
		{name: "request", err: &RequestError{Message: "bad"}, status: http.StatusBadRequest, errorTyp: ErrorTypeInvalidRequest},
		{name: "invalid name", err: &library.InvalidNameError{Name: ".."}, status: http.StatusBadRequest, errorTyp: ErrorTypeInvalidRequest},
		{name: "missing fixture", err: fmt.Errorf("open: %w", library.ErrNotFound), status: http.StatusNotFound, errorTyp: ErrorTypeNotFound},
		{name: "missing run", err: storage.ErrNotFound, status: http.StatusNotFound, errorTyp: ErrorTypeNotFound},
		{name: "upstream", err: &fetch.FetchError{URL: "https://x", StatusCode: 503}, status: http.StatusBadGateway, errorTyp: ErrorTypeUpstream},
		{name: "fixture", err: &cassette.MalformedFixtureError{Err: errors.New("yaml")}, status: http.StatusUnprocessableEntity, errorTyp: ErrorTypeFixture},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, errorTyp: ErrorTypeServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, errType := StatusCode(tt.err)
			if status != tt.status || errType != tt.errorTyp {
				t.Errorf("StatusCode() = %d, %q, want %d, %q", status, errType, tt.status, tt.errorTyp)
			}
		})
	}
}

func TestWriteError_MasksInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest("GET", "/", nil), errors.New("disk on fire at /var/lib"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "/var/lib") {
		t.Errorf("internal detail leaked: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"type":"error"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
