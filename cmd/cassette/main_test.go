package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tjfontaine/cassette-replay/internal/testutil"
)

const fixture = `interactions:
- request:
    body: '{"model": "claude-sonnet-4-0"}'
  response:
    body:
      string: '{"content": [{"type": "text", "text": "Hello"}, {"type": "text", "text": " World"}]}'
source_sha256: 2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824
`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"cassette"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestPath(t *testing.T) {
	out, _, err := run(t, "path", "content/docs/intro/sync.py")
	if err != nil {
		t.Fatalf("path error = %v", err)
	}
	if out != "cassettes/docs_intro_sync.py.yaml\n" {
		t.Errorf("path output = %q", out)
	}

	if _, _, err := run(t, "path"); err == nil {
		t.Error("path without argument expected error")
	}
}

func TestURL(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "sync.py")
	if err := os.WriteFile(source, []byte("__filepath__ = \"./intro/sync.py\";\nprint('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := run(t, "url", "--location", "https://docs.example.com/docs/", source)
	if err != nil {
		t.Fatalf("url error = %v", err)
	}
	if out != "https://docs.example.com/cassettes/docs_intro_sync.py.yaml\n" {
		t.Errorf("url output = %q", out)
	}

	if _, _, err := run(t, "url", "--location", "/docs/", source); err == nil {
		t.Error("url with relative location expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr bool
		want    string
	}{
		{
			name: "valid",
			files: map[string]string{
				"content/docs/intro/sync.py":        "hello",
				"cassettes/docs_intro_sync.py.yaml": fixture,
			},
			want: "1 sources checked, 0 failed",
		},
		{
			name: "missing fixture",
			files: map[string]string{
				"content/docs/intro/sync.py": "hello",
			},
			wantErr: true,
			want:    "content/docs/intro/sync.py: missing-fixture",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := testutil.WriteTree(t, tt.files)
			out, _, err := run(t, "validate", "--root", root)
			if tt.wantErr != (err != nil) {
				t.Fatalf("validate error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errInvalid) {
				t.Errorf("validate error = %v, want errInvalid", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("validate output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestPlay_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}

	out, stderr, err := run(t, "play", "--summary", path)
	if err != nil {
		t.Fatalf("play error = %v", err)
	}
	if out != "Hello World\n" {
		t.Errorf("play output = %q", out)
	}
	if !strings.Contains(stderr, "2 chunks") || !strings.Contains(stderr, "~") {
		t.Errorf("summary = %q, want estimated count for 2 chunks", stderr)
	}
}

func TestPlay_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cassettes/docs_intro_sync.py.yaml" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	out, _, err := run(t, "play", srv.URL+"/cassettes/docs_intro_sync.py.yaml")
	if err != nil {
		t.Fatalf("play error = %v", err)
	}
	if out != "Hello World\n" {
		t.Errorf("play output = %q", out)
	}

	if _, _, err := run(t, "play", "--retries", "0", srv.URL+"/cassettes/missing.yaml"); err == nil {
		t.Error("play of missing URL expected error")
	}
	if _, _, err := run(t, "play", "--public-only", srv.URL+"/cassettes/docs_intro_sync.py.yaml"); err == nil {
		t.Error("play of loopback URL with --public-only expected error")
	}
}

func TestPlay_NotAFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.html")
	if err := os.WriteFile(path, []byte("<!doctype html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, "play", path); err == nil || !strings.Contains(err.Error(), "not a replay fixture") {
		t.Errorf("play error = %v, want not a replay fixture", err)
	}
}
