package cassette

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestFixturePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{
			name:     "standard path",
			path:     "content/docs/mirascope/v2/examples/intro/decorator/sync.py",
			expected: "cassettes/docs_mirascope_v2_examples_intro_decorator_sync.py.yaml",
		},
		{
			name:     "windows separators",
			path:     `content\docs\mirascope\v2\examples\intro\decorator\sync.py`,
			expected: "cassettes/docs_mirascope_v2_examples_intro_decorator_sync.py.yaml",
		},
		{
			name:     "deeply nested",
			path:     "content/docs/mirascope/v2/examples/advanced/features/nested/example.py",
			expected: "cassettes/docs_mirascope_v2_examples_advanced_features_nested_example.py.yaml",
		},
		{
			name:     "single segment after root",
			path:     "content/example.py",
			expected: "cassettes/example.py.yaml",
		},
		{
			name:     "dashes kept",
			path:     "content/docs/mirascope/v2/examples/intro/tool-call/example.py",
			expected: "cassettes/docs_mirascope_v2_examples_intro_tool-call_example.py.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FixturePath(tt.path); got != tt.expected {
				t.Errorf("FixturePath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestFixturePath_NoSeparatorsAfterPrefix(t *testing.T) {
	paths := []string{
		"a/b",
		"content/x/y/z.py",
		`root\dir\file.py`,
		"root/dir\\mixed/file.py",
		"r/a b/c.d.e",
	}
	for _, p := range paths {
		got := FixturePath(p)
		rest, ok := strings.CutPrefix(got, StorageDir+"/")
		if !ok {
			t.Errorf("FixturePath(%q) = %q, missing %q prefix", p, got, StorageDir+"/")
			continue
		}
		if strings.ContainsAny(rest, `/\`) {
			t.Errorf("FixturePath(%q) = %q, separators left after prefix", p, got)
		}
		if !strings.HasSuffix(rest, Extension) {
			t.Errorf("FixturePath(%q) = %q, missing %q suffix", p, got, Extension)
		}
	}
}

func TestFixtureURL(t *testing.T) {
	location := &url.URL{Scheme: "https", Host: "example.com", Path: "/docs/mirascope/v2"}
	want := "https://example.com/cassettes/docs_mirascope_v2_examples_intro_decorator_sync.py.yaml"

	tests := []struct {
		name     string
		code     string
		location *url.URL
	}{
		{
			name:     "relative marker",
			code:     "__filepath__ = \"examples/intro/decorator/sync.py\";\n\nprint(\"hello\")",
			location: location,
		},
		{
			name:     "leading slash",
			code:     "__filepath__ = \"/examples/intro/decorator/sync.py\";\n\nprint(\"hello\")",
			location: location,
		},
		{
			name:     "dot slash prefix",
			code:     "__filepath__ = \"./examples/intro/decorator/sync.py\";\n\nprint(\"hello\")",
			location: location,
		},
		{
			name:     "page path with trailing slash",
			code:     "__filepath__ = \"examples/intro/decorator/sync.py\";",
			location: &url.URL{Scheme: "https", Host: "example.com", Path: "/docs/mirascope/v2/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FixtureURL(tt.code, tt.location)
			if err != nil {
				t.Fatalf("FixtureURL() error = %v", err)
			}
			if got.String() != want {
				t.Errorf("FixtureURL() = %q, want %q", got.String(), want)
			}
		})
	}
}

func TestFixtureURL_MissingMarker(t *testing.T) {
	location := &url.URL{Scheme: "https", Host: "example.com", Path: "/docs"}

	tests := []struct {
		name string
		code string
	}{
		{name: "absent", code: `print("hello")`},
		{name: "empty", code: "__filepath__ = \"\";\n\nprint(\"hello\")"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FixtureURL(tt.code, location)
			var missing *MissingMarkerError
			if !errors.As(err, &missing) {
				t.Fatalf("FixtureURL() error = %v, want MissingMarkerError", err)
			}
			if err.Error() != "no __filepath__ found in code" {
				t.Errorf("Error() = %q", err.Error())
			}
		})
	}
}
