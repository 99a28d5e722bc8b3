// Package validate checks that every example source has an up-to-date fixture.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
)

// IssueType classifies a validation failure.
type IssueType string

const (
	IssueMissingFixture   IssueType = "missing-fixture"
	IssueNotFixture       IssueType = "not-fixture"
	IssueMissingField     IssueType = "missing-field"
	IssueMalformed        IssueType = "malformed"
	IssueSourceRead       IssueType = "source-read-error"
	IssueChecksumMismatch IssueType = "checksum-mismatch"
)

// Issue is one problem found for a source.
type Issue struct {
	Type    IssueType `json:"type"`
	Message string    `json:"message"`
}

// Result is the outcome for a single source file.
type Result struct {
	Source  string  `json:"source"`  // project-relative, slash-separated
	Fixture string  `json:"fixture"` // relative to the fixture root
	Issues  []Issue `json:"issues,omitempty"`
}

// Valid reports whether no issue was found.
func (r Result) Valid() bool { return len(r.Issues) == 0 }

// Report collects results in source order.
type Report struct {
	Results []Result `json:"results"`
}

// Failed returns the results that have issues.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Valid() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Valid reports whether every source passed.
func (r *Report) Valid() bool { return len(r.Failed()) == 0 }

// Option configures a Validator.
type Option func(*Validator)

// WithContentDir sets the project-relative directory holding example sources.
func WithContentDir(dir string) Option {
	return func(v *Validator) {
		v.contentDir = filepath.ToSlash(filepath.Clean(dir))
	}
}

// WithFixtureRoot sets the directory that contains the cassettes directory.
// It defaults to the project root.
func WithFixtureRoot(dir string) Option {
	return func(v *Validator) {
		v.fixtureRoot = dir
	}
}

// WithExtensions sets which source files need a fixture.
func WithExtensions(exts ...string) Option {
	return func(v *Validator) {
		v.exts = exts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// Validator compares example sources against their fixtures. It only reads.
type Validator struct {
	projectRoot string
	contentDir  string
	fixtureRoot string
	exts        []string
	logger      *slog.Logger
}

// New creates a Validator for the project at projectRoot.
func New(projectRoot string, opts ...Option) *Validator {
	v := &Validator{
		projectRoot: projectRoot,
		contentDir:  "content",
		fixtureRoot: projectRoot,
		exts:        []string{".py"},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run checks every matching source below the content directory.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	var sources []string
	base := filepath.Join(v.projectRoot, filepath.FromSlash(v.contentDir))
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !v.matches(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(v.projectRoot, path)
		if err != nil {
			return err
		}
		sources = append(sources, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", base, err)
	}
	sort.Strings(sources)

	report := &Report{Results: make([]Result, 0, len(sources))}
	for _, src := range sources {
		res := v.Check(src)
		if !res.Valid() {
			v.logger.Warn("fixture validation failed",
				slog.String("source", res.Source),
				slog.String("fixture", res.Fixture),
				slog.String("issue", string(res.Issues[0].Type)))
		}
		report.Results = append(report.Results, res)
	}

	v.logger.Info("fixture validation complete",
		slog.Int("checked", len(report.Results)),
		slog.Int("failed", len(report.Failed())))
	return report, nil
}

// Check validates the fixture for one project-relative source path.
func (v *Validator) Check(source string) Result {
	res := Result{Source: source, Fixture: cassette.FixturePath(source)}
	fail := func(t IssueType, format string, args ...any) Result {
		res.Issues = append(res.Issues, Issue{Type: t, Message: fmt.Sprintf(format, args...)})
		return res
	}

	data, err := os.ReadFile(filepath.Join(v.fixtureRoot, filepath.FromSlash(res.Fixture)))
	if errors.Is(err, fs.ErrNotExist) {
		return fail(IssueMissingFixture, "missing fixture: %s", res.Fixture)
	}
	if err != nil {
		return fail(IssueMalformed, "read fixture: %v", err)
	}

	if !cassette.Sniff(data) {
		return fail(IssueNotFixture, "%v", &cassette.NotFixtureError{Source: res.Fixture})
	}

	f, err := cassette.Parse(data)
	if err != nil {
		return fail(IssueMalformed, "%v", err)
	}
	if f.SourceSHA256() == "" {
		return fail(IssueMissingField, "fixture has no source_sha256")
	}

	code, err := os.ReadFile(filepath.Join(v.projectRoot, filepath.FromSlash(source)))
	if err != nil {
		return fail(IssueSourceRead, "failed to read source file: %v", err)
	}

	sum := sha256.Sum256(code)
	got := hex.EncodeToString(sum[:])
	if want := strings.TrimSpace(f.SourceSHA256()); !strings.EqualFold(got, want) {
		return fail(IssueChecksumMismatch, "recorded checksum mismatch: expected %s, got %s", want, got)
	}
	return res
}

func (v *Validator) matches(name string) bool {
	for _, ext := range v.exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
