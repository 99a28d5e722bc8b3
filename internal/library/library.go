// Package library serves fixtures from a local project directory with a
// parsed-fixture cache that follows changes on disk.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
)

const defaultCacheSize = 128

// ErrNotFound is returned when no fixture file exists for a name.
var ErrNotFound = errors.New("fixture not found")

// InvalidNameError is returned for names that are not a single flattened file name.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid fixture name %q", e.Name)
}

// Option configures a Library.
type Option func(*Library)

// WithCacheSize sets how many parsed fixtures are kept.
func WithCacheSize(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.cacheSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) {
		l.logger = logger
	}
}

// Library reads fixtures from <root>/cassettes. It never writes.
type Library struct {
	dir       string
	cacheSize int
	cache     *lru.Cache[string, *cassette.Fixture]
	logger    *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New opens the fixture directory under root.
func New(root string, opts ...Option) (*Library, error) {
	l := &Library{
		dir:       filepath.Join(root, cassette.StorageDir),
		cacheSize: defaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	info, err := os.Stat(l.dir)
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open library: %s is not a directory", l.dir)
	}

	cache, err := lru.New[string, *cassette.Fixture](l.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fixture cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Dir is the directory fixtures are read from.
func (l *Library) Dir() string { return l.dir }

// Name normalizes a fixture name: the flattened source path with or without
// the .yaml extension. Anything that could leave the directory is rejected.
func Name(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", &InvalidNameError{Name: name}
	}
	if !strings.HasSuffix(name, cassette.Extension) {
		name += cassette.Extension
	}
	return name, nil
}

// Raw returns the fixture text stored under name.
func (l *Library) Raw(name string) ([]byte, error) {
	file, err := Name(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", file, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

// Open returns the parsed fixture for name, from cache when possible.
func (l *Library) Open(name string) (*cassette.Fixture, error) {
	file, err := Name(name)
	if err != nil {
		return nil, err
	}
	if f, ok := l.cache.Get(file); ok {
		return f, nil
	}

	data, err := l.Raw(file)
	if err != nil {
		return nil, err
	}
	if !cassette.Sniff(data) {
		return nil, &cassette.NotFixtureError{Source: file}
	}
	f, err := cassette.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	l.cache.Add(file, f)
	return f, nil
}

// List returns the names of all fixture files, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), cassette.Extension) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops the cached fixture for name.
func (l *Library) Invalidate(name string) {
	if file, err := Name(name); err == nil {
		l.cache.Remove(file)
	}
}

// Cached is the number of parsed fixtures held in memory.
func (l *Library) Cached() int { return l.cache.Len() }

// Watch evicts cache entries whose files change until ctx is done or Close is called.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}

	l.logger.Info("watching fixture library", slog.String("dir", l.dir))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				l.logger.Debug("library watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				name := filepath.Base(event.Name)
				if l.cache.Remove(name) {
					l.logger.Info("fixture changed, evicted from cache",
						slog.String("name", name),
						slog.String("op", event.Op.String()))
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("library watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
