// Package runtime provides the replay Service and its lifecycle: the fixture
// library, the run store, and the HTTP server that exposes them.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/tjfontaine/cassette-replay/internal/clock"
	"github.com/tjfontaine/cassette-replay/internal/config"
	"github.com/tjfontaine/cassette-replay/internal/fetch"
	"github.com/tjfontaine/cassette-replay/internal/library"
	"github.com/tjfontaine/cassette-replay/internal/server"
	"github.com/tjfontaine/cassette-replay/internal/storage"
	"github.com/tjfontaine/cassette-replay/internal/storage/memory"
	"github.com/tjfontaine/cassette-replay/internal/storage/sqlite"
)

// Service serves a fixture library over HTTP.
// It can be embedded in larger applications or run standalone.
type Service struct {
	// Dependencies (injected via options)
	config *config.Config
	store  storage.RunStore
	clock  clock.Clock
	logger *slog.Logger

	// Internal state
	library *library.Library
	handler *server.Handler
	server  *server.Server

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Service with the given options. Without WithConfigFile or
// WithConfig, config.yaml in the working directory is used when present.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
		clock:  clock.NewReal(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		s.config = cfg
	}

	lib, err := library.New(s.config.Library.Root,
		library.WithCacheSize(s.config.Library.CacheSize),
		library.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("open library: %w", err)
	}
	s.library = lib

	if s.store == nil {
		store, err := newStore(s.config.Storage)
		if err != nil {
			lib.Close()
			return nil, fmt.Errorf("create run store: %w", err)
		}
		s.store = store
	}
	if s.store == nil {
		s.logger.Info("run recording disabled")
	}

	handlerOpts := []server.HandlerOption{
		server.WithPacing(server.Pacing{
			Interaction: s.config.Replay.InteractionDelay,
			Chunk:       s.config.Replay.ChunkDelay,
			StreamChunk: s.config.Replay.StreamChunkDelay,
		}),
		server.WithClock(s.clock),
		server.WithHandlerLogger(s.logger),
	}
	if s.store != nil {
		handlerOpts = append(handlerOpts, server.WithStore(s.store))
	}
	if base := s.config.Fetch.BaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil {
			lib.Close()
			return nil, fmt.Errorf("parse fetch.base_url: %w", err)
		}
		fetchOpts := []fetch.Option{
			fetch.WithHTTPClient(&http.Client{Timeout: s.config.Fetch.Timeout}),
			fetch.WithMaxRetries(s.config.Fetch.MaxRetries),
			fetch.WithLogger(s.logger),
		}
		if s.config.Fetch.PublicOnly {
			fetchOpts = append(fetchOpts, fetch.WithPublicOnly())
		}
		handlerOpts = append(handlerOpts, server.WithRemote(fetch.New(fetchOpts...), u))
	}
	s.handler = server.NewHandler(lib, handlerOpts...)

	s.server = server.New(s.config.Server.Port, s.logger)
	s.handler.Register(s.server.Router, s.config.Server.RequestTimeout)

	return s, nil
}

// newStore returns nil for storage type "none".
func newStore(cfg config.StorageConfig) (storage.RunStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// Handler returns the fully wired HTTP handler.
func (s *Service) Handler() http.Handler { return s.server.Router }

// Library returns the fixture library.
func (s *Service) Library() *library.Library { return s.library }

// Start begins serving in the background. It returns once the listener is
// bound, so a port conflict is reported here.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.New("service already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen: %w", err)
	}

	if s.config.Library.Watch {
		go s.watchLibrary()
	}

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	s.logger.Info("replay service started",
		slog.String("addr", ln.Addr().String()),
		slog.String("library", s.library.Dir()),
		slog.String("storage", s.config.Storage.Type))
	return nil
}

// watchLibrary evicts cached fixtures when files change.
func (s *Service) watchLibrary() {
	if err := s.library.Watch(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("library watch failed", slog.String("error", err.Error()))
	}
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down replay service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.done != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
		<-s.done
	}

	// Close resources
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close run store", slog.String("error", err.Error()))
		}
	}
	if err := s.library.Close(); err != nil {
		s.logger.Error("failed to close library", slog.String("error", err.Error()))
	}

	s.logger.Info("replay service shutdown complete")
	return nil
}
