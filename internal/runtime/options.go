package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/cassette-replay/internal/clock"
	"github.com/tjfontaine/cassette-replay/internal/config"
	"github.com/tjfontaine/cassette-replay/internal/storage"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithConfigFile loads configuration from path, with REPLAY_ environment
// overrides applied on top.
func WithConfigFile(path string) Option {
	return func(s *Service) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.config = cfg
		return nil
	}
}

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if cfg == nil {
			return fmt.Errorf("config must not be nil")
		}
		s.config = cfg
		return nil
	}
}

// WithStore records runs in store instead of the store named by the config.
func WithStore(store storage.RunStore) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithClock sets the time source used for replay pacing.
func WithClock(c clock.Clock) Option {
	return func(s *Service) error {
		s.clock = c
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}
