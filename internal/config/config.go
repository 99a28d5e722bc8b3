package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates levels,
// so REPLAY_SERVER__PORT sets server.port.
const EnvPrefix = "REPLAY_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Library   LibraryConfig   `koanf:"library"`
	Replay    ReplayConfig    `koanf:"replay"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// LibraryConfig points at the local fixture directory served by the replay service.
type LibraryConfig struct {
	Root      string `koanf:"root"` // project root; fixtures live under <root>/cassettes
	CacheSize int    `koanf:"cache_size"`
	Watch     bool   `koanf:"watch"`
}

// ReplayConfig holds the default pacing. StreamChunkDelay, when set, replaces
// ChunkDelay for streamed fixtures.
type ReplayConfig struct {
	InteractionDelay time.Duration `koanf:"interaction_delay"`
	ChunkDelay       time.Duration `koanf:"chunk_delay"`
	StreamChunkDelay time.Duration `koanf:"stream_chunk_delay"`
}

// FetchConfig enables remote lookups by /resolve. BaseURL is the docs page
// used when a request carries no location; remote lookups are off when empty.
type FetchConfig struct {
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
	PublicOnly bool          `koanf:"public_only"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // memory, sqlite, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":            8080,
	"server.request_timeout": "30s",
	"library.root":           "./public",
	"library.cache_size":     128,
	"library.watch":          true,
	"fetch.timeout":          "10s",
	"fetch.max_retries":      3,
	"fetch.public_only":      true,
	"storage.type":           "memory",
	"storage.sqlite.path":    "replay.db",
	"telemetry.service_name": "cassette-replay",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads config.yaml from the working directory when present and applies
// REPLAY_ environment overrides on top.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// a missing file leaves env and defaults
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Library.Root = substituteEnvVars(cfg.Library.Root)
	cfg.Fetch.BaseURL = substituteEnvVars(cfg.Fetch.BaseURL)
	cfg.Storage.SQLite.Path = substituteEnvVars(cfg.Storage.SQLite.Path)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory", "sqlite", "none":
	default:
		return fmt.Errorf("storage.type: unknown store %q", c.Storage.Type)
	}
	if c.Library.CacheSize <= 0 {
		return fmt.Errorf("library.cache_size must be positive, got %d", c.Library.CacheSize)
	}
	if c.Fetch.BaseURL != "" {
		u, err := url.Parse(c.Fetch.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("fetch.base_url must be an absolute URL, got %q", c.Fetch.BaseURL)
		}
	}
	if c.Replay.InteractionDelay < 0 || c.Replay.ChunkDelay < 0 || c.Replay.StreamChunkDelay < 0 {
		return fmt.Errorf("replay delays must not be negative")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
