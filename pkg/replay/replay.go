// Package replay provides the public API for embedding the cassette replay
// engine. This is the stable API for external consumers.
package replay

import (
	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/clock"
	internal "github.com/tjfontaine/cassette-replay/internal/replay"
	"github.com/tjfontaine/cassette-replay/internal/runtime"
)

// Service serves a fixture library over HTTP.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// NewService creates a new Service with the given options.
// Example:
//
//	svc, err := replay.NewService(
//	    replay.WithConfigFile("config.yaml"),
//	    replay.WithLogger(logger),
//	)
var NewService = runtime.New

// Service options
var (
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig
	WithStore      = runtime.WithStore
	WithClock      = runtime.WithClock
	WithLogger     = runtime.WithLogger
)

// Fixture types
type (
	Fixture     = cassette.Fixture
	Interaction = cassette.Interaction
	Body        = cassette.Body
	ReplayType  = cassette.ReplayType
)

const (
	ReplayRequest = cassette.ReplayRequest
	ReplayStream  = cassette.ReplayStream
)

// Fixture parsing and path mapping
var (
	Parse       = cassette.Parse
	ParseString = cassette.ParseString
	Sniff       = cassette.Sniff
	FixturePath = cassette.FixturePath
	FixtureURL  = cassette.FixtureURL
	Decompress  = cassette.Decompress
	IsFatal     = cassette.IsFatal
)

// Playback types
type (
	Player       = internal.Player
	PlayerOption = internal.Option
	Stream       = internal.Stream
	Event        = internal.Event
	Delays       = internal.Delays
	DelayFunc    = internal.DelayFunc
	Clock        = clock.Clock
)

// Playback
var (
	NewPlayer       = internal.NewPlayer
	Fixed           = internal.Fixed
	ByType          = internal.ByType
	WithPlayerClock = internal.WithClock
	WithPlayerLog   = internal.WithLogger
	WithTracer      = internal.WithTracer
	NewRealClock    = clock.NewReal
	NewVirtualClock = clock.NewVirtual
	ErrNoChunks     = internal.ErrNoChunks
)
