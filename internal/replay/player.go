// Package replay paces a parsed fixture back out as a shared stream of chunks.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/clock"
)

const tracerName = "github.com/tjfontaine/cassette-replay/internal/replay"

// DelayFunc returns how long to wait for a fixture of the given type.
type DelayFunc func(cassette.ReplayType) time.Duration

// Fixed returns a DelayFunc that ignores the replay type.
func Fixed(d time.Duration) DelayFunc {
	return func(cassette.ReplayType) time.Duration { return d }
}

// ByType returns a DelayFunc that uses the entry for the fixture's replay
// type when present and def otherwise.
func ByType(def time.Duration, byType map[cassette.ReplayType]time.Duration) DelayFunc {
	return func(t cassette.ReplayType) time.Duration {
		if d, ok := byType[t]; ok {
			return d
		}
		return def
	}
}

// Delays configures pacing. Interaction runs before each interaction's chunks
// are extracted, Chunk before each chunk is emitted. Nil hooks wait zero.
type Delays struct {
	Interaction DelayFunc
	Chunk       DelayFunc
}

func (d Delays) interaction(t cassette.ReplayType) time.Duration {
	if d.Interaction == nil {
		return 0
	}
	return d.Interaction(t)
}

func (d Delays) chunk(t cassette.ReplayType) time.Duration {
	if d.Chunk == nil {
		return 0
	}
	return d.Chunk(t)
}

// Option configures a Player.
type Option func(*Player)

// WithClock sets the time source used for delays.
func WithClock(c clock.Clock) Option {
	return func(p *Player) {
		p.clock = c
	}
}

// WithLogger sets the logger for replay diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithTracer sets the tracer used for replay spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Player) {
		p.tracer = tracer
	}
}

// Player replays one fixture. Each call to Play is an independent run.
type Player struct {
	fixture *cassette.Fixture
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewPlayer creates a Player for f.
func NewPlayer(f *cassette.Fixture, opts ...Option) *Player {
	p := &Player{
		fixture: f,
		clock:   clock.NewReal(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(tracerName)
	}
	return p
}

// Fixture returns the fixture being replayed.
func (p *Player) Fixture() *cassette.Fixture { return p.fixture }

// Play builds a lazily started, shared stream of the fixture's chunks:
// interactions in recorded order, chunks in order within each interaction.
func (p *Player) Play(delays Delays) *Stream {
	return newStream(func(ctx context.Context, emit func(string)) error {
		return p.run(ctx, delays, emit)
	})
}

func (p *Player) run(ctx context.Context, delays Delays, emit func(string)) error {
	t := p.fixture.Type()
	extractor := cassette.NewExtractor(p.logger)

	ctx, span := p.tracer.Start(ctx, "cassette.play", trace.WithAttributes(
		attribute.String("cassette.replay_type", string(t)),
		attribute.Int("cassette.interactions", p.fixture.Len()),
	))
	defer span.End()

	emitted := 0
	for i := 0; i < p.fixture.Len(); i++ {
		resp := &p.fixture.Interaction(i).Response

		body, err := cassette.Decompress(resp.Body, resp.ContentEncoding())
		if err != nil {
			return p.fail(span, i, err)
		}

		if err := p.clock.Sleep(ctx, delays.interaction(t)); err != nil {
			return p.fail(span, i, err)
		}

		chunks, err := extractor.Extract(i, body, t)
		if err != nil {
			return p.fail(span, i, err)
		}
		span.AddEvent("interaction", trace.WithAttributes(
			attribute.Int("index", i),
			attribute.Int("chunks", len(chunks)),
		))

		for _, chunk := range chunks {
			if err := p.clock.Sleep(ctx, delays.chunk(t)); err != nil {
				return p.fail(span, i, err)
			}
			emit(chunk)
			emitted++
		}
	}

	span.SetAttributes(attribute.Int("cassette.chunks", emitted))
	p.logger.Debug("replay complete",
		slog.String("replay_type", string(t)),
		slog.Int("interactions", p.fixture.Len()),
		slog.Int("chunks", emitted))
	return nil
}

func (p *Player) fail(span trace.Span, interaction int, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		p.logger.Error("replay failed",
			slog.Int("interaction", interaction),
			slog.String("error", err.Error()))
	}
	return err
}
