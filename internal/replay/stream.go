package replay

import (
	"context"
	"errors"
	"sync"
)

// ErrNoChunks is returned by Stream.Last when a replay completed without
// emitting anything, which is what a fixture with no interactions does.
var ErrNoChunks = errors.New("replay completed without chunks")

// Event is one value delivered to a subscriber. A non-nil Err is always the
// final event before the channel closes.
type Event struct {
	Index int
	Chunk string
	Err   error
}

type produceFunc func(ctx context.Context, emit func(string)) error

// Stream is a shared replay. The producer starts with the first Subscribe and
// runs once; every subscriber, early or late, receives the same sequence from
// the first chunk. When the last active subscriber goes away before the
// replay finishes, the producer is cancelled and its pending delay stops.
type Stream struct {
	produce produceFunc

	mu      sync.Mutex
	started bool
	done    bool
	err     error
	chunks  []string
	changed chan struct{}
	refs    int
	cancel  context.CancelFunc
	closed  chan struct{}
}

func newStream(produce produceFunc) *Stream {
	return &Stream{
		produce: produce,
		changed: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

// Subscribe attaches a consumer. The channel is closed after the last chunk,
// after a terminal error event, or once ctx is done.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)

	s.mu.Lock()
	s.refs++
	if !s.started {
		s.started = true
		pctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		go s.run(pctx)
	}
	s.mu.Unlock()

	go s.forward(ctx, out)
	return out
}

func (s *Stream) run(ctx context.Context) {
	err := s.produce(ctx, func(chunk string) {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.broadcastLocked()
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.done = true
	s.err = err
	s.broadcastLocked()
	s.cancel()
	s.mu.Unlock()
	close(s.closed)
}

func (s *Stream) forward(ctx context.Context, out chan<- Event) {
	defer close(out)
	defer s.release()

	next := 0
	for {
		s.mu.Lock()
		if next < len(s.chunks) {
			ev := Event{Index: next, Chunk: s.chunks[next]}
			s.mu.Unlock()
			select {
			case out <- ev:
				next++
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			if err != nil {
				select {
				case out <- Event{Index: next, Err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
	if s.refs == 0 && !s.done {
		s.cancel()
	}
}

// broadcastLocked wakes every forwarder. Must be called with s.mu held.
func (s *Stream) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Done is closed once the producer has finished, successfully or not.
func (s *Stream) Done() <-chan struct{} { return s.closed }

// Err returns the terminal error after Done is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Collect subscribes and returns every chunk. Chunks delivered before a
// failure are returned alongside the error.
func (s *Stream) Collect(ctx context.Context) ([]string, error) {
	var chunks []string
	for ev := range s.Subscribe(ctx) {
		if ev.Err != nil {
			return chunks, ev.Err
		}
		chunks = append(chunks, ev.Chunk)
	}
	if err := ctx.Err(); err != nil {
		return chunks, err
	}
	return chunks, nil
}

// Last subscribes and returns the final chunk, or ErrNoChunks when the replay
// completed empty.
func (s *Stream) Last(ctx context.Context) (string, error) {
	chunks, err := s.Collect(ctx)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}
	return chunks[len(chunks)-1], nil
}
