package cassette

import (
	"errors"
	"fmt"
)

// MissingMarkerError is returned when example source carries no usable
// __filepath__ assignment.
type MissingMarkerError struct{}

func (e *MissingMarkerError) Error() string {
	return "no __filepath__ found in code"
}

// MalformedFixtureError reports a fixture document that cannot be replayed at all.
type MalformedFixtureError struct {
	Reason string
	Err    error
}

func (e *MalformedFixtureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed fixture: %s: %v", e.Reason, e.Err)
	}
	return "malformed fixture: " + e.Reason
}

func (e *MalformedFixtureError) Unwrap() error { return e.Err }

// ReplayShapeError reports a decoded response body that matches neither the
// event-stream shape nor the single JSON message shape.
type ReplayShapeError struct {
	Type        ReplayType
	Interaction int
	Reason      string
}

func (e *ReplayShapeError) Error() string {
	return fmt.Sprintf("interaction %d: cannot replay %s body: %s", e.Interaction, e.Type, e.Reason)
}

// UnsupportedEncodingError is returned for a Content-Encoding other than gzip or deflate.
type UnsupportedEncodingError struct {
	Encoding string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported content encoding %q", e.Encoding)
}

// DecompressError wraps a failure while draining a decompression stream.
type DecompressError struct {
	Encoding string
	Err      error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("decompress %s body: %v", e.Encoding, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

// NotFixtureError is returned when text fails the format sniff.
type NotFixtureError struct {
	Source string
}

func (e *NotFixtureError) Error() string {
	if e.Source == "" {
		return "not a replay fixture (missing 'interactions:')"
	}
	return fmt.Sprintf("not a replay fixture (missing 'interactions:'): %s", e.Source)
}

// IsFatal reports whether err belongs to the replay error taxonomy. Every
// member is fatal for the replay that produced it and is never retried.
func IsFatal(err error) bool {
	var (
		marker    *MissingMarkerError
		malformed *MalformedFixtureError
		shape     *ReplayShapeError
		encoding  *UnsupportedEncodingError
		decomp    *DecompressError
		notFix    *NotFixtureError
	)
	return errors.As(err, &marker) ||
		errors.As(err, &malformed) ||
		errors.As(err, &shape) ||
		errors.As(err, &encoding) ||
		errors.As(err, &decomp) ||
		errors.As(err, &notFix)
}
