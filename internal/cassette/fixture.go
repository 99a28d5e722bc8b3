// Package cassette reads recorded HTTP fixtures (VCR.py cassettes) and turns
// each recorded response back into the text fragments a client observed.
package cassette

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

// ReplayType says how every response in a fixture is replayed.
type ReplayType string

const (
	// ReplayRequest replays single, non-streamed JSON responses.
	ReplayRequest ReplayType = "request"
	// ReplayStream replays server-sent event responses.
	ReplayStream ReplayType = "stream"
)

const (
	sniffToken      = "interactions:"
	eventStreamType = "text/event-stream"
)

// Headers maps a header name to its recorded values.
type Headers map[string][]string

// Get returns the first value for name, matched case-insensitively.
func (h Headers) Get(name string) string {
	if v := h.Values(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Values returns every value for name, matched case-insensitively.
func (h Headers) Values(name string) []string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}

// Request is the recorded outgoing request.
type Request struct {
	Body    Body    `yaml:"body"`
	Headers Headers `yaml:"headers"`
	Method  string  `yaml:"method"`
	URI     string  `yaml:"uri"`
}

// Status is the recorded response status line.
type Status struct {
	Code    int    `yaml:"code"`
	Message string `yaml:"message"`
}

// Response is the recorded response.
type Response struct {
	Body    Body    `yaml:"body"`
	Headers Headers `yaml:"headers"`
	Status  Status  `yaml:"status"`
}

// ContentEncoding returns the declared Content-Encoding, lower-cased.
func (r *Response) ContentEncoding() string {
	return strings.ToLower(strings.TrimSpace(r.Headers.Get("Content-Encoding")))
}

// IsEventStream reports whether any Content-Type value declares text/event-stream.
func (r *Response) IsEventStream() bool {
	for _, v := range r.Headers.Values("Content-Type") {
		mediaType, _, err := mime.ParseMediaType(v)
		if err != nil {
			mediaType = strings.TrimSpace(strings.SplitN(v, ";", 2)[0])
		}
		if strings.EqualFold(mediaType, eventStreamType) {
			return true
		}
	}
	return false
}

// Model returns the "model" field of a JSON request body, or "".
func (r *Request) Model() string {
	var body struct {
		Model string `json:"model"`
	}
	if json.Unmarshal(r.Body.Bytes(), &body) != nil {
		return ""
	}
	return body.Model
}

// Interaction is one recorded request/response pair.
type Interaction struct {
	Request  Request  `yaml:"request"`
	Response Response `yaml:"response"`
}

// Fixture is a parsed, read-only cassette. It is safe for concurrent use.
type Fixture struct {
	interactions []Interaction
	sourceSHA256 string
	replayType   ReplayType
}

type document struct {
	Interactions yaml.Node `yaml:"interactions"`
	SourceSHA256 string    `yaml:"source_sha256"`
}

// Sniff reports whether text looks like a fixture: after leading whitespace it
// must start with "interactions:".
func Sniff(text []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(text, " \t\r\n\ufeff"), []byte(sniffToken))
}

// Parse decodes fixture text and classifies it.
func Parse(text []byte) (*Fixture, error) {
	var doc document
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, &MalformedFixtureError{Reason: "invalid YAML", Err: err}
	}
	if doc.Interactions.Kind == 0 {
		return nil, &MalformedFixtureError{Reason: "missing interactions"}
	}
	if doc.Interactions.Kind != yaml.SequenceNode {
		return nil, &MalformedFixtureError{Reason: fmt.Sprintf("interactions is not a sequence (line %d)", doc.Interactions.Line)}
	}

	var interactions []Interaction
	if err := doc.Interactions.Decode(&interactions); err != nil {
		return nil, &MalformedFixtureError{Reason: "invalid interaction", Err: err}
	}

	return &Fixture{
		interactions: interactions,
		sourceSHA256: doc.SourceSHA256,
		replayType:   classify(interactions),
	}, nil
}

// Model returns the model named by the first recorded request that names one.
func (f *Fixture) Model() string {
	for i := range f.interactions {
		if m := f.interactions[i].Request.Model(); m != "" {
			return m
		}
	}
	return ""
}

// ParseString is Parse for string input.
func ParseString(text string) (*Fixture, error) {
	return Parse([]byte(text))
}

func classify(interactions []Interaction) ReplayType {
	for i := range interactions {
		if interactions[i].Response.IsEventStream() {
			return ReplayStream
		}
	}
	return ReplayRequest
}

// Type is the replay type decided when the fixture was parsed.
func (f *Fixture) Type() ReplayType { return f.replayType }

// SourceSHA256 is the stored checksum of the example source. It is never recomputed here.
func (f *Fixture) SourceSHA256() string { return f.sourceSHA256 }

// Len is the number of recorded interactions.
func (f *Fixture) Len() int { return len(f.interactions) }

// Interaction returns the i-th interaction in recorded order.
func (f *Fixture) Interaction(i int) *Interaction { return &f.interactions[i] }

// Interactions returns a copy of the interactions in recorded order.
func (f *Fixture) Interactions() []Interaction {
	out := make([]Interaction, len(f.interactions))
	copy(out, f.interactions)
	return out
}
