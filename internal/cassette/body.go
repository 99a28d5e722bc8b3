package cassette

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// BodyKind discriminates the two body representations.
type BodyKind int

const (
	// BodyText is a body recorded as a plain (possibly block) scalar.
	BodyText BodyKind = iota
	// BodyBytes is a body recorded as a !!binary scalar or a byte sequence.
	BodyBytes
)

// Body is a recorded request or response body. The representation is settled
// while decoding YAML so later stages never inspect the document again.
type Body struct {
	kind  BodyKind
	text  string
	bytes []byte
}

// TextBody returns a text body.
func TextBody(s string) Body { return Body{kind: BodyText, text: s} }

// BytesBody returns a binary body.
func BytesBody(b []byte) Body { return Body{kind: BodyBytes, bytes: b} }

// Kind reports the body representation.
func (b Body) Kind() BodyKind { return b.kind }

// String returns the body as text without any decoding.
func (b Body) String() string {
	if b.kind == BodyBytes {
		return string(b.bytes)
	}
	return b.text
}

// Bytes returns the payload as raw bytes. A text body whose runes all fit in a
// byte is treated as a byte string, one byte per rune.
func (b Body) Bytes() []byte {
	if b.kind == BodyBytes {
		return b.bytes
	}
	return byteString(b.text)
}

// Len is the payload length in bytes.
func (b Body) Len() int {
	if b.kind == BodyBytes {
		return len(b.bytes)
	}
	return len(b.text)
}

func byteString(s string) []byte {
	wide := false
	for _, r := range s {
		if r > 0xFF {
			return []byte(s)
		}
		if r >= utf8.RuneSelf {
			wide = true
		}
	}
	if !wide {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// UnmarshalYAML accepts a plain scalar, a {string: ...} wrapper as written by
// VCR.py, a !!binary scalar or a sequence of byte values.
func (b *Body) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.AliasNode:
		return b.UnmarshalYAML(node.Alias)

	case yaml.MappingNode:
		var wrapped struct {
			String yaml.Node `yaml:"string"`
		}
		if err := node.Decode(&wrapped); err != nil {
			return err
		}
		if wrapped.String.Kind == 0 {
			*b = TextBody("")
			return nil
		}
		return b.UnmarshalYAML(&wrapped.String)

	case yaml.SequenceNode:
		var values []int
		if err := node.Decode(&values); err != nil {
			return fmt.Errorf("line %d: body sequence: %w", node.Line, err)
		}
		raw := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 0xFF {
				return fmt.Errorf("line %d: body byte %d out of range: %d", node.Line, i, v)
			}
			raw[i] = byte(v)
		}
		*b = BytesBody(raw)
		return nil

	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!binary":
			raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(node.Value), ""))
			if err != nil {
				return fmt.Errorf("line %d: binary body: %w", node.Line, err)
			}
			*b = BytesBody(raw)
		case "!!null":
			*b = TextBody("")
		default:
			*b = TextBody(node.Value)
		}
		return nil
	}
	return fmt.Errorf("line %d: unsupported body node", node.Line)
}
