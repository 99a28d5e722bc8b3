package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecMu    sync.RWMutex
	codecCache = make(map[tokenizer.Encoding]tokenizer.Codec)
)

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	encoding    tokenizer.Encoding
	approximate bool
}

// NewTiktokenCounter creates a counter for encoding. Counts are flagged as
// estimated when approximate is set.
func NewTiktokenCounter(encoding tokenizer.Encoding, approximate bool) *TiktokenCounter {
	return &TiktokenCounter{encoding: encoding, approximate: approximate}
}

// Count encodes text and returns the number of token ids.
func (c *TiktokenCounter) Count(text string) (Count, error) {
	codec, err := getCodec(c.encoding)
	if err != nil {
		return Count{}, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return Count{}, fmt.Errorf("encode with %s: %w", c.encoding, err)
	}
	return Count{Tokens: len(ids), Encoding: string(c.encoding), Estimated: c.approximate}, nil
}

// getCodec returns a cached codec for encoding.
func getCodec(encoding tokenizer.Encoding) (tokenizer.Codec, error) {
	codecMu.RLock()
	if cached, ok := codecCache[encoding]; ok {
		codecMu.RUnlock()
		return cached, nil
	}
	codecMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	codecMu.Lock()
	codecCache[encoding] = codec
	codecMu.Unlock()

	return codec, nil
}

// modelToEncoding maps the model named in a recorded request to an encoding.
//
// Encoding reference:
// - O200kBase: GPT-5, GPT-4.1, GPT-4o, O1, O3, O4-mini and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo, Claude approximations, unknown models
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-41"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
