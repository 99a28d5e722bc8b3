package tokens

import (
	"errors"
	"testing"

	"github.com/tiktoken-go/tokenizer"
)

func TestEstimator_Count(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "exact multiple", text: "abcdefgh", want: 2},
		{name: "rounds up", text: "Hello", want: 2},
		{name: "counts runes", text: "héllo wörld", want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Count(tt.text)
			if err != nil {
				t.Fatalf("Count() error = %v", err)
			}
			if got.Tokens != tt.want {
				t.Errorf("Count(%q).Tokens = %d, want %d", tt.text, got.Tokens, tt.want)
			}
			if !got.Estimated {
				t.Error("Count().Estimated = false, want true")
			}
		})
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{model: "gpt-4o-mini", want: tokenizer.O200kBase},
		{model: "GPT-5", want: tokenizer.O200kBase},
		{model: "o3-mini", want: tokenizer.O200kBase},
		{model: "gpt-4", want: tokenizer.Cl100kBase},
		{model: "claude-3-5-sonnet-latest", want: tokenizer.Cl100kBase},
		{model: "", want: tokenizer.Cl100kBase},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelToEncoding(tt.model); got != tt.want {
				t.Errorf("modelToEncoding(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestTiktokenCounter_Count(t *testing.T) {
	c := NewTiktokenCounter(tokenizer.Cl100kBase, false)

	got, err := c.Count("Hello World")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	// "Hello" + " World"
	if got.Tokens != 2 {
		t.Errorf("Count().Tokens = %d, want 2", got.Tokens)
	}
	if got.Encoding != string(tokenizer.Cl100kBase) || got.Estimated {
		t.Errorf("Count() = %+v", got)
	}
}

func TestForModel_ClaudeIsEstimated(t *testing.T) {
	got, err := ForModel("claude-sonnet-4-0").Count("Hello World")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if !got.Estimated || got.Tokens == 0 {
		t.Errorf("Count() = %+v, want estimated non-zero", got)
	}
}

type failingCounter struct{}

func (failingCounter) Count(string) (Count, error) { return Count{}, errors.New("no codec") }

func TestFallback(t *testing.T) {
	f := Fallback{Primary: failingCounter{}, Secondary: NewEstimator()}
	got, err := f.Count("abcd")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got.Tokens != 1 || !got.Estimated {
		t.Errorf("Count() = %+v, want estimator result", got)
	}
}
