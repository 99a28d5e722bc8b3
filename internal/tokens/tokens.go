// Package tokens estimates token counts of replayed output.
package tokens

import (
	"strings"
)

// Count is the result of counting one text.
type Count struct {
	Tokens    int    `json:"tokens"`
	Encoding  string `json:"encoding,omitempty"`
	Estimated bool   `json:"estimated"`
}

// Counter counts tokens in text.
type Counter interface {
	Count(text string) (Count, error)
}

// Estimator provides token count estimation based on character analysis.
// This is a fallback when no tokenizer encoding is available.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// Count estimates the token count of text, rounding up.
func (e *Estimator) Count(text string) (Count, error) {
	if text == "" {
		return Count{Estimated: true}, nil
	}
	chars := float64(len([]rune(text)))
	tokens := int(chars / e.CharsPerToken)
	if float64(tokens)*e.CharsPerToken < chars {
		tokens++
	}
	return Count{Tokens: tokens, Estimated: true}, nil
}

// Fallback counts with Primary and falls back to Secondary when Primary fails.
type Fallback struct {
	Primary   Counter
	Secondary Counter
}

func (f Fallback) Count(text string) (Count, error) {
	c, err := f.Primary.Count(text)
	if err == nil {
		return c, nil
	}
	return f.Secondary.Count(text)
}

// ForModel returns the counter used for output recorded from model. Claude
// models have no public tokenizer, so their counts are cl100k approximations.
func ForModel(model string) Counter {
	return Fallback{
		Primary:   NewTiktokenCounter(modelToEncoding(model), isApproximate(model)),
		Secondary: NewEstimator(),
	}
}

func isApproximate(model string) bool {
	model = strings.ToLower(model)
	return model == "" || strings.HasPrefix(model, "claude")
}
