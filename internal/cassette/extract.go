package cassette

import (
	"bytes"
	"encoding/json"
	"log/slog"
)

// ToolSeparator is emitted in place of a tool_use block so a markdown consumer
// breaks the paragraph around the tool call.
const ToolSeparator = "\n\n"

const eventContentBlockDelta = "content_block_delta"

// contentBlock is the subset of a Messages API content block replay needs.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// messageBody is a non-streamed Messages API response.
type messageBody struct {
	Content json.RawMessage `json:"content"`
}

// contentBlockDelta is the data payload of a content_block_delta event.
type contentBlockDelta struct {
	Delta struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"delta"`
}

// Extractor turns one decoded response body into replay chunks.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor returns an Extractor that reports unhandled content to logger.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the chunks interaction contributes, in order.
func (e *Extractor) Extract(interaction int, body string, t ReplayType) ([]string, error) {
	switch t {
	case ReplayStream:
		if HasEventStreamPrefix(body) {
			return e.streamChunks(interaction, body), nil
		}
		return nil, &ReplayShapeError{Type: t, Interaction: interaction, Reason: "body does not start with an event-stream record"}

	case ReplayRequest:
		trimmed := bytes.TrimSpace([]byte(body))
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return nil, &ReplayShapeError{Type: t, Interaction: interaction, Reason: "body is not a JSON object"}
		}
		return e.messageChunks(interaction, trimmed)
	}
	return nil, &ReplayShapeError{Type: t, Interaction: interaction, Reason: "unknown replay type"}
}

func (e *Extractor) streamChunks(interaction int, body string) []string {
	var chunks []string
	for _, entry := range ParseEventLog(body) {
		if entry.Event != eventContentBlockDelta {
			continue
		}
		var delta contentBlockDelta
		if entry.Data == nil || json.Unmarshal(entry.Data, &delta) != nil || delta.Delta.Text == nil {
			e.logger.Debug("skipping delta without text",
				slog.Int("interaction", interaction),
				slog.String("delta_type", delta.Delta.Type))
			continue
		}
		chunks = append(chunks, *delta.Delta.Text)
	}
	return chunks
}

func (e *Extractor) messageChunks(interaction int, body []byte) ([]string, error) {
	var msg messageBody
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &ReplayShapeError{Type: ReplayRequest, Interaction: interaction, Reason: err.Error()}
	}

	if len(msg.Content) == 0 || string(msg.Content) == "null" {
		e.logger.Warn("response has no content blocks", slog.Int("interaction", interaction))
		return nil, nil
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, &ReplayShapeError{Type: ReplayRequest, Interaction: interaction, Reason: "content is not an array"}
	}

	chunks := make([]string, 0, len(blocks))
	for i, raw := range blocks {
		var block contentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, &ReplayShapeError{Type: ReplayRequest, Interaction: interaction, Reason: "content block is not an object"}
		}
		switch block.Type {
		case "text":
			chunks = append(chunks, block.Text)
		case "tool_use":
			chunks = append(chunks, ToolSeparator)
		default:
			e.logger.Warn("unhandled content block",
				slog.String("block_type", block.Type),
				slog.Int("interaction", interaction),
				slog.Int("block", i))
			chunks = append(chunks, "")
		}
	}
	return chunks, nil
}
