package cassette

import (
	"bufio"
	"encoding/json"
	"strings"
)

// EventLogEntry is one record of a recorded server-sent event body.
type EventLogEntry struct {
	// Raw is the record text as recorded, without the separating blank line.
	Raw string
	// Event is the value of the event: field, empty when absent.
	Event string
	// Data is the data: payload when it is valid JSON, nil otherwise.
	Data json.RawMessage
}

// HasEventStreamPrefix reports whether body starts with an SSE event field.
func HasEventStreamPrefix(body string) bool {
	return strings.HasPrefix(body, "event:")
}

// ParseEventLog splits an SSE body into records at blank lines. Lines holding
// only whitespace count as blank, which block scalars in fixtures produce.
func ParseEventLog(body string) []EventLogEntry {
	var (
		entries []EventLogEntry
		lines   []string
	)

	flush := func() {
		if len(lines) == 0 {
			return
		}
		entries = append(entries, parseRecord(lines))
		lines = lines[:0]
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, len(body)+1)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()

	return entries
}

func parseRecord(lines []string) EventLogEntry {
	entry := EventLogEntry{Raw: strings.Join(lines, "\n")}

	var data []string
	for _, line := range lines {
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			entry.Event = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
		}
	}

	if len(data) > 0 {
		payload := strings.Join(data, "\n")
		if json.Valid([]byte(payload)) {
			entry.Data = json.RawMessage(payload)
		}
	}
	return entry
}
