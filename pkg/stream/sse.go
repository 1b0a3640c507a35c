package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/polisai/polis-broker/pkg/domain"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  []byte `json:"data"`
}

// NewSSEEvent converts a feed event into an SSE event named after its kind,
// with a JSON payload and seq as the event id.
func NewSSEEvent(seq uint64, ev domain.Event) (*SSEEvent, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	return &SSEEvent{
		ID:    strconv.FormatUint(seq, 10),
		Event: string(ev.Kind()),
		Data:  data,
	}, nil
}

// SerializeSSEEvent converts an SSEEvent to SSE wire format
func SerializeSSEEvent(event *SSEEvent) []byte {
	if event == nil {
		return []byte{}
	}

	var buffer bytes.Buffer

	if event.Event != "" {
		buffer.WriteString("event: ")
		buffer.WriteString(event.Event)
		buffer.WriteString("\n")
	}

	if event.ID != "" {
		buffer.WriteString("id: ")
		buffer.WriteString(event.ID)
		buffer.WriteString("\n")
	}

	// Multi-line data is split across several data fields
	if len(event.Data) > 0 {
		for _, line := range strings.Split(string(event.Data), "\n") {
			buffer.WriteString("data: ")
			buffer.WriteString(line)
			buffer.WriteString("\n")
		}
	} else {
		// Even if data is empty, we need at least one data line for valid SSE
		buffer.WriteString("data: \n")
	}

	// End event with empty line
	buffer.WriteString("\n")

	return buffer.Bytes()
}

// SerializeSSEComment returns an SSE comment line, used as a keepalive
func SerializeSSEComment(text string) []byte {
	return []byte(": " + text + "\n\n")
}

// ParseSSEStream reads SSE events from r until EOF. Comments are skipped and
// multi-line data is joined with newlines.
func ParseSSEStream(r io.Reader) <-chan *SSEEvent {
	events := make(chan *SSEEvent, 10)

	go func() {
		defer close(events)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

		var (
			current   SSEEvent
			dataLines []string
			pending   bool
		)
		flush := func() {
			if !pending {
				return
			}
			if len(dataLines) > 0 {
				current.Data = []byte(strings.Join(dataLines, "\n"))
			}
			ev := current
			events <- &ev
			current, dataLines, pending = SSEEvent{}, nil, false
		}

		for scanner.Scan() {
			line := strings.TrimSuffix(scanner.Text(), "\r")
			if line == "" {
				flush()
				continue
			}
			if strings.HasPrefix(line, ":") {
				continue
			}

			field, value, _ := strings.Cut(line, ":")
			// Remove only a single space after colon, as per SSE spec
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				current.Event = value
			case "id":
				current.ID = value
			case "data":
				dataLines = append(dataLines, value)
			default:
				continue
			}
			pending = true
		}
		flush()
	}()

	return events
}
