// Package chat implements the message protocol layered over data
// links. Wire format: newline-delimited JSON, one message per line.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates wire messages.
type Kind string

const (
	// KindSystem messages are informational handshakes, never surfaced
	// in the transcript.
	KindSystem Kind = "system"
	// KindChat messages are appended to the transcript.
	KindChat Kind = "chat"
)

// Message is the wire type exchanged over a data link.
type Message struct {
	Kind       Kind      `json:"kind"`
	SenderName string    `json:"sender_name,omitempty"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// Encode serializes one message as a newline-terminated JSON line.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding chat message: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeAll parses every newline-delimited message in payload,
// preserving arrival order. Blank lines are skipped; a malformed line
// aborts with the lines decoded so far.
func DecodeAll(payload []byte) ([]Message, error) {
	var out []Message
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return out, fmt.Errorf("decoding chat message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
