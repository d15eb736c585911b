// Package channel provides the message sources and sinks the runner plugs
// into the transformer.
package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"httpclient-processor/internal/model"
)

// envelope is the JSON wire form used on Redis channels.
type envelope struct {
	ID        string         `json:"id"`
	Payload   any            `json:"payload"`
	Headers   map[string]any `json:"headers,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// decodeEnvelope parses data into a Message, filling a missing ID with a
// UUID and a missing timestamp with the current time.
func decodeEnvelope(data []byte) (*model.Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	return &model.Message{
		ID:        env.ID,
		Payload:   env.Payload,
		Headers:   env.Headers,
		Timestamp: env.Timestamp,
	}, nil
}

func encodeEnvelope(out *model.Outbound) ([]byte, error) {
	payload := out.Payload
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	data, err := json.Marshal(envelope{
		ID:        out.ID,
		Payload:   payload,
		Headers:   out.Headers,
		Timestamp: out.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope for message %q: %w", out.ID, err)
	}
	return data, nil
}
