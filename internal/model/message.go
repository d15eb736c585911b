// Package model defines shared types for the processor.
package model

import (
	"net/http"
	"net/url"
	"time"
)

// Message is one inbound message delivered by a source or the HTTP ingress.
// The processor treats it as read-only.
type Message struct {
	ID        string
	Payload   any
	Headers   map[string]any
	Timestamp time.Time
}

// Env returns the evaluation environment used by request-side expressions.
func (m *Message) Env() map[string]any {
	headers := m.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	return map[string]any{
		"id":        m.ID,
		"payload":   m.Payload,
		"headers":   headers,
		"timestamp": m.Timestamp,
	}
}

// Request is the HTTP request built for a single message.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   any
}

// Response is the upstream response with its body already decoded.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       any
}

// Env returns the evaluation environment used by the reply expression.
// Fields are exposed both at the top level and under "response".
func (r *Response) Env() map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k, vals := range r.Header {
		if len(vals) == 1 {
			headers[k] = vals[0]
			continue
		}
		headers[k] = vals
	}
	entity := map[string]any{
		"status":  r.StatusCode,
		"headers": headers,
		"body":    r.Body,
	}
	return map[string]any{
		"status":   r.StatusCode,
		"headers":  headers,
		"body":     r.Body,
		"response": entity,
	}
}

// Outbound is the message emitted downstream after a successful call.
type Outbound struct {
	ID        string
	Payload   any
	Headers   map[string]any
	Timestamp time.Time
}
