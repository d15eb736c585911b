package processor

import (
	"errors"
	"fmt"

	"httpclient-processor/internal/client"
	"httpclient-processor/internal/expression"
)

// Kind classifies why a message produced no output.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindEvaluation    Kind = "evaluation"
	KindMalformedURL  Kind = "malformed_url"
	KindTransport     Kind = "transport"
	KindDecode        Kind = "decode"
)

// Error is the failure result of processing one message.
type Error struct {
	Kind      Kind
	Stage     string
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("%s: %s failure: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s failure for message %q: %v", e.Stage, e.Kind, e.MessageID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" when err is not a processing error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// classifySend maps a transport-side error onto the taxonomy.
func classifySend(err error) Kind {
	switch {
	case errors.Is(err, client.ErrDecode):
		return KindDecode
	case errors.Is(err, client.ErrEncode):
		return KindEvaluation
	}
	return KindTransport
}

// classifyEval separates compile-time problems from runtime failures.
func classifyEval(err error) Kind {
	var ce *expression.CompileError
	if errors.As(err, &ce) {
		return KindConfiguration
	}
	return KindEvaluation
}
