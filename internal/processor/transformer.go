// Package processor turns one inbound message into one HTTP call and the
// response into at most one outbound message.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"httpclient-processor/internal/metrics"
	"httpclient-processor/internal/model"
)

// secretParamPattern matches credential-like query parameters in URLs that
// transport errors embed.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|token|access_token|password|secret)=)[^&\s"]+`)

// Sender performs the HTTP exchange and decodes the body as rt.
type Sender interface {
	Send(ctx context.Context, req *model.Request, rt model.ResponseType) (*model.Response, error)
}

// Transformer is the request/response transformer. It holds no mutable
// state, so one instance serves concurrent messages.
type Transformer struct {
	settings Settings
	sender   Sender
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewTransformer creates a Transformer. The metrics parameter is optional.
func NewTransformer(s Settings, sender Sender, logger *slog.Logger, m *metrics.Metrics) *Transformer {
	return &Transformer{
		settings: s,
		sender:   sender,
		logger:   logger.With("component", "transformer"),
		metrics:  m,
	}
}

// Settings returns the compiled settings the transformer was built with.
func (t *Transformer) Settings() Settings { return t.settings }

// Handle processes msg and reports whether an outbound message should be
// emitted. Failures are logged and counted; they never reach the caller.
func (t *Transformer) Handle(ctx context.Context, msg *model.Message) (out *model.Outbound, ok bool) {
	if msg == nil {
		t.fail("", &Error{Kind: KindEvaluation, Stage: "receive", Err: errors.New("nil message")})
		return nil, false
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, ok = nil, false
			t.fail(msg.ID, &Error{Kind: KindEvaluation, Stage: "panic", MessageID: msg.ID, Err: fmt.Errorf("%v", r)})
		}
		if t.metrics != nil {
			t.metrics.MessageDuration.Observe(time.Since(start).Seconds())
		}
	}()

	out, err := t.Process(ctx, msg)
	if err != nil {
		t.fail(msg.ID, err)
		return nil, false
	}
	if out == nil {
		t.logger.Debug("reply expression yielded nil; nothing emitted", "message_id", msg.ID)
		t.count(metrics.OutcomeNoOutput)
		return nil, false
	}
	t.count(metrics.OutcomeEmitted)
	return out, true
}

func (t *Transformer) fail(messageID string, err error) {
	kind, stage := KindTransport, ""
	var pe *Error
	if errors.As(err, &pe) {
		kind, stage = pe.Kind, pe.Stage
	}
	t.logger.Warn("error in HTTP request",
		"message_id", messageID,
		"kind", string(kind),
		"stage", stage,
		"method", t.settings.Method,
		"err", sanitizeError(err),
	)
	t.count(metrics.OutcomeFailed)
	if t.metrics != nil {
		t.metrics.MessageFailures.WithLabelValues(string(kind)).Inc()
	}
}

// sanitizeError redacts credentials from error messages before they are logged.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

func (t *Transformer) count(outcome string) {
	if t.metrics != nil {
		t.metrics.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

// Process builds the request for msg, sends it, and derives the reply.
// It returns (nil, nil) when the reply expression yields nil.
func (t *Transformer) Process(ctx context.Context, msg *model.Message) (*model.Outbound, error) {
	env := msg.Env()

	header, err := t.buildHeaders(env)
	if err != nil {
		return nil, t.wrap(msg, "headers", err)
	}

	body, err := t.resolveBody(msg, env)
	if err != nil {
		return nil, t.wrap(msg, "body", err)
	}

	u, err := t.resolveURL(env)
	if err != nil {
		return nil, t.wrap(msg, "url", err)
	}

	req := &model.Request{
		Method: t.settings.Method,
		URL:    u,
		Header: header,
		Body:   body,
	}
	resp, err := t.sender.Send(ctx, req, t.settings.ResponseType)
	if err != nil {
		return nil, &Error{Kind: classifySend(err), Stage: "send", MessageID: msg.ID, Err: err}
	}
	if resp == nil {
		return nil, &Error{Kind: KindTransport, Stage: "send", MessageID: msg.ID, Err: errors.New("sender returned no response")}
	}

	reply, err := t.settings.Reply.Eval(resp.Env())
	if err != nil {
		return nil, t.wrap(msg, "reply", err)
	}
	if reply == nil {
		return nil, nil
	}

	return &model.Outbound{
		ID:        msg.ID,
		Payload:   reply,
		Headers:   map[string]any{"http_status": resp.StatusCode},
		Timestamp: time.Now(),
	}, nil
}

// wrap attaches stage and message context. Errors that already carry a
// Kind keep it.
func (t *Transformer) wrap(msg *model.Message, stage string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		pe.Stage, pe.MessageID = stage, msg.ID
		return pe
	}
	return &Error{Kind: classifyEval(err), Stage: stage, MessageID: msg.ID, Err: err}
}

// buildHeaders evaluates the headers expression and keeps only entries whose
// key and value are both present.
func (t *Transformer) buildHeaders(env map[string]any) (http.Header, error) {
	header := make(http.Header)
	if t.settings.Headers == nil {
		return header, nil
	}

	v, err := t.settings.Headers.Eval(env)
	if err != nil {
		return nil, err
	}
	entries, err := mapEntries(v)
	if err != nil {
		return nil, err
	}
	for _, e := range filterEntries(entries) {
		header.Add(fmt.Sprint(e.key), fmt.Sprint(e.value))
	}
	return header, nil
}

// resolveBody applies the fixed precedence: literal body, then body
// expression, then the raw payload. A body expression that yields nil
// referenced a field the message does not carry.
func (t *Transformer) resolveBody(msg *model.Message, env map[string]any) (any, error) {
	switch {
	case t.settings.HasBody:
		return t.settings.Body, nil
	case t.settings.BodyExpr != nil:
		v, err := t.settings.BodyExpr.Eval(env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, &Error{Kind: KindEvaluation, Err: fmt.Errorf("body expression %s yielded nil", t.settings.BodyExpr)}
		}
		return v, nil
	default:
		return msg.Payload, nil
	}
}

func (t *Transformer) resolveURL(env map[string]any) (*url.URL, error) {
	v, err := t.settings.URL.Eval(env)
	if err != nil {
		return nil, err
	}

	var raw string
	switch s := v.(type) {
	case string:
		raw = s
	case fmt.Stringer:
		raw = s.String()
	default:
		return nil, &Error{Kind: KindEvaluation, Err: fmt.Errorf("url expression yielded %T, want string", v)}
	}

	u, err := parseURL(raw)
	if err != nil {
		return nil, &Error{Kind: KindMalformedURL, Err: err}
	}
	return u, nil
}

// parseURL accepts only absolute http(s) URLs without whitespace.
func parseURL(raw string) (*url.URL, error) {
	if strings.ContainsAny(raw, " \t\r\n") {
		return nil, fmt.Errorf("url %q contains whitespace", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

type entry struct {
	key   any
	value any
}

// mapEntries flattens any map value into key/value pairs.
func mapEntries(v any) ([]entry, error) {
	switch m := v.(type) {
	case map[string]any:
		out := make([]entry, 0, len(m))
		for k, val := range m {
			out = append(out, entry{key: k, value: val})
		}
		return out, nil
	case map[string]string:
		out := make([]entry, 0, len(m))
		for k, val := range m {
			out = append(out, entry{key: k, value: val})
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, &Error{Kind: KindEvaluation, Err: fmt.Errorf("headers expression yielded %T, want a map", v)}
	}
	out := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out = append(out, entry{key: iter.Key().Interface(), value: iter.Value().Interface()})
	}
	return out, nil
}

// filterEntries drops entries with an absent key or value.
func filterEntries(entries []entry) []entry {
	out := entries[:0]
	for _, e := range entries {
		if isAbsent(e.key) || isAbsent(e.value) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
