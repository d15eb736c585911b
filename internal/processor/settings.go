package processor

import (
	"fmt"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/expression"
	"httpclient-processor/internal/model"
)

// Names visible to request-side expressions; see model.Message.Env.
var messageEnv = expression.Schema{
	"id":        nil,
	"payload":   nil,
	"headers":   nil,
	"timestamp": nil,
}

// Names visible to the reply expression; see model.Response.Env.
var responseEnv = expression.Schema{
	"status":  nil,
	"headers": nil,
	"body":    nil,
	"response": expression.Schema{
		"status":  nil,
		"headers": nil,
		"body":    nil,
	},
}

// Settings is the compiled, immutable form of config.ProcessorConfig.
type Settings struct {
	Method       string
	URL          expression.Expression
	Headers      expression.Expression // optional
	Body         any                   // literal body; used when HasBody
	HasBody      bool
	BodyExpr     expression.Expression // optional
	Reply        expression.Expression
	ResponseType model.ResponseType
}

// NewSettings compiles every configured expression against the names it
// may reference. A syntax error or an unknown name is reported as a
// configuration error so the service refuses to start.
func NewSettings(cfg *config.Config) (Settings, error) {
	pc := cfg.Processor
	s := Settings{Method: pc.HTTPMethod}

	var err error
	if s.URL, err = compile("url_expression", messageEnv, pc.URLExpression); err != nil {
		return Settings{}, err
	}
	if pc.HeadersExpression != "" {
		if s.Headers, err = compile("headers_expression", messageEnv, pc.HeadersExpression); err != nil {
			return Settings{}, err
		}
	}
	if pc.Body != nil {
		s.Body, s.HasBody = *pc.Body, true
	}
	if pc.BodyExpression != "" {
		if s.BodyExpr, err = compile("body_expression", messageEnv, pc.BodyExpression); err != nil {
			return Settings{}, err
		}
	}
	reply := pc.ReplyExpression
	if reply == "" {
		reply = "body"
	}
	if s.Reply, err = compile("reply_expression", responseEnv, reply); err != nil {
		return Settings{}, err
	}
	if s.ResponseType, err = model.ParseResponseType(pc.ExpectedResponseType); err != nil {
		return Settings{}, &Error{Kind: KindConfiguration, Stage: "expected_response_type", Err: err}
	}
	return s, nil
}

func compile(field string, env expression.Schema, source string) (expression.Expression, error) {
	p, err := expression.CompileFor(source, env)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Stage: field, Err: err}
	}
	return p, nil
}

// String describes the settings for status pages and startup logs.
func (s Settings) String() string {
	return fmt.Sprintf("%s %s -> %s", s.Method, s.URL, s.ResponseType)
}
