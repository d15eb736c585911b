package channel

import (
	"context"
	"log/slog"

	"httpclient-processor/internal/model"
)

// LogSink writes each outbound message as a structured log record.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "log_sink")}
}

func (s *LogSink) Push(ctx context.Context, out *model.Outbound) error {
	payload := out.Payload
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	s.logger.InfoContext(ctx, "outbound message",
		"message_id", out.ID,
		"payload", payload,
		"headers", out.Headers,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
