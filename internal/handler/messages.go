package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"httpclient-processor/internal/model"
)

// HeaderMessageID carries the message ID in both directions.
const HeaderMessageID = "X-Message-Id"

// HeaderUpstreamStatus reports the status code of the upstream response.
const HeaderUpstreamStatus = "X-Upstream-Status"

// Deliverer processes one message and reports whether it produced output.
type Deliverer interface {
	Deliver(ctx context.Context, msg *model.Message) (*model.Outbound, bool)
}

// MessageHandler is the synchronous HTTP ingress for the processor.
type MessageHandler struct {
	runner Deliverer
	logger *slog.Logger
}

// NewMessageHandler creates a MessageHandler.
func NewMessageHandler(runner Deliverer, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		runner: runner,
		logger: logger.With("component", "message_handler"),
	}
}

// Handle turns the request into a message and writes the reply, or 204 when
// the processor produced no output.
func (h *MessageHandler) Handle(c echo.Context) error {
	req := c.Request()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		h.logger.Warn("reading request body", "err", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	payload, err := decodePayload(req.Header.Get(echo.HeaderContentType), raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body",
		})
	}

	id := req.Header.Get(HeaderMessageID)
	if id == "" {
		id = uuid.NewString()
	}
	msg := &model.Message{
		ID:        id,
		Payload:   payload,
		Headers:   flattenHeader(req.Header),
		Timestamp: time.Now().UTC(),
	}

	c.Response().Header().Set(HeaderMessageID, id)

	out, ok := h.runner.Deliver(req.Context(), msg)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	if status, ok := out.Headers["http_status"].(int); ok {
		c.Response().Header().Set(HeaderUpstreamStatus, strconv.Itoa(status))
	}

	switch p := out.Payload.(type) {
	case string:
		return c.String(http.StatusOK, p)
	case []byte:
		return c.Blob(http.StatusOK, echo.MIMEOctetStream, p)
	default:
		return c.JSON(http.StatusOK, p)
	}
}

// decodePayload decodes JSON bodies; anything else is passed as a string.
// An empty body yields a nil payload.
func decodePayload(contentType string, raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != echo.MIMEApplicationJSON {
		return string(raw), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func flattenHeader(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vals := range h {
		if len(vals) == 1 {
			out[k] = vals[0]
			continue
		}
		out[k] = vals
	}
	return out
}
