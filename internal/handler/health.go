package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/pipeline"
)

// Version is a string type for dependency injection of the build version.
type Version string

// SourceStater reports the state of the message source. *pipeline.Runner
// implements it.
type SourceStater interface {
	SourceState() (string, error)
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	source  SourceStater
}

// NewHealthHandler creates a HealthHandler. source may be nil when no
// runner is wired.
func NewHealthHandler(cfg *config.Config, v Version, source SourceStater) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, source: source}
}

func (h *HealthHandler) sourceState() (string, error) {
	if h.source == nil {
		return pipeline.SourceNone, nil
	}
	return h.source.SourceState()
}

// Healthz reports liveness. It returns 503 once the configured source has
// stopped with an error.
func (h *HealthHandler) Healthz(c echo.Context) error {
	if state, _ := h.sourceState(); state == pipeline.SourceFailed {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":       "unavailable",
			"source_state": state,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status describes how the processor is configured.
func (h *HealthHandler) Status(c echo.Context) error {
	p := h.cfg.Processor
	state, err := h.sourceState()
	body := map[string]string{
		"status":         "ok",
		"version":        string(h.version),
		"http_method":    p.HTTPMethod,
		"url_expression": p.URLExpression,
		"response_type":  p.ExpectedResponseType,
		"source":         h.cfg.Source.Kind,
		"source_state":   state,
		"sink":           h.cfg.Sink.Kind,
	}
	if err != nil {
		body["status"] = "degraded"
		body["source_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, body)
}
