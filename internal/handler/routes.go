package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, messages *MessageHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/processor/status", health.Status)

	e.POST("/messages", messages.Handle)
}
