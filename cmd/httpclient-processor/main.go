package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"httpclient-processor/internal/channel"
	"httpclient-processor/internal/client"
	"httpclient-processor/internal/config"
	"httpclient-processor/internal/handler"
	"httpclient-processor/internal/metrics"
	"httpclient-processor/internal/middleware"
	"httpclient-processor/internal/pipeline"
	"httpclient-processor/internal/processor"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("httpclient-processor"),
		kong.Description("Calls an HTTP endpoint for every inbound message and emits the reply."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			fx.Annotate(client.NewHTTPClient, fx.As(new(processor.Sender))),
			processor.NewSettings,
			processor.NewTransformer,
			channel.NewSource,
			channel.NewSink,
			newRunner,
			newMessageHandler,
			newHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			registerMetrics,
			warnConfigPermissions,
			logSettings,
			startRunner,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h).With("service", "httpclient-processor")
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// A message request lasts as long as its upstream call, bounded by upstream.timeout_seconds.
	e.Server.WriteTimeout = time.Duration(cfg.Upstream.TimeoutSeconds+10) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newRunner(src pipeline.Source, sink pipeline.Sink, tr *processor.Transformer, logger *slog.Logger, m *metrics.Metrics) *pipeline.Runner {
	return pipeline.NewRunner(src, sink, tr.Handle, logger, m)
}

func newMessageHandler(r *pipeline.Runner, logger *slog.Logger) *handler.MessageHandler {
	return handler.NewMessageHandler(r, logger)
}

func newHealthHandler(cfg *config.Config, v handler.Version, r *pipeline.Runner) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg, v, r)
}

func registerMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logSettings(s processor.Settings, cfg *config.Config, logger *slog.Logger) {
	logger.Info("processor configured",
		"settings", s.String(),
		"source", cfg.Source.Kind,
		"sink", cfg.Sink.Kind,
	)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

// startRunner must be invoked before startServer so that on shutdown the
// server drains before the sink is closed.
func startRunner(lc fx.Lifecycle, r *pipeline.Runner) {
	lc.Append(fx.Hook{
		// The start context ends when OnStart returns, so the source runs on
		// its own context and is stopped explicitly.
		OnStart: func(context.Context) error {
			return r.Start(context.Background())
		},
		OnStop: r.Stop,
	})
}
