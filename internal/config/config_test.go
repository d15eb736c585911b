package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalProcessor = `
[processor]
url_expression = '"http://example.test/items/" + payload'
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[processor]
http_method = "post"
url_expression = '"http://example.test/items/" + payload'
headers_expression = '{"Accept": "application/json"}'
body = "static"
body_expression = "payload"
reply_expression = "response.body"
expected_response_type = "json"
fail_on_error_status = false

[upstream]
timeout_seconds = 60
idle_connections = 50

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Processor.HTTPMethod != "POST" {
		t.Errorf("Processor.HTTPMethod = %q, want %q", cfg.Processor.HTTPMethod, "POST")
	}
	if cfg.Processor.Body == nil || *cfg.Processor.Body != "static" {
		t.Errorf("Processor.Body = %v, want %q", cfg.Processor.Body, "static")
	}
	if cfg.Processor.ReplyExpression != "response.body" {
		t.Errorf("Processor.ReplyExpression = %q, want %q", cfg.Processor.ReplyExpression, "response.body")
	}
	if cfg.Processor.ExpectedResponseType != "json" {
		t.Errorf("Processor.ExpectedResponseType = %q, want %q", cfg.Processor.ExpectedResponseType, "json")
	}
	if cfg.Processor.FailOnStatus() {
		t.Error("Processor.FailOnStatus() = true, want false")
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_EmptyBodyIsPresent(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`body = ""
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Processor.Body == nil {
		t.Fatal("Processor.Body = nil, want pointer to empty string")
	}
	if *cfg.Processor.Body != "" {
		t.Errorf("Processor.Body = %q, want empty", *cfg.Processor.Body)
	}
}

func TestLoad_MissingURLExpression(t *testing.T) {
	path := writeConfig(t, `
[processor]
http_method = "GET"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing url_expression, got nil")
	}
	if !strings.Contains(err.Error(), "url_expression") {
		t.Errorf("error = %q, want mention of url_expression", err)
	}
}

func TestLoad_InvalidMethod(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`http_method = "FETCH"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for unsupported method, got nil")
	}
}

func TestLoad_InvalidResponseType(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`expected_response_type = "xml"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for unknown response type, got nil")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, minimalProcessor)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Processor.HTTPMethod != "GET" {
		t.Errorf("default Processor.HTTPMethod = %q, want %q", cfg.Processor.HTTPMethod, "GET")
	}
	if cfg.Processor.ReplyExpression != "body" {
		t.Errorf("default Processor.ReplyExpression = %q, want %q", cfg.Processor.ReplyExpression, "body")
	}
	if cfg.Processor.ExpectedResponseType != "string" {
		t.Errorf("default Processor.ExpectedResponseType = %q, want %q", cfg.Processor.ExpectedResponseType, "string")
	}
	if cfg.Processor.Body != nil {
		t.Errorf("default Processor.Body = %q, want nil", *cfg.Processor.Body)
	}
	if !cfg.Processor.FailOnStatus() {
		t.Error("default Processor.FailOnStatus() = false, want true")
	}
	if cfg.Upstream.TimeoutSeconds != 30 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 30)
	}
	if cfg.Source.Kind != KindNone {
		t.Errorf("default Source.Kind = %q, want %q", cfg.Source.Kind, KindNone)
	}
	if cfg.Sink.Kind != KindLog {
		t.Errorf("default Sink.Kind = %q, want %q", cfg.Sink.Kind, KindLog)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[processor]
http_method = "GET"
url_expression = '"http://a.test/"'

[log]
level = "info"
`)

	cli := &CLI{
		Config:   path,
		Host:     "127.0.0.1",
		Port:     3000,
		Method:   "put",
		URL:      `"http://b.test/" + id`,
		LogLevel: "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Processor.HTTPMethod != "PUT" {
		t.Errorf("Processor.HTTPMethod = %q, want %q (CLI override)", cfg.Processor.HTTPMethod, "PUT")
	}
	if cfg.Processor.URLExpression != `"http://b.test/" + id` {
		t.Errorf("Processor.URLExpression = %q (CLI override)", cfg.Processor.URLExpression)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_NegativeValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"port", "\n[server]\nport = -1\n"},
		{"body_max_bytes", "\n[server]\nbody_max_bytes = -1\n"},
		{"timeout_seconds", "\n[upstream]\ntimeout_seconds = -5\n"},
		{"idle_connections", "\n[upstream]\nidle_connections = -1\n"},
		{"max_response_bytes", "\n[upstream]\nmax_response_bytes = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, minimalProcessor+tt.data)
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for negative %s, got nil", tt.name)
			}
			if !strings.Contains(err.Error(), tt.name) {
				t.Errorf("error = %q, want mention of %s", err, tt.name)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestLoad_Channels(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name: "redis source and kafka sink",
			data: `
[source]
kind = "redis"
[source.redis]
addr = "localhost:6379"
channel = "in"

[sink]
kind = "kafka"
[sink.kafka]
brokers = ["localhost:9092"]
topic = "out"
`,
		},
		{
			name:    "unknown source kind",
			data:    "\n[source]\nkind = \"amqp\"\n",
			wantErr: "source.kind",
		},
		{
			name:    "redis source without channel",
			data:    "\n[source]\nkind = \"redis\"\n[source.redis]\naddr = \"localhost:6379\"\n",
			wantErr: "source.redis.channel",
		},
		{
			name: "kafka source without group",
			data: `
[source]
kind = "kafka"
[source.kafka]
brokers = ["localhost:9092"]
topic = "in"
`,
			wantErr: "group_id",
		},
		{
			name:    "kafka sink without brokers",
			data:    "\n[sink]\nkind = \"kafka\"\n[sink.kafka]\ntopic = \"out\"\n",
			wantErr: "sink.kafka.brokers",
		},
		{
			name:    "unknown sink kind",
			data:    "\n[sink]\nkind = \"stdout\"\n",
			wantErr: "sink.kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, minimalProcessor+tt.data)
			cfg, err := Load(cliWithPath(path))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				if cfg.Sink.Kafka.Version == "" {
					t.Error("expected default kafka version")
				}
				return
			}
			if err == nil {
				t.Fatalf("Load() expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, minimalProcessor)

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, minimalProcessor)
	path2 := writeConfig(t, minimalProcessor)

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"messages exact", "/messages"},
		{"messages sub", "/messages/metrics"},
		{"healthz", "/healthz"},
		{"processor/status", "/processor/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, minimalProcessor+`
[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, minimalProcessor+`
[metrics]
enabled = false
path = "bad-no-slash"
`)

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(cliWithPath(filepath.Join("..", "..", "configs", "config.toml")))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Processor.ExpectedResponseType != "json" {
		t.Errorf("Processor.ExpectedResponseType = %q, want %q", cfg.Processor.ExpectedResponseType, "json")
	}
	if cfg.Source.Kind != KindNone || cfg.Sink.Kind != KindLog {
		t.Errorf("channels = %q -> %q, want none -> log", cfg.Source.Kind, cfg.Sink.Kind)
	}
	if !cfg.Processor.FailOnStatus() {
		t.Error("Processor.FailOnStatus() = false, want true")
	}
}
