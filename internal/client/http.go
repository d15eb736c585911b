// Package client provides the outbound HTTP transport used by the processor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"httpclient-processor/internal/config"
	"httpclient-processor/internal/metrics"
	"httpclient-processor/internal/model"
)

const userAgent = "httpclient-processor/1.0"

var (
	// ErrDecode is returned when the response body cannot be decoded into the
	// expected response type.
	ErrDecode = errors.New("decode response body")
	// ErrEncode is returned when the request body cannot be serialized.
	ErrEncode = errors.New("encode request body")
	// ErrResponseTooLarge is returned when the response exceeds upstream.max_response_bytes.
	ErrResponseTooLarge = errors.New("response body exceeds limit")
)

// StatusError is returned for non-2xx responses when the client is configured
// to treat them as failures.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.Status)
}

// HTTPClient sends processor requests to arbitrary HTTP endpoints.
type HTTPClient struct {
	httpClient       *http.Client
	logger           *slog.Logger
	metrics          *metrics.Metrics
	failOnStatus     bool
	maxResponseBytes int64
}

// NewHTTPClient creates an HTTPClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewHTTPClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *HTTPClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxBytes := cfg.Upstream.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:           logger.With("component", "http_client"),
		metrics:          m,
		failOnStatus:     cfg.Processor.FailOnStatus(),
		maxResponseBytes: maxBytes,
	}
}

// Do executes an HTTP request and records upstream metrics.
// The caller is responsible for closing the response body.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return resp, nil
}

// Send encodes req, executes it, and decodes the response body as rt.
// The provided context controls the lifetime of the upstream request.
func (c *HTTPClient) Send(ctx context.Context, req *model.Request, rt model.ResponseType) (*model.Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", userAgent)
	}
	httpReq.Header = header

	resp, err := c.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, c.maxResponseBytes)
	}

	if c.failOnStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	decoded, err := decodeBody(data, rt)
	if err != nil {
		return nil, fmt.Errorf("%w as %s: %w", ErrDecode, rt, err)
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       decoded,
	}, nil
}

// encodeBody renders a request body and returns the default content type for it.
func encodeBody(v any) (io.Reader, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return bytes.NewReader([]byte(b)), "text/plain; charset=utf-8", nil
	case json.RawMessage:
		return bytes.NewReader(b), "application/json", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	case io.Reader:
		return b, "application/octet-stream", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

func decodeBody(data []byte, rt model.ResponseType) (any, error) {
	switch rt {
	case model.ResponseBytes:
		return data, nil
	case model.ResponseJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case model.ResponseString, "":
		return string(data), nil
	}
	return nil, fmt.Errorf("unsupported response type %q", rt)
}
