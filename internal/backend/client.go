// Package backend talks to the remote retrieval-augmented-generation API.
//
// It provides the health probe and the query dispatcher. Neither returns Go
// errors for backend failures: every outcome is converted into a session
// status or a classified query result.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/changi-qa/internal/classifier"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultMaxResponseBytes caps a single backend response body.
	DefaultMaxResponseBytes = 10 * 1024 * 1024

	userAgent = "changi-qa/1.0"
)

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	BaseURL          string
	QueryPath        string
	HealthPath       string
	MaxResponseBytes int64
	// HTTPClient is optional. Timeouts are applied per call through the
	// request context, so the client itself should not set one.
	HTTPClient *http.Client
}

// Client posts JSON to the backend's query and health endpoints.
type Client struct {
	queryURL         string
	healthURL        string
	httpClient       *http.Client
	maxResponseBytes int64
	logger           *slog.Logger
}

// NewClient validates the endpoint configuration and builds a client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http or https, got %q", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("backend base url has no host: %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}

	return &Client{
		queryURL:         base.String() + ensureLeadingSlash(cfg.QueryPath),
		healthURL:        base.String() + ensureLeadingSlash(cfg.HealthPath),
		httpClient:       httpClient,
		maxResponseBytes: maxBytes,
		logger:           logger,
	}, nil
}

// QueryURL returns the resolved query endpoint.
func (c *Client) QueryURL() string {
	return c.queryURL
}

// HealthURL returns the resolved health-check endpoint.
func (c *Client) HealthURL() string {
	return c.healthURL
}

// post sends payload as JSON and returns the raw outcome. The request body
// carries credentials, so neither it nor the response body is logged.
func (c *Client) post(ctx context.Context, endpoint string, payload any) classifier.Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return classifier.Outcome{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return classifier.Outcome{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if reqID := chiMiddleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(chiMiddleware.RequestIDHeader, reqID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if classifier.IsCanceled(err) {
			c.logger.Debug("Backend request abandoned", "path", req.URL.Path, "duration", time.Since(start))
		} else {
			c.logger.Warn("Backend request failed", "path", req.URL.Path, "duration", time.Since(start), "error", err)
		}
		return classifier.Outcome{Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close backend response body", "error", closeErr)
		}
	}()

	data, truncated, err := c.readBody(resp.Body)
	if err != nil {
		c.logger.Warn("Backend response read failed", "path", req.URL.Path, "status", resp.StatusCode, "error", err)
		return classifier.Outcome{Err: err}
	}

	c.logger.Debug("Backend response",
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return classifier.Outcome{StatusCode: resp.StatusCode, Body: data, Truncated: truncated}
}

func (c *Client) readBody(r io.Reader) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxResponseBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return data[:c.maxResponseBytes], true, nil
	}
	return data, false, nil
}

func ensureLeadingSlash(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
