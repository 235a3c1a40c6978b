package pbx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/metrics"
)

// ClientConfig holds the PBX REST API settings.
type ClientConfig struct {
	BaseURL string

	// MaxRetries is the total number of attempts per request.
	MaxRetries int

	// RetryBase is the first backoff delay; it doubles after each attempt.
	RetryBase time.Duration

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxRetries:     3,
		RetryBase:      time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Client is the PBX REST API client. Every request carries a bearer token
// from the shared token source and is retried with exponential backoff. A
// 401 invalidates the token and retries immediately with a fresh one; a
// failed re-authentication is fatal rather than retried.
type Client struct {
	logger     *logrus.Entry
	config     ClientConfig
	tokens     *TokenSource
	httpClient *http.Client
}

// NewClient creates a PBX API client. A nil httpClient falls back to the
// default client; per-attempt timeouts are applied via request contexts.
func NewClient(logger *logrus.Logger, config ClientConfig, tokens *TokenSource, httpClient *http.Client) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBase <= 0 {
		config.RetryBase = time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		logger:     logger.WithField("component", "pbx_client"),
		config:     config,
		tokens:     tokens,
		httpClient: httpClient,
	}
}

// Get performs an authenticated GET against the given API path and decodes
// the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, out)
}

// do runs the retry loop for one logical request. Each failed attempt is
// followed by a backoff of RetryBase doubled per attempt, except a 401,
// which swaps the token and retries without delay. When the attempt budget
// is spent, the aggregated error names the endpoint and attempt count.
func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordRetry()
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			// Cannot authenticate at all; retrying won't help.
			return errors.Wrap(err, fmt.Sprintf("authenticating request to %s", path))
		}

		status, err := c.attempt(ctx, method, path, token, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if status == http.StatusUnauthorized {
			c.logger.WithField("path", path).Debug("Token rejected, re-authenticating")
			c.tokens.Invalidate()
			continue
		}

		delay := c.config.RetryBase << uint(attempt)
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt + 1,
			"delay":   delay,
		}).WithError(err).Warn("PBX request failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), fmt.Sprintf("request to %s cancelled", path))
		}
	}

	return errors.NewRetryExhausted(path, c.config.MaxRetries, lastErr)
}

// attempt performs a single HTTP round trip. It returns the response status
// code alongside the error so the caller can special-case 401.
func (c *Client) attempt(ctx context.Context, method, path, token string, out interface{}) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.config.BaseURL+path, nil)
	if err != nil {
		return 0, errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.ObservePBXRequest(path, "error", elapsed)
		return 0, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	metrics.ObservePBXRequest(path, fmt.Sprintf("%d", resp.StatusCode), elapsed)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, errors.New(fmt.Sprintf("unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, errors.Wrap(err, "decoding response")
		}
	}
	return resp.StatusCode, nil
}
