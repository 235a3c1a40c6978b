package pbx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/metrics"
)

// TokenConfig holds the OAuth client-credentials settings for the PBX API.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// RefreshBuffer forces a refresh this long before actual expiry, so a
	// token handed to a request cannot expire mid-flight.
	RefreshBuffer time.Duration
}

// TokenSource caches a bearer token and refreshes it ahead of expiry.
// Concurrent callers needing a refresh share a single network round trip.
type TokenSource struct {
	logger     *logrus.Entry
	config     TokenConfig
	httpClient *http.Client

	sf singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source. A nil httpClient falls back to a
// default client with a 10 second timeout.
func NewTokenSource(logger *logrus.Logger, config TokenConfig, httpClient *http.Client) *TokenSource {
	if config.RefreshBuffer <= 0 {
		config.RefreshBuffer = 5 * time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenSource{
		logger:     logger.WithField("component", "pbx_token"),
		config:     config,
		httpClient: httpClient,
	}
}

// Token returns a bearer token that is guaranteed to remain valid for at
// least the refresh buffer. A cached token inside the buffer window is
// treated as expired and refreshed before use.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && time.Until(ts.expiry) > ts.config.RefreshBuffer {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	// All callers that find the cache stale share one refresh.
	v, err, _ := ts.sf.Do("token", func() (interface{}, error) {
		// Re-check under the lock: another caller may have refreshed
		// between the stale check and joining the flight.
		ts.mu.Lock()
		if ts.token != "" && time.Until(ts.expiry) > ts.config.RefreshBuffer {
			token := ts.token
			ts.mu.Unlock()
			return token, nil
		}
		ts.mu.Unlock()

		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the cached token, forcing the next Token call to
// refresh. Used after the API rejects a request with 401.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiry = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ts.config.ClientID)
	form.Set("client_secret", ts.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		metrics.RecordTokenRefresh("failure")
		return "", errors.Wrap(err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		metrics.RecordTokenRefresh("failure")
		return "", errors.NewAuthenticationFailed(fmt.Sprintf("token endpoint unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.RecordTokenRefresh("failure")
		return "", errors.NewAuthenticationFailed(fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		metrics.RecordTokenRefresh("failure")
		return "", errors.NewAuthenticationFailed(fmt.Sprintf("decoding token response: %v", err))
	}
	if payload.AccessToken == "" {
		metrics.RecordTokenRefresh("failure")
		return "", errors.NewAuthenticationFailed("token response missing access_token")
	}

	expiry := time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	ts.mu.Lock()
	ts.token = payload.AccessToken
	ts.expiry = expiry
	ts.mu.Unlock()

	metrics.RecordTokenRefresh("success")
	ts.logger.WithField("expires_in", payload.ExpiresIn).Debug("Access token refreshed")

	return payload.AccessToken, nil
}
