package pbx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// tokenServer serves client-credentials tokens and counts requests.
func tokenServer(t *testing.T, expiresIn int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("Expected client_credentials grant, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
}

func TestTokenCachedWhileFresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 1000, &calls)
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{
		TokenURL:      srv.URL,
		ClientID:      "id",
		ClientSecret:  "secret",
		RefreshBuffer: 300 * time.Second,
	}, nil)

	for i := 0; i < 3; i++ {
		token, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "test-token" {
			t.Fatalf("Unexpected token %q", token)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("Expected 1 token fetch, got %d", got)
	}
}

func TestTokenInsideBufferIsRefreshed(t *testing.T) {
	var calls int32
	// Token expires in 200s, buffer is 300s: every call must refresh.
	srv := tokenServer(t, 200, &calls)
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{
		TokenURL:      srv.URL,
		RefreshBuffer: 300 * time.Second,
	}, nil)

	for i := 0; i < 2; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("Token failed: %v", err)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("Expected a refresh per call inside the buffer, got %d fetches", got)
	}
}

func TestTokenConcurrentRefreshShared(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 1000, &calls)
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{
		TokenURL:      srv.URL,
		RefreshBuffer: 300 * time.Second,
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.Token(context.Background()); err != nil {
				t.Errorf("Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("Expected concurrent callers to share 1 fetch, got %d", got)
	}
}

func TestTokenInvalidateForcesRefresh(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 1000, &calls)
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{
		TokenURL:      srv.URL,
		RefreshBuffer: 300 * time.Second,
	}, nil)

	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	ts.Invalidate()
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token failed after invalidate: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("Expected 2 fetches around an invalidate, got %d", got)
	}
}

func TestTokenEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{TokenURL: srv.URL}, nil)

	_, err := ts.Token(context.Background())
	if !errors.IsErrorType(err, errors.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestTokenMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"expires_in": 100})
	}))
	defer srv.Close()

	ts := NewTokenSource(testLogger(), TokenConfig{TokenURL: srv.URL}, nil)

	_, err := ts.Token(context.Background())
	if !errors.IsErrorType(err, errors.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
}
