package pbx

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// EventHandler receives one raw event frame from the PBX feed.
type EventHandler func(ctx context.Context, message []byte)

// FeedConfig holds the PBX websocket event feed settings.
type FeedConfig struct {
	URL string

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration
}

// Feed consumes the PBX websocket event stream and hands raw frames to a
// handler. It reconnects with exponential backoff on any failure and only
// stops when its context is cancelled.
type Feed struct {
	logger  *logrus.Entry
	config  FeedConfig
	tokens  *TokenSource
	handler EventHandler
}

// NewFeed creates a feed. The handler is invoked from the feed's read
// goroutine, one frame at a time.
func NewFeed(logger *logrus.Logger, config FeedConfig, tokens *TokenSource, handler EventHandler) *Feed {
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	return &Feed{
		logger:  logger.WithField("component", "pbx_feed"),
		config:  config,
		tokens:  tokens,
		handler: handler,
	}
}

// Run connects and consumes the feed until ctx is cancelled. Each failed
// connection or dropped stream doubles the backoff up to the cap; a
// successful connection resets it.
func (f *Feed) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if err := f.consume(ctx); err != nil {
			f.logger.WithError(err).WithField("backoff", backoff).Warn("Event feed disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > f.config.MaxBackoff {
			backoff = f.config.MaxBackoff
		}
	}
}

// consume dials the feed and reads frames until the connection drops or ctx
// is cancelled. A nil return means ctx was cancelled.
func (f *Feed) consume(ctx context.Context) error {
	token, err := f.tokens.Token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.config.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.WithField("url", f.config.URL).Info("Connected to PBX event feed")

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		f.handler(ctx, message)
	}
}
