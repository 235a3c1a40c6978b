package config

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, 10*time.Second, cfg.AnalysisInterval)
	assert.Equal(t, 2, cfg.AbuseThreshold)
	assert.Equal(t, 3, cfg.ComplaintThreshold)
	assert.Equal(t, 2, cfg.EscalationThreshold)
	assert.Equal(t, -0.5, cfg.NegativeSentimentThreshold)
	assert.Equal(t, 5, cfg.MinSentimentSamples)
	assert.Equal(t, time.Hour, cfg.RollupWindow)
	assert.Equal(t, 24, cfg.SentimentHistoryCapacity)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshBuffer)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.WebhookEnabled)
	assert.False(t, cfg.AMQPEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_LISTEN_ADDR", ":9999")
	t.Setenv("ANALYSIS_INTERVAL", "5s")
	t.Setenv("ABUSE_THRESHOLD", "4")
	t.Setenv("NEGATIVE_SENTIMENT_THRESHOLD", "-0.7")
	t.Setenv("WEBHOOK_ENABLED", "true")
	t.Setenv("WEBHOOK_URL", "http://hooks.internal/callwatch")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPListenAddr)
	assert.Equal(t, 5*time.Second, cfg.AnalysisInterval)
	assert.Equal(t, 4, cfg.AbuseThreshold)
	assert.Equal(t, -0.7, cfg.NegativeSentimentThreshold)
	assert.True(t, cfg.WebhookEnabled)
	assert.Equal(t, "http://hooks.internal/callwatch", cfg.WebhookURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("ANALYSIS_INTERVAL", "soon")
	t.Setenv("ABUSE_THRESHOLD", "many")
	t.Setenv("NEGATIVE_SENTIMENT_THRESHOLD", "very")
	t.Setenv("AMQP_ENABLED", "maybe")

	cfg, err := Load(testLogger())
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.AnalysisInterval)
	assert.Equal(t, 2, cfg.AbuseThreshold)
	assert.Equal(t, -0.5, cfg.NegativeSentimentThreshold)
	assert.False(t, cfg.AMQPEnabled)
}
