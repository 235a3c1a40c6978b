package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all runtime settings, loaded from the environment with an
// optional .env file for development.
type Config struct {
	// HTTP server
	HTTPListenAddr string

	// PBX API
	PBXBaseURL      string
	PBXEventsURL    string
	PBXTokenURL     string
	PBXClientID     string
	PBXClientSecret string

	// PBX client discipline
	TokenRefreshBuffer time.Duration
	MaxRetryAttempts   int
	RetryBaseDelay     time.Duration
	RequestTimeout     time.Duration

	// Analysis pipeline
	AnalysisInterval           time.Duration
	AbuseThreshold             int
	ComplaintThreshold         int
	EscalationThreshold        int
	NegativeSentimentThreshold float64
	MinSentimentSamples        int

	// Aggregate sentiment rollup
	RollupWindow             time.Duration
	SentimentHistoryCapacity int

	// Notifications
	DigestInterval time.Duration
	WebhookURL     string
	WebhookEnabled bool
	AMQPURL        string
	AMQPQueueName  string
	AMQPEnabled    bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, first loading a .env file
// if one is present. Missing variables fall back to defaults; Load never
// fails on a bad individual value, it falls back and keeps going.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env file")
	}

	cfg := &Config{
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),

		PBXBaseURL:      getEnv("PBX_BASE_URL", "http://localhost:8088"),
		PBXEventsURL:    getEnv("PBX_EVENTS_URL", "ws://localhost:8088/events"),
		PBXTokenURL:     getEnv("PBX_TOKEN_URL", "http://localhost:8088/oauth/token"),
		PBXClientID:     getEnv("PBX_CLIENT_ID", ""),
		PBXClientSecret: getEnv("PBX_CLIENT_SECRET", ""),

		TokenRefreshBuffer: getEnvDuration("TOKEN_REFRESH_BUFFER", 5*time.Minute),
		MaxRetryAttempts:   getEnvInt("MAX_RETRY_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),

		AnalysisInterval:           getEnvDuration("ANALYSIS_INTERVAL", 10*time.Second),
		AbuseThreshold:             getEnvInt("ABUSE_THRESHOLD", 2),
		ComplaintThreshold:         getEnvInt("COMPLAINT_THRESHOLD", 3),
		EscalationThreshold:        getEnvInt("ESCALATION_THRESHOLD", 2),
		NegativeSentimentThreshold: getEnvFloat("NEGATIVE_SENTIMENT_THRESHOLD", -0.5),
		MinSentimentSamples:        getEnvInt("MIN_SENTIMENT_SAMPLES", 5),

		RollupWindow:             getEnvDuration("ROLLUP_WINDOW", time.Hour),
		SentimentHistoryCapacity: getEnvInt("SENTIMENT_HISTORY_CAPACITY", 24),

		DigestInterval: getEnvDuration("DIGEST_INTERVAL", 15*time.Minute),
		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		WebhookEnabled: getEnvBool("WEBHOOK_ENABLED", false),
		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPQueueName:  getEnv("AMQP_QUEUE_NAME", "callwatch.flagged"),
		AMQPEnabled:    getEnvBool("AMQP_ENABLED", false),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	logger.WithFields(logrus.Fields{
		"http_addr":         cfg.HTTPListenAddr,
		"pbx_base_url":      cfg.PBXBaseURL,
		"analysis_interval": cfg.AnalysisInterval,
	}).Info("Configuration loaded")

	return cfg, nil
}

// Helper function to get an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Helper function to get a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "yes", "1", "on":
		return true
	case "false", "no", "0", "off":
		return false
	default:
		return defaultValue
	}
}

// Helper function to get an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// Helper function to get a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getEnvFloat retrieves an environment variable and converts it to float64
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatValue
}
