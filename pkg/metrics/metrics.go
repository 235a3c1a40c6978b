package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Session metrics
	SessionsActive      prometheus.Gauge
	SessionsOpened      prometheus.Counter
	SessionsClosed      prometheus.Counter
	SessionDuration     prometheus.Histogram
	ChunksProcessed     prometheus.Counter
	OrphanedChunks      prometheus.Counter
	MalformedEvents     *prometheus.CounterVec
	KeywordHits         *prometheus.CounterVec

	// Flagging metrics
	FlagsRaised *prometheus.CounterVec

	// PBX client metrics
	PBXRequestsTotal   *prometheus.CounterVec
	PBXRequestDuration *prometheus.HistogramVec
	PBXRetries         prometheus.Counter
	TokenRefreshes     *prometheus.CounterVec

	// Notification metrics
	AlertsSent *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "callwatch_sessions_active",
				Help: "Number of call sessions currently being monitored",
			},
		)

		SessionsOpened = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callwatch_sessions_opened_total",
				Help: "Total number of call sessions opened",
			},
		)

		SessionsClosed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callwatch_sessions_closed_total",
				Help: "Total number of call sessions closed",
			},
		)

		SessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callwatch_session_duration_seconds",
				Help:    "Duration of monitored call sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
		)

		ChunksProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callwatch_transcript_chunks_total",
				Help: "Total number of transcript chunks processed",
			},
		)

		OrphanedChunks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callwatch_orphaned_chunks_total",
				Help: "Transcript chunks dropped because no open session matched",
			},
		)

		MalformedEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_malformed_events_total",
				Help: "Inbound events dropped due to missing or invalid fields",
			},
			[]string{"event_type"},
		)

		KeywordHits = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_keyword_hits_total",
				Help: "Keyword matches by category",
			},
			[]string{"category"},
		)

		FlagsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_flags_raised_total",
				Help: "Flags raised by the flagging policy",
			},
			[]string{"reason", "severity"},
		)

		PBXRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_pbx_requests_total",
				Help: "Outbound PBX API requests by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		)

		PBXRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callwatch_pbx_request_duration_seconds",
				Help:    "Latency of outbound PBX API requests",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
			},
			[]string{"endpoint"},
		)

		PBXRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "callwatch_pbx_retries_total",
				Help: "Total number of PBX request retry attempts",
			},
		)

		TokenRefreshes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_token_refreshes_total",
				Help: "OAuth token refreshes by outcome",
			},
			[]string{"outcome"},
		)

		AlertsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callwatch_alerts_sent_total",
				Help: "Flagged-call alert deliveries by channel and outcome",
			},
			[]string{"channel", "status"},
		)

		registry.MustRegister(
			SessionsActive,
			SessionsOpened,
			SessionsClosed,
			SessionDuration,
			ChunksProcessed,
			OrphanedChunks,
			MalformedEvents,
			KeywordHits,
			FlagsRaised,
			PBXRequestsTotal,
			PBXRequestDuration,
			PBXRetries,
			TokenRefreshes,
			AlertsSent,
		)

		logger.Info("Metrics registry initialized")
	})
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObservePBXRequest records one completed PBX request.
func ObservePBXRequest(endpoint, status string, elapsed time.Duration) {
	if PBXRequestsTotal == nil {
		return
	}
	PBXRequestsTotal.WithLabelValues(endpoint, status).Inc()
	PBXRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// The Record helpers below tolerate an uninitialized registry so that unit
// tests exercising the pipeline do not have to call Init.

// RecordSessionOpened records a newly opened session.
func RecordSessionOpened() {
	if SessionsActive == nil {
		return
	}
	SessionsActive.Inc()
	SessionsOpened.Inc()
}

// RecordSessionClosed records a closed session and its duration.
func RecordSessionClosed(duration time.Duration) {
	if SessionsActive == nil {
		return
	}
	SessionsActive.Dec()
	SessionsClosed.Inc()
	SessionDuration.Observe(duration.Seconds())
}

// RecordChunk records one processed transcript chunk.
func RecordChunk() {
	if ChunksProcessed == nil {
		return
	}
	ChunksProcessed.Inc()
}

// RecordOrphanedChunk records a chunk dropped for lack of an open session.
func RecordOrphanedChunk() {
	if OrphanedChunks == nil {
		return
	}
	OrphanedChunks.Inc()
}

// RecordMalformedEvent records a dropped inbound event.
func RecordMalformedEvent(eventType string) {
	if MalformedEvents == nil {
		return
	}
	MalformedEvents.WithLabelValues(eventType).Inc()
}

// RecordKeywordHits records keyword matches for a category.
func RecordKeywordHits(category string, n int) {
	if KeywordHits == nil || n == 0 {
		return
	}
	KeywordHits.WithLabelValues(category).Add(float64(n))
}

// RecordFlagRaised records a flag raised by the policy.
func RecordFlagRaised(reason, severity string) {
	if FlagsRaised == nil {
		return
	}
	FlagsRaised.WithLabelValues(reason, severity).Inc()
}

// RecordTokenRefresh records a token refresh attempt outcome.
func RecordTokenRefresh(outcome string) {
	if TokenRefreshes == nil {
		return
	}
	TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordRetry records one retry attempt against the PBX API.
func RecordRetry() {
	if PBXRetries == nil {
		return
	}
	PBXRetries.Inc()
}

// RecordAlert records a flagged-call alert delivery attempt.
func RecordAlert(channel, status string) {
	if AlertsSent == nil {
		return
	}
	AlertsSent.WithLabelValues(channel, status).Inc()
}
