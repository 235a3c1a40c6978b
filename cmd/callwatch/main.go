package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/analysis"
	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/config"
	"github.com/loreste/callwatch/pkg/ingest"
	"github.com/loreste/callwatch/pkg/metrics"
	"github.com/loreste/callwatch/pkg/notify"
	"github.com/loreste/callwatch/pkg/pbx"
	"github.com/loreste/callwatch/pkg/policy"
	"github.com/loreste/callwatch/pkg/rollup"
	"github.com/loreste/callwatch/pkg/storage"
	"github.com/loreste/callwatch/pkg/tracker"
	"github.com/loreste/callwatch/pkg/wallboard"
)

var logger = logrus.New()

func main() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	applyLogSettings(cfg)

	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Storage and aggregation
	store := storage.NewMemoryStore(logger)
	roll := rollup.New(logger, rollup.Config{
		Window:          cfg.RollupWindow,
		HistoryCapacity: cfg.SentimentHistoryCapacity,
	})

	// Live wallboard hub
	hub := wallboard.NewHub(logger)
	go hub.Run(rootCtx)

	// Notification channels
	var channels []notify.Channel
	if cfg.WebhookEnabled {
		channels = append(channels, notify.NewWebhookChannel(logger, notify.WebhookConfig{
			URL:     cfg.WebhookURL,
			Enabled: true,
		}, nil))
	}
	if cfg.AMQPEnabled {
		amqpChannel := notify.NewAMQPChannel(logger, notify.AMQPConfig{
			URL:       cfg.AMQPURL,
			QueueName: cfg.AMQPQueueName,
			Enabled:   true,
		})
		if err := amqpChannel.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP channel unavailable, continuing without it")
		} else {
			defer amqpChannel.Disconnect()
			channels = append(channels, amqpChannel)
		}
	}
	notifier := notify.New(logger, notify.Config{DigestInterval: cfg.DigestInterval}, channels...)
	go notifier.Run(rootCtx)

	// Analysis pipeline
	classifier := analysis.NewKeywordClassifier(logger)
	tr := tracker.New(logger, tracker.Config{
		AnalysisInterval: cfg.AnalysisInterval,
		Thresholds: policy.Thresholds{
			AbuseHits:           cfg.AbuseThreshold,
			ComplaintHits:       cfg.ComplaintThreshold,
			EscalationHits:      cfg.EscalationThreshold,
			NegativeSentiment:   cfg.NegativeSentimentThreshold,
			MinSentimentSamples: cfg.MinSentimentSamples,
		},
	}, classifier, roll, hub)

	tr.AddFlagSink(tracker.FlagSinkFunc(func(fc *call.FlaggedCall) {
		if _, err := store.InsertFlaggedCall(fc); err != nil {
			logger.WithError(err).WithField("call_id", fc.CallID).Error("Failed to persist flagged call")
		}
		notifier.SendFlaggedCallAlert(fc)
	}))
	tr.AddReportSink(tracker.ReportSinkFunc(func(r *call.Report) {
		if err := store.InsertReport(r); err != nil {
			logger.WithError(err).WithField("call_id", r.CallID).Error("Failed to persist call report")
		}
	}))

	// PBX connectivity
	tokens := pbx.NewTokenSource(logger, pbx.TokenConfig{
		TokenURL:      cfg.PBXTokenURL,
		ClientID:      cfg.PBXClientID,
		ClientSecret:  cfg.PBXClientSecret,
		RefreshBuffer: cfg.TokenRefreshBuffer,
	}, nil)

	client := pbx.NewClient(logger, pbx.ClientConfig{
		BaseURL:        cfg.PBXBaseURL,
		MaxRetries:     cfg.MaxRetryAttempts,
		RetryBase:      cfg.RetryBaseDelay,
		RequestTimeout: cfg.RequestTimeout,
	}, tokens, nil)

	router := ingest.NewRouter(logger, tr)
	feed := pbx.NewFeed(logger, pbx.FeedConfig{URL: cfg.PBXEventsURL}, tokens, router.HandleMessage)
	go feed.Run(rootCtx)

	// Pick up calls that started before we connected.
	go reconcileActiveCalls(rootCtx, client, tr)

	// Supervisor API
	server := wallboard.NewServer(logger, wallboard.ServerConfig{
		ListenAddr: cfg.HTTPListenAddr,
	}, hub, store, roll, tr)
	server.Start()

	logger.Info("Call monitoring pipeline started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	rootCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	// Close every open session so final reports are produced.
	tr.Shutdown()
	notifier.Flush()

	if err := store.Close(); err != nil {
		logger.WithError(err).Error("Error closing store")
	}

	logger.Info("Shutdown complete")
}

// reconcileActiveCalls opens sessions for calls already in progress on the
// PBX when the watcher starts. Transcript before this point is lost; that
// is acceptable for a monitoring tool.
func reconcileActiveCalls(ctx context.Context, client *pbx.Client, tr *tracker.Tracker) {
	active, err := client.ActiveCalls(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to list active calls for reconciliation")
		return
	}

	for _, ac := range active {
		err := tr.Open(call.Info{
			CallID:       ac.CallID,
			Extension:    ac.Extension,
			CallerName:   ac.CallerName,
			CallerNumber: ac.CallerNumber,
		})
		if err != nil {
			logger.WithError(err).WithField("call_id", ac.CallID).Debug("Skipping active call")
		}
	}

	if len(active) > 0 {
		logger.WithField("count", len(active)).Info("Reconciled in-progress calls")
	}
}

func applyLogSettings(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
