package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/metrics"
)

// Channel delivers flagged-call notifications to one destination.
type Channel interface {
	// Send delivers a single flagged call immediately.
	Send(fc *call.FlaggedCall) error

	// SendDigest delivers a batch of low-severity flagged calls.
	SendDigest(fcs []*call.FlaggedCall) error

	GetName() string
	IsEnabled() bool
}

// Config holds notifier tuning.
type Config struct {
	// DigestInterval is how often batched low-severity flags are flushed.
	DigestInterval time.Duration
}

// Notifier routes flagged calls to the configured channels. High and medium
// severity flags are delivered immediately; low severity flags are batched
// and flushed as a periodic digest so supervisors are not paged for them.
type Notifier struct {
	logger   *logrus.Entry
	config   Config
	channels []Channel

	mu      sync.Mutex
	pending []*call.FlaggedCall
}

// New creates a notifier over the given channels.
func New(logger *logrus.Logger, config Config, channels ...Channel) *Notifier {
	if config.DigestInterval <= 0 {
		config.DigestInterval = 15 * time.Minute
	}
	return &Notifier{
		logger:   logger.WithField("component", "notifier"),
		config:   config,
		channels: channels,
	}
}

// SendFlaggedCallAlert routes one flagged call. It returns true when the
// alert was delivered to (or queued for) at least one enabled channel.
// Delivery failures are logged, never propagated; alerting is best effort.
func (n *Notifier) SendFlaggedCallAlert(fc *call.FlaggedCall) bool {
	switch fc.Severity {
	case call.SeverityHigh, call.SeverityCritical, call.SeverityMedium:
		return n.sendNow(fc)
	default:
		n.mu.Lock()
		n.pending = append(n.pending, fc)
		queued := n.enabledChannels() > 0
		n.mu.Unlock()
		return queued
	}
}

func (n *Notifier) sendNow(fc *call.FlaggedCall) bool {
	delivered := false
	for _, ch := range n.channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(fc); err != nil {
			metrics.RecordAlert(ch.GetName(), "failure")
			n.logger.WithError(err).WithFields(logrus.Fields{
				"channel": ch.GetName(),
				"call_id": fc.CallID,
			}).Error("Failed to send flagged call alert")
			continue
		}
		metrics.RecordAlert(ch.GetName(), "success")
		delivered = true
	}
	return delivered
}

// Run flushes the low-severity digest on a fixed interval until ctx is
// cancelled, then performs one final flush.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.config.DigestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.Flush()
		case <-ctx.Done():
			n.Flush()
			return
		}
	}
}

// Flush delivers any batched low-severity flags as a digest.
func (n *Notifier) Flush() {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, ch := range n.channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.SendDigest(batch); err != nil {
			metrics.RecordAlert(ch.GetName(), "failure")
			n.logger.WithError(err).WithFields(logrus.Fields{
				"channel": ch.GetName(),
				"count":   len(batch),
			}).Error("Failed to send digest")
			continue
		}
		metrics.RecordAlert(ch.GetName(), "success")
	}
}

// PendingDigestSize reports the number of queued low-severity flags.
func (n *Notifier) PendingDigestSize() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *Notifier) enabledChannels() int {
	count := 0
	for _, ch := range n.channels {
		if ch.IsEnabled() {
			count++
		}
	}
	return count
}
