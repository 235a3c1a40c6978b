package tracker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/analysis"
	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/metrics"
	"github.com/loreste/callwatch/pkg/policy"
	"github.com/loreste/callwatch/pkg/rollup"
)

// Publisher pushes live events to whatever channel the UI layer uses.
type Publisher interface {
	Publish(event string, payload interface{})
}

// FlagSink receives flagged-call records as the policy raises them.
// Sinks are notified synchronously in registration order; a failing sink
// must log and move on, it cannot veto the flag.
type FlagSink interface {
	OnFlaggedCall(fc *call.FlaggedCall)
}

// FlagSinkFunc adapts a function to the FlagSink interface.
type FlagSinkFunc func(fc *call.FlaggedCall)

func (f FlagSinkFunc) OnFlaggedCall(fc *call.FlaggedCall) { f(fc) }

// ReportSink receives the final report produced when a session closes.
type ReportSink interface {
	OnCallReport(r *call.Report)
}

// ReportSinkFunc adapts a function to the ReportSink interface.
type ReportSinkFunc func(r *call.Report)

func (f ReportSinkFunc) OnCallReport(r *call.Report) { f(r) }

// Config holds tracker tuning.
type Config struct {
	// AnalysisInterval is how often each open session is re-evaluated
	// against the flagging policy.
	AnalysisInterval time.Duration

	// Thresholds parameterize the flagging rules.
	Thresholds policy.Thresholds
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		AnalysisInterval: 10 * time.Second,
		Thresholds:       policy.DefaultThresholds(),
	}
}

// Tracker owns all open call sessions, their periodic evaluation timers,
// and the dispatch of flags and reports to downstream consumers. Sessions
// are exclusively owned by the tracker while open; once closed, the derived
// report and flagged-call records belong to the consumers.
type Tracker struct {
	logger      *logrus.Entry
	config      Config
	scorer      analysis.Scorer
	roll        *rollup.Rollup
	publisher   Publisher
	flagSinks   []FlagSink
	reportSinks []ReportSink

	mu       sync.Mutex
	sessions map[string]*call.Session
	watchers map[string]chan struct{}
}

// New creates a tracker. The rollup and publisher may be nil, in which case
// aggregate updates and live events are simply skipped.
func New(logger *logrus.Logger, config Config, scorer analysis.Scorer, roll *rollup.Rollup, publisher Publisher) *Tracker {
	if config.AnalysisInterval <= 0 {
		config.AnalysisInterval = 10 * time.Second
	}
	return &Tracker{
		logger:    logger.WithField("component", "session_tracker"),
		config:    config,
		scorer:    scorer,
		roll:      roll,
		publisher: publisher,
		sessions:  make(map[string]*call.Session),
		watchers:  make(map[string]chan struct{}),
	}
}

// AddFlagSink registers a flagged-call consumer. Delivery order follows
// registration order.
func (t *Tracker) AddFlagSink(sink FlagSink) {
	t.flagSinks = append(t.flagSinks, sink)
}

// AddReportSink registers a call-report consumer.
func (t *Tracker) AddReportSink(sink ReportSink) {
	t.reportSinks = append(t.reportSinks, sink)
}

// Open starts tracking a call and schedules its periodic evaluation timer.
func (t *Tracker) Open(info call.Info) error {
	if info.CallID == "" {
		return errors.NewMalformedEvent("call event missing call_id")
	}

	t.mu.Lock()
	if _, exists := t.sessions[info.CallID]; exists {
		t.mu.Unlock()
		return errors.NewSessionAlreadyExists(info.CallID)
	}

	sess := call.NewSession(info, time.Now())
	done := make(chan struct{})
	t.sessions[info.CallID] = sess
	t.watchers[info.CallID] = done
	t.mu.Unlock()

	go t.watch(info.CallID, done)

	metrics.RecordSessionOpened()
	t.logger.WithFields(logrus.Fields{
		"call_id":   info.CallID,
		"extension": info.Extension,
	}).Info("Call session opened")

	t.publish("call_started", info)
	return nil
}

// watch runs the per-call periodic policy evaluation until the session
// closes. The done channel is closed by Close, which guarantees the timer
// never outlives its session.
func (t *Tracker) watch(callID string, done chan struct{}) {
	ticker := time.NewTicker(t.config.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Evaluate(callID)
		case <-done:
			return
		}
	}
}

// AppendTranscript records a transcript chunk for an open session. Chunks
// arriving for an unknown or already-closed call are logged and dropped;
// delivery is expected to race with call teardown.
func (t *Tracker) AppendTranscript(callID string, chunk call.Chunk) {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = time.Now()
	}

	result := t.scorer.Classify(chunk.Text)

	t.mu.Lock()
	sess, ok := t.sessions[callID]
	if !ok {
		t.mu.Unlock()
		metrics.RecordOrphanedChunk()
		t.logger.WithField("call_id", callID).Debug("Dropping transcript chunk for unknown session")
		return
	}

	sess.Chunks = append(sess.Chunks, chunk)
	sess.Sentiments = append(sess.Sentiments, call.SentimentScore{
		Timestamp: chunk.Timestamp,
		Score:     result.Score,
		Label:     result.Label,
	})

	for cat, words := range result.Matches {
		if cat == call.CategoryPositive {
			continue // positive matches shape the score but are not hits
		}
		for _, w := range words {
			sess.Keywords[cat] = append(sess.Keywords[cat], call.KeywordHit{
				Keyword:   w,
				Timestamp: chunk.Timestamp,
				Text:      chunk.Text,
				Speaker:   chunk.Speaker,
			})
		}
		metrics.RecordKeywordHits(string(cat), len(words))
	}
	t.mu.Unlock()

	metrics.RecordChunk()
}

// Evaluate runs the flagging policy against an open session. At most one
// new flag is raised per evaluation, and a reason already raised on the
// session is never raised again.
func (t *Tracker) Evaluate(callID string) {
	t.mu.Lock()
	sess, ok := t.sessions[callID]
	if !ok {
		t.mu.Unlock()
		return
	}
	fc := t.evaluateLocked(sess)
	t.mu.Unlock()

	if fc != nil {
		t.dispatchFlag(fc)
	}
}

// evaluateLocked applies the policy and, on a hit, mutates the session and
// builds the flagged-call record. Caller holds t.mu (or exclusive ownership
// of the session during close).
func (t *Tracker) evaluateLocked(sess *call.Session) *call.FlaggedCall {
	decision, ok := policy.Evaluate(sess.Snapshot(), t.config.Thresholds)
	if !ok {
		return nil
	}

	now := time.Now()
	sess.FlagsSeen[decision.Reason] = true
	sess.Flags = append(sess.Flags, call.Flag{
		Reason:   decision.Reason,
		Severity: decision.Severity,
		Type:     decision.Type,
		Details:  decision.Details,
		RaisedAt: now,
	})

	avg := sess.AverageSentiment()

	var keywords []string
	switch decision.Type {
	case call.FlagTypeAbuse:
		keywords = sess.KeywordList(call.CategoryAbuse)
	case call.FlagTypeComplaint:
		keywords = sess.KeywordList(call.CategoryComplaint)
	case call.FlagTypeEscalation:
		keywords = sess.KeywordList(call.CategoryEscalation)
	default:
		keywords = sess.AllKeywords()
	}

	return &call.FlaggedCall{
		CallID:         sess.CallID,
		Extension:      sess.Extension,
		CallerName:     sess.CallerName,
		CallerNumber:   sess.CallerNumber,
		Reason:         decision.Reason,
		Severity:       decision.Severity,
		Type:           decision.Type,
		Keywords:       keywords,
		Transcription:  sess.Transcript(),
		SentimentLabel: analysis.LabelForScore(avg),
		SentimentScore: avg,
		FlaggedAt:      now,
	}
}

// dispatchFlag hands a flagged call to every registered sink, then to the
// live publisher. Sink failures are the sink's problem; flagging is not
// transactional with persistence or delivery.
func (t *Tracker) dispatchFlag(fc *call.FlaggedCall) {
	metrics.RecordFlagRaised(fc.Reason, string(fc.Severity))
	t.logger.WithFields(logrus.Fields{
		"call_id":  fc.CallID,
		"reason":   fc.Reason,
		"severity": fc.Severity,
	}).Warn("Call flagged for review")

	for _, sink := range t.flagSinks {
		sink.OnFlaggedCall(fc)
	}
	t.publish("call_flagged", fc)
}

// Close stops tracking a call: it cancels the periodic timer, runs one
// final policy evaluation, folds the result into the aggregate rollup, and
// returns the immutable report. The session is discarded.
func (t *Tracker) Close(callID string) (*call.Report, error) {
	t.mu.Lock()
	sess, ok := t.sessions[callID]
	if !ok {
		t.mu.Unlock()
		return nil, errors.NewSessionNotFound(callID)
	}
	done := t.watchers[callID]
	delete(t.sessions, callID)
	delete(t.watchers, callID)
	t.mu.Unlock()

	// The timer must not outlive the session.
	if done != nil {
		close(done)
	}

	// The session is no longer reachable from the maps, so this goroutine
	// owns it exclusively now.
	fc := t.evaluateLocked(sess)

	end := time.Now()
	avg := sess.AverageSentiment()
	label := analysis.LabelForScore(avg)

	counts := make(map[call.Category]int, len(sess.Keywords))
	for cat, hits := range sess.Keywords {
		counts[cat] = len(hits)
	}

	report := &call.Report{
		Info:       sess.Info,
		StartTime:  sess.StartTime,
		EndTime:    end,
		Duration:   end.Sub(sess.StartTime),
		Transcript: sess.Transcript(),
		Sentiment: call.SentimentScore{
			Timestamp: end,
			Score:     avg,
			Label:     label,
		},
		KeywordCounts: counts,
		Flags:         append([]call.Flag(nil), sess.Flags...),
		ChunkCount:    len(sess.Chunks),
	}

	metrics.RecordSessionClosed(report.Duration)
	t.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"duration": report.Duration,
		"flags":    len(report.Flags),
	}).Info("Call session closed")

	if fc != nil {
		t.dispatchFlag(fc)
	}

	if t.roll != nil {
		snap := t.roll.RecordClose(label, end)
		t.publish("sentiment_update", snap)
	}

	for _, sink := range t.reportSinks {
		sink.OnCallReport(report)
	}
	t.publish("call_ended", report)

	return report, nil
}

// ActiveSessions returns the number of currently open sessions.
func (t *Tracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Shutdown closes every open session, producing final reports for each.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		if _, err := t.Close(id); err != nil {
			t.logger.WithError(err).WithField("call_id", id).Warn("Failed to close session during shutdown")
		}
	}
}

func (t *Tracker) publish(event string, payload interface{}) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(event, payload)
}
