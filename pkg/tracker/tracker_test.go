package tracker

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/analysis"
	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/policy"
	"github.com/loreste/callwatch/pkg/rollup"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// quietConfig keeps the periodic timer out of the way so tests drive
// evaluation explicitly.
func quietConfig() Config {
	return Config{
		AnalysisInterval: time.Hour,
		Thresholds:       policy.DefaultThresholds(),
	}
}

// fixedScorer returns the same classification for every span.
type fixedScorer struct {
	result analysis.Classification
}

func (s fixedScorer) Classify(text string) analysis.Classification {
	return s.result
}

func newTestTracker(t *testing.T, scorer analysis.Scorer) *Tracker {
	t.Helper()
	if scorer == nil {
		scorer = analysis.NewKeywordClassifier(testLogger())
	}
	return New(testLogger(), quietConfig(), scorer, nil, nil)
}

func TestOpenDuplicate(t *testing.T) {
	tr := newTestTracker(t, nil)
	info := call.Info{CallID: "call-1", Extension: "101"}

	if err := tr.Open(info); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	err := tr.Open(info)
	if !errors.IsErrorType(err, errors.ErrSessionAlreadyExists) {
		t.Fatalf("Expected ErrSessionAlreadyExists, got %v", err)
	}
	if tr.ActiveSessions() != 1 {
		t.Fatalf("Expected 1 active session, got %d", tr.ActiveSessions())
	}
	tr.Shutdown()
}

func TestOpenMissingCallID(t *testing.T) {
	tr := newTestTracker(t, nil)
	err := tr.Open(call.Info{})
	if !errors.IsErrorType(err, errors.ErrMalformedEvent) {
		t.Fatalf("Expected ErrMalformedEvent, got %v", err)
	}
}

func TestOrphanedChunkDropped(t *testing.T) {
	tr := newTestTracker(t, nil)

	// Must not panic or create a session.
	tr.AppendTranscript("no-such-call", call.Chunk{Text: "hello"})
	if tr.ActiveSessions() != 0 {
		t.Fatalf("Orphaned chunk must not create a session, got %d", tr.ActiveSessions())
	}
}

func TestAbusiveCallFlaggedOnClose(t *testing.T) {
	tr := newTestTracker(t, nil)

	var flagged []*call.FlaggedCall
	tr.AddFlagSink(FlagSinkFunc(func(fc *call.FlaggedCall) {
		flagged = append(flagged, fc)
	}))

	info := call.Info{CallID: "call-abuse", Extension: "101", CallerNumber: "0400000000"}
	if err := tr.Open(info); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	tr.AppendTranscript("call-abuse", call.Chunk{Speaker: "caller", Text: "You are an idiot"})
	tr.AppendTranscript("call-abuse", call.Chunk{Speaker: "caller", Text: "I hate you and this company"})

	report, err := tr.Close("call-abuse")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(report.Flags) != 1 {
		t.Fatalf("Expected exactly 1 flag, got %d", len(report.Flags))
	}
	if report.Flags[0].Reason != policy.ReasonAbuse {
		t.Fatalf("Expected %q, got %q", policy.ReasonAbuse, report.Flags[0].Reason)
	}
	if report.Flags[0].Severity != call.SeverityHigh {
		t.Fatalf("Expected high severity, got %s", report.Flags[0].Severity)
	}
	if report.ChunkCount != 2 {
		t.Fatalf("Expected 2 chunks in report, got %d", report.ChunkCount)
	}
	if report.Sentiment.Label != "negative" {
		t.Fatalf("Expected negative call sentiment, got %s", report.Sentiment.Label)
	}

	if len(flagged) != 1 {
		t.Fatalf("Expected 1 flagged call delivered, got %d", len(flagged))
	}
	fc := flagged[0]
	if fc.CallID != "call-abuse" || fc.Type != call.FlagTypeAbuse {
		t.Fatalf("Unexpected flagged call %+v", fc)
	}
	if len(fc.Keywords) == 0 {
		t.Fatal("Expected matched keywords on the flagged call")
	}
	if fc.Transcription == "" {
		t.Fatal("Expected transcript on the flagged call")
	}
}

func TestEvaluateRaisesFlagOnce(t *testing.T) {
	// Every span scores hard negative with no keyword hits.
	scorer := fixedScorer{result: analysis.Classification{
		Matches: map[call.Category][]string{},
		Score:   -0.8,
		Label:   "negative",
	}}
	tr := newTestTracker(t, scorer)

	count := 0
	tr.AddFlagSink(FlagSinkFunc(func(fc *call.FlaggedCall) {
		if fc.Reason != policy.ReasonNegativeSentiment {
			t.Errorf("Unexpected reason %q", fc.Reason)
		}
		count++
	}))

	if err := tr.Open(call.Info{CallID: "call-neg"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		tr.AppendTranscript("call-neg", call.Chunk{Text: "..."})
	}
	tr.Evaluate("call-neg")
	if count != 0 {
		t.Fatalf("Expected no flag below the sample minimum, got %d", count)
	}

	tr.AppendTranscript("call-neg", call.Chunk{Text: "..."})
	tr.Evaluate("call-neg")
	tr.Evaluate("call-neg")

	if count != 1 {
		t.Fatalf("Expected exactly 1 flag across repeated evaluations, got %d", count)
	}

	// Close must not raise the same reason again.
	report, err := tr.Close("call-neg")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Close re-raised an already raised flag, count=%d", count)
	}
	if len(report.Flags) != 1 {
		t.Fatalf("Expected 1 flag in report, got %d", len(report.Flags))
	}
}

func TestCloseUnknownSession(t *testing.T) {
	tr := newTestTracker(t, nil)
	if _, err := tr.Close("missing"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	tr := newTestTracker(t, nil)
	if err := tr.Open(call.Info{CallID: "call-2"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := tr.Close("call-2"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := tr.Close("call-2"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound on second close, got %v", err)
	}

	// Chunks after close are orphaned, not resurrected.
	tr.AppendTranscript("call-2", call.Chunk{Text: "too late"})
	if tr.ActiveSessions() != 0 {
		t.Fatalf("Expected 0 active sessions, got %d", tr.ActiveSessions())
	}
}

func TestCloseFeedsRollup(t *testing.T) {
	scorer := fixedScorer{result: analysis.Classification{
		Matches: map[call.Category][]string{},
		Score:   -0.9,
		Label:   "negative",
	}}
	roll := rollup.New(testLogger(), rollup.DefaultConfig())
	tr := New(testLogger(), quietConfig(), scorer, roll, nil)

	if err := tr.Open(call.Info{CallID: "call-3"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tr.AppendTranscript("call-3", call.Chunk{Text: "..."})
	if _, err := tr.Close("call-3"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	snap := roll.Current()
	if snap.Samples != 1 || snap.Negative != 100 {
		t.Fatalf("Expected rollup 100%% negative over 1 sample, got %+v", snap)
	}
}

func TestReportSinkReceivesReport(t *testing.T) {
	tr := newTestTracker(t, nil)

	var reports []*call.Report
	tr.AddReportSink(ReportSinkFunc(func(r *call.Report) {
		reports = append(reports, r)
	}))

	if err := tr.Open(call.Info{CallID: "call-4"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tr.AppendTranscript("call-4", call.Chunk{Speaker: "agent", Text: "thank you for calling"})
	if _, err := tr.Close("call-4"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	if reports[0].CallID != "call-4" {
		t.Fatalf("Unexpected report %+v", reports[0])
	}
	if reports[0].Transcript != "agent: thank you for calling" {
		t.Fatalf("Unexpected transcript %q", reports[0].Transcript)
	}
}

func TestShutdownClosesAllSessions(t *testing.T) {
	tr := newTestTracker(t, nil)

	for _, id := range []string{"a", "b", "c"} {
		if err := tr.Open(call.Info{CallID: id}); err != nil {
			t.Fatalf("Open %s failed: %v", id, err)
		}
	}
	tr.Shutdown()

	if tr.ActiveSessions() != 0 {
		t.Fatalf("Expected 0 active sessions after shutdown, got %d", tr.ActiveSessions())
	}
}

func TestPeriodicEvaluation(t *testing.T) {
	scorer := fixedScorer{result: analysis.Classification{
		Matches: map[call.Category][]string{
			call.CategoryAbuse: {"idiot"},
		},
		Score: -1,
		Label: "negative",
	}}
	tr := New(testLogger(), Config{
		AnalysisInterval: 10 * time.Millisecond,
		Thresholds:       policy.DefaultThresholds(),
	}, scorer, nil, nil)

	flagged := make(chan *call.FlaggedCall, 1)
	tr.AddFlagSink(FlagSinkFunc(func(fc *call.FlaggedCall) {
		select {
		case flagged <- fc:
		default:
		}
	}))

	if err := tr.Open(call.Info{CallID: "call-timer"}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tr.AppendTranscript("call-timer", call.Chunk{Text: "idiot"})
	tr.AppendTranscript("call-timer", call.Chunk{Text: "idiot"})

	select {
	case fc := <-flagged:
		if fc.Reason != policy.ReasonAbuse {
			t.Fatalf("Expected abuse flag from timer, got %q", fc.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the periodic evaluation to flag")
	}

	tr.Shutdown()
}
