package policy

import (
	"testing"

	"github.com/loreste/callwatch/pkg/call"
)

func snapshot() call.Snapshot {
	return call.Snapshot{
		CallID:        "test-call",
		KeywordCounts: make(map[call.Category]int),
		FlagsSeen:     make(map[string]bool),
	}
}

func TestEvaluateNoThresholdsMet(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 1
	snap.KeywordCounts[call.CategoryComplaint] = 2
	snap.KeywordCounts[call.CategoryEscalation] = 1

	if _, ok := Evaluate(snap, DefaultThresholds()); ok {
		t.Fatal("Expected no decision below all thresholds")
	}
}

func TestEvaluateAbuse(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 2

	decision, ok := Evaluate(snap, DefaultThresholds())
	if !ok {
		t.Fatal("Expected a decision at the abuse threshold")
	}
	if decision.Reason != ReasonAbuse {
		t.Fatalf("Expected %q, got %q", ReasonAbuse, decision.Reason)
	}
	if decision.Severity != call.SeverityHigh {
		t.Fatalf("Expected high severity, got %s", decision.Severity)
	}
	if decision.Type != call.FlagTypeAbuse {
		t.Fatalf("Expected abuse type, got %s", decision.Type)
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	// All rules trip at once; abuse must win.
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 5
	snap.KeywordCounts[call.CategoryComplaint] = 5
	snap.KeywordCounts[call.CategoryEscalation] = 5
	snap.AverageSentiment = -0.9
	snap.SentimentSamples = 10

	decision, ok := Evaluate(snap, DefaultThresholds())
	if !ok || decision.Reason != ReasonAbuse {
		t.Fatalf("Expected abuse to take precedence, got %+v ok=%v", decision, ok)
	}
}

func TestEvaluateFallsThroughSeenReasons(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 5
	snap.KeywordCounts[call.CategoryComplaint] = 5
	snap.FlagsSeen[ReasonAbuse] = true

	decision, ok := Evaluate(snap, DefaultThresholds())
	if !ok || decision.Reason != ReasonComplaints {
		t.Fatalf("Expected complaints after abuse already raised, got %+v ok=%v", decision, ok)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 5
	snap.KeywordCounts[call.CategoryComplaint] = 5
	snap.KeywordCounts[call.CategoryEscalation] = 5
	snap.AverageSentiment = -0.9
	snap.SentimentSamples = 10
	snap.FlagsSeen[ReasonAbuse] = true
	snap.FlagsSeen[ReasonComplaints] = true
	snap.FlagsSeen[ReasonEscalation] = true
	snap.FlagsSeen[ReasonNegativeSentiment] = true

	if _, ok := Evaluate(snap, DefaultThresholds()); ok {
		t.Fatal("Expected no decision when every reason was already raised")
	}
}

func TestEvaluateEscalation(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryEscalation] = 2

	decision, ok := Evaluate(snap, DefaultThresholds())
	if !ok || decision.Reason != ReasonEscalation {
		t.Fatalf("Expected escalation decision, got %+v ok=%v", decision, ok)
	}
	if decision.Severity != call.SeverityMedium {
		t.Fatalf("Expected medium severity, got %s", decision.Severity)
	}
}

func TestEvaluateNegativeSentimentNeedsSamples(t *testing.T) {
	snap := snapshot()
	snap.AverageSentiment = -0.8
	snap.SentimentSamples = 4

	if _, ok := Evaluate(snap, DefaultThresholds()); ok {
		t.Fatal("Expected no decision below the minimum sample count")
	}

	snap.SentimentSamples = 5
	decision, ok := Evaluate(snap, DefaultThresholds())
	if !ok || decision.Reason != ReasonNegativeSentiment {
		t.Fatalf("Expected negative sentiment decision, got %+v ok=%v", decision, ok)
	}
	if decision.Severity != call.SeverityLow {
		t.Fatalf("Expected low severity, got %s", decision.Severity)
	}
}

func TestEvaluateNegativeSentimentStrictlyBelow(t *testing.T) {
	// Exactly at the threshold is not below it.
	snap := snapshot()
	snap.AverageSentiment = -0.5
	snap.SentimentSamples = 10

	if _, ok := Evaluate(snap, DefaultThresholds()); ok {
		t.Fatal("Expected no decision at exactly the sentiment threshold")
	}
}

func TestEvaluateDoesNotMutateSnapshot(t *testing.T) {
	snap := snapshot()
	snap.KeywordCounts[call.CategoryAbuse] = 2

	Evaluate(snap, DefaultThresholds())
	if snap.FlagsSeen[ReasonAbuse] {
		t.Fatal("Evaluate must not mutate the snapshot")
	}
}
