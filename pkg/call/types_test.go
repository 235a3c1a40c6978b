package call

import (
	"testing"
	"time"
)

func TestAverageSentiment(t *testing.T) {
	s := NewSession(Info{CallID: "c1"}, time.Now())
	if got := s.AverageSentiment(); got != 0 {
		t.Fatalf("Expected 0 with no samples, got %f", got)
	}

	s.Sentiments = append(s.Sentiments,
		SentimentScore{Score: -1},
		SentimentScore{Score: 0},
		SentimentScore{Score: 0.5},
	)
	want := (-1 + 0 + 0.5) / 3.0
	if got := s.AverageSentiment(); got != want {
		t.Fatalf("Expected %f, got %f", want, got)
	}
}

func TestTranscriptAttribution(t *testing.T) {
	s := NewSession(Info{CallID: "c1"}, time.Now())
	s.Chunks = append(s.Chunks,
		Chunk{Speaker: "caller", Text: "hello"},
		Chunk{Text: "unattributed line"},
		Chunk{Speaker: "agent", Text: "how can I help"},
	)

	want := "caller: hello\nunattributed line\nagent: how can I help"
	if got := s.Transcript(); got != want {
		t.Fatalf("Transcript() = %q, expected %q", got, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewSession(Info{CallID: "c1"}, time.Now())
	s.Keywords[CategoryAbuse] = []KeywordHit{{Keyword: "idiot"}}
	s.FlagsSeen["some reason"] = true

	snap := s.Snapshot()
	snap.KeywordCounts[CategoryAbuse] = 99
	snap.FlagsSeen["another reason"] = true

	if len(s.Keywords[CategoryAbuse]) != 1 {
		t.Fatal("Snapshot mutation leaked into the session keywords")
	}
	if s.FlagsSeen["another reason"] {
		t.Fatal("Snapshot mutation leaked into the session flags")
	}
	if snap.KeywordCounts[CategoryAbuse] != 99 {
		t.Fatal("Snapshot copy should be independently mutable")
	}
}

func TestKeywordListDistinctFirstHitOrder(t *testing.T) {
	s := NewSession(Info{CallID: "c1"}, time.Now())
	s.Keywords[CategoryComplaint] = []KeywordHit{
		{Keyword: "broken"},
		{Keyword: "refund"},
		{Keyword: "broken"},
	}

	got := s.KeywordList(CategoryComplaint)
	if len(got) != 2 || got[0] != "broken" || got[1] != "refund" {
		t.Fatalf("Unexpected keyword list %v", got)
	}
}

func TestAllKeywordsSorted(t *testing.T) {
	s := NewSession(Info{CallID: "c1"}, time.Now())
	s.Keywords[CategoryComplaint] = []KeywordHit{{Keyword: "refund"}}
	s.Keywords[CategoryAbuse] = []KeywordHit{{Keyword: "idiot"}}
	s.Keywords[CategoryEscalation] = []KeywordHit{{Keyword: "manager"}}

	got := s.AllKeywords()
	want := []string{"idiot", "manager", "refund"}
	if len(got) != len(want) {
		t.Fatalf("Unexpected keywords %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected sorted %v, got %v", want, got)
		}
	}
}
