package call

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity is the ordinal urgency attached to a flag.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category identifies a keyword category tracked during analysis.
type Category string

const (
	CategoryComplaint  Category = "complaint"
	CategoryAbuse      Category = "abuse"
	CategoryEscalation Category = "escalation"
	CategoryPositive   Category = "positive"
)

// FlagType classifies why a call was flagged.
type FlagType string

const (
	FlagTypeComplaint         FlagType = "complaint"
	FlagTypeAbuse             FlagType = "abuse"
	FlagTypeEscalation        FlagType = "escalation"
	FlagTypeNegativeSentiment FlagType = "negative_sentiment"
	FlagTypeCompliance        FlagType = "compliance"
)

// Chunk is a single transcription fragment delivered for an active call.
type Chunk struct {
	Timestamp  time.Time `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Language   string    `json:"language,omitempty"`
}

// SentimentScore is one sentiment measurement in [-1, 1] with its label.
type SentimentScore struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
	Label     string    `json:"label"`
}

// KeywordHit records a matched keyword and where it was found.
type KeywordHit struct {
	Keyword   string    `json:"keyword"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker"`
}

// Flag is a review marker raised against a call by the flagging policy.
type Flag struct {
	Reason   string    `json:"reason"`
	Severity Severity  `json:"severity"`
	Type     FlagType  `json:"type"`
	Details  string    `json:"details,omitempty"`
	RaisedAt time.Time `json:"raised_at"`
}

// Info carries the identity of a call as delivered by the PBX.
type Info struct {
	CallID       string `json:"call_id"`
	Extension    string `json:"extension"`
	CallerName   string `json:"caller_name"`
	CallerNumber string `json:"caller_number"`
}

// Session is the in-memory tracked state for one ongoing call. Transcript
// chunks and sentiment scores only grow while the session is open; the
// tracker is the sole owner of a session for its open lifetime.
type Session struct {
	Info
	StartTime  time.Time
	Chunks     []Chunk
	Sentiments []SentimentScore
	Keywords   map[Category][]KeywordHit
	FlagsSeen  map[string]bool // reasons already raised, prevents duplicates
	Flags      []Flag
}

// NewSession creates a session for a newly monitored call.
func NewSession(info Info, start time.Time) *Session {
	return &Session{
		Info:       info,
		StartTime:  start,
		Chunks:     make([]Chunk, 0, 16),
		Sentiments: make([]SentimentScore, 0, 16),
		Keywords:   make(map[Category][]KeywordHit),
		FlagsSeen:  make(map[string]bool),
	}
}

// Snapshot is a read-only view of a session consumed by the flagging policy.
type Snapshot struct {
	CallID           string
	KeywordCounts    map[Category]int
	AverageSentiment float64
	SentimentSamples int
	FlagsSeen        map[string]bool
}

// Snapshot derives the policy input from the current session state. The
// returned maps are copies so the policy can never mutate the session.
func (s *Session) Snapshot() Snapshot {
	counts := make(map[Category]int, len(s.Keywords))
	for cat, hits := range s.Keywords {
		counts[cat] = len(hits)
	}

	seen := make(map[string]bool, len(s.FlagsSeen))
	for reason := range s.FlagsSeen {
		seen[reason] = true
	}

	return Snapshot{
		CallID:           s.CallID,
		KeywordCounts:    counts,
		AverageSentiment: s.AverageSentiment(),
		SentimentSamples: len(s.Sentiments),
		FlagsSeen:        seen,
	}
}

// AverageSentiment returns the mean of all recorded sentiment scores, or 0
// when none have been recorded.
func (s *Session) AverageSentiment() float64 {
	if len(s.Sentiments) == 0 {
		return 0
	}
	sum := 0.0
	for _, sc := range s.Sentiments {
		sum += sc.Score
	}
	return sum / float64(len(s.Sentiments))
}

// Transcript joins all chunks into a single speaker-attributed text.
func (s *Session) Transcript() string {
	var b strings.Builder
	for i, c := range s.Chunks {
		if i > 0 {
			b.WriteByte('\n')
		}
		if c.Speaker != "" {
			fmt.Fprintf(&b, "%s: %s", c.Speaker, c.Text)
		} else {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// KeywordList returns the distinct matched keywords for a category, in
// first-hit order.
func (s *Session) KeywordList(cat Category) []string {
	hits := s.Keywords[cat]
	seen := make(map[string]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if !seen[h.Keyword] {
			seen[h.Keyword] = true
			out = append(out, h.Keyword)
		}
	}
	return out
}

// AllKeywords returns every distinct matched keyword across the tracked
// categories, sorted for stable output.
func (s *Session) AllKeywords() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, hits := range s.Keywords {
		for _, h := range hits {
			if !seen[h.Keyword] {
				seen[h.Keyword] = true
				out = append(out, h.Keyword)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Report is the immutable record produced when a session closes. Ownership
// transfers to the reporting subsystem; the session itself is discarded.
type Report struct {
	Info
	StartTime     time.Time        `json:"start_time"`
	EndTime       time.Time        `json:"end_time"`
	Duration      time.Duration    `json:"duration"`
	Transcript    string           `json:"transcript"`
	Sentiment     SentimentScore   `json:"sentiment"`
	KeywordCounts map[Category]int `json:"keyword_counts"`
	Flags         []Flag           `json:"flags"`
	ChunkCount    int              `json:"chunk_count"`
}

// FlaggedCall is the terminal record created when the flagging policy trips.
// It is append-only except for the single reviewed transition.
type FlaggedCall struct {
	ID             string     `json:"id"`
	CallID         string     `json:"call_id"`
	Extension      string     `json:"extension"`
	CallerName     string     `json:"caller_name"`
	CallerNumber   string     `json:"caller_number"`
	Reason         string     `json:"reason"`
	Severity       Severity   `json:"severity"`
	Type           FlagType   `json:"type"`
	Keywords       []string   `json:"keywords"`
	Transcription  string     `json:"transcription"`
	SentimentLabel string     `json:"sentiment_label"`
	SentimentScore float64    `json:"sentiment_score"`
	FlaggedAt      time.Time  `json:"flagged_at"`
	Reviewed       bool       `json:"reviewed"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	ReviewNotes    string     `json:"review_notes,omitempty"`
}
