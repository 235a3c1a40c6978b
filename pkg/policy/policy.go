package policy

import (
	"fmt"

	"github.com/loreste/callwatch/pkg/call"
)

// Flag reasons, in rule precedence order. A reason already present on the
// session is never re-emitted.
const (
	ReasonAbuse             = "Abusive Language Detected"
	ReasonComplaints        = "Multiple Complaints Detected"
	ReasonEscalation        = "Escalation Request"
	ReasonNegativeSentiment = "Consistently Negative Sentiment"
)

// Thresholds hold the tunable rule parameters.
type Thresholds struct {
	AbuseHits           int
	ComplaintHits       int
	EscalationHits      int
	NegativeSentiment   float64
	MinSentimentSamples int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AbuseHits:           2,
		ComplaintHits:       3,
		EscalationHits:      2,
		NegativeSentiment:   -0.5,
		MinSentimentSamples: 5,
	}
}

// Decision describes a flag the policy wants raised.
type Decision struct {
	Reason   string
	Severity call.Severity
	Type     call.FlagType
	Details  string
}

// Evaluate applies the flagging rules to a session snapshot. Rules are
// checked in strict precedence order and the first applicable rule whose
// reason has not already been raised wins; at most one decision is returned
// per evaluation. The function is pure: it never mutates the snapshot.
func Evaluate(snap call.Snapshot, t Thresholds) (Decision, bool) {
	abuse := snap.KeywordCounts[call.CategoryAbuse]
	complaints := snap.KeywordCounts[call.CategoryComplaint]
	escalations := snap.KeywordCounts[call.CategoryEscalation]

	if abuse >= t.AbuseHits && !snap.FlagsSeen[ReasonAbuse] {
		return Decision{
			Reason:   ReasonAbuse,
			Severity: call.SeverityHigh,
			Type:     call.FlagTypeAbuse,
			Details:  fmt.Sprintf("%d abusive keyword hits", abuse),
		}, true
	}

	if complaints >= t.ComplaintHits && !snap.FlagsSeen[ReasonComplaints] {
		return Decision{
			Reason:   ReasonComplaints,
			Severity: call.SeverityMedium,
			Type:     call.FlagTypeComplaint,
			Details:  fmt.Sprintf("%d complaint keyword hits", complaints),
		}, true
	}

	if escalations >= t.EscalationHits && !snap.FlagsSeen[ReasonEscalation] {
		return Decision{
			Reason:   ReasonEscalation,
			Severity: call.SeverityMedium,
			Type:     call.FlagTypeEscalation,
			Details:  fmt.Sprintf("%d escalation keyword hits", escalations),
		}, true
	}

	if snap.SentimentSamples >= t.MinSentimentSamples &&
		snap.AverageSentiment < t.NegativeSentiment &&
		!snap.FlagsSeen[ReasonNegativeSentiment] {
		return Decision{
			Reason:   ReasonNegativeSentiment,
			Severity: call.SeverityLow,
			Type:     call.FlagTypeNegativeSentiment,
			Details: fmt.Sprintf("average sentiment %.2f over %d samples",
				snap.AverageSentiment, snap.SentimentSamples),
		}, true
	}

	return Decision{}, false
}
