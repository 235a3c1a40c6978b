package analysis

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
)

// Classification is the result of analyzing a single transcript span.
type Classification struct {
	// Matches holds every matched keyword per category. Multiple matches in
	// one span are all reported; matching never short-circuits.
	Matches map[call.Category][]string

	// Score is the span sentiment in [-1, 1].
	Score float64

	// Label is positive, negative, or neutral.
	Label string
}

// Scorer maps a transcript span to keyword matches and a sentiment score.
// The default implementation is a deliberate lexicon heuristic, not an NLP
// model; callers inject it so it can be swapped for a real model later.
type Scorer interface {
	Classify(text string) Classification
}

// Label thresholds for the span score.
const (
	positiveLabelThreshold = 0.3
	negativeLabelThreshold = -0.3
)

// KeywordClassifier matches lowercased text spans against curated word lists
// using fixed-string substring containment.
type KeywordClassifier struct {
	logger *logrus.Entry
	lists  map[call.Category][]string
}

// NewKeywordClassifier creates a classifier with the built-in word lists.
func NewKeywordClassifier(logger *logrus.Logger) *KeywordClassifier {
	return &KeywordClassifier{
		logger: logger.WithField("component", "keyword_classifier"),
		lists:  defaultKeywordLists(),
	}
}

// NewKeywordClassifierWithLists creates a classifier with caller-supplied
// word lists, replacing the defaults entirely.
func NewKeywordClassifierWithLists(logger *logrus.Logger, lists map[call.Category][]string) *KeywordClassifier {
	return &KeywordClassifier{
		logger: logger.WithField("component", "keyword_classifier"),
		lists:  lists,
	}
}

// Classify reports all keyword matches per category and the span sentiment.
// The score is (positiveHits - negativeHits) / (positiveHits + negativeHits),
// where negative hits are the union of complaint and abuse matches; a span
// with no hits in either polarity scores 0 and labels neutral.
func (c *KeywordClassifier) Classify(text string) Classification {
	lowered := strings.ToLower(text)

	matches := make(map[call.Category][]string)
	for cat, words := range c.lists {
		for _, w := range words {
			if strings.Contains(lowered, w) {
				matches[cat] = append(matches[cat], w)
			}
		}
	}

	positive := len(matches[call.CategoryPositive])
	negative := len(matches[call.CategoryComplaint]) + len(matches[call.CategoryAbuse])

	score := 0.0
	if positive+negative > 0 {
		score = float64(positive-negative) / float64(positive+negative)
	}

	return Classification{
		Matches: matches,
		Score:   score,
		Label:   LabelForScore(score),
	}
}

// LabelForScore maps a sentiment score in [-1, 1] to its label.
func LabelForScore(score float64) string {
	switch {
	case score > positiveLabelThreshold:
		return "positive"
	case score < negativeLabelThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

// defaultKeywordLists returns the curated word lists. Keywords are stored
// lowercased; multi-word phrases are matched as plain substrings.
func defaultKeywordLists() map[call.Category][]string {
	return map[call.Category][]string{
		call.CategoryComplaint: {
			"complaint", "complain", "unhappy", "disappointed", "terrible",
			"awful", "worst", "not working", "doesn't work", "broken",
			"refund", "overcharged", "ridiculous", "unacceptable",
			"waste of time", "fed up", "still waiting", "no one called",
			"poor service", "cancel my",
		},
		call.CategoryAbuse: {
			"idiot", "stupid", "hate you", "shut up", "useless",
			"incompetent", "pathetic", "moron", "damn you", "screw you",
			"go to hell",
		},
		call.CategoryEscalation: {
			"manager", "supervisor", "escalate", "someone in charge",
			"ombudsman", "lawyer", "legal action", "take this further",
			"file a complaint", "tio",
		},
		call.CategoryPositive: {
			"thank you", "thanks", "great", "excellent", "wonderful",
			"fantastic", "appreciate", "helpful", "perfect", "awesome",
			"brilliant", "pleased", "happy with", "well done", "love it",
		},
	}
}
