package rollup

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Snapshot is one aggregate sentiment measurement. Percentages are rounded
// independently and need not sum to exactly 100; consumers must tolerate a
// couple of points of drift.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Positive  int       `json:"positive"`
	Neutral   int       `json:"neutral"`
	Negative  int       `json:"negative"`
	Samples   int       `json:"samples"`
}

// Config holds rollup tuning.
type Config struct {
	// Window is the trailing duration over which closed calls contribute.
	Window time.Duration

	// HistoryCapacity bounds the snapshot history; oldest entries are
	// evicted first.
	HistoryCapacity int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:          time.Hour,
		HistoryCapacity: 24,
	}
}

type closedCall struct {
	at    time.Time
	label string
}

// Rollup maintains the aggregate sentiment breakdown over a trailing window
// of closed calls plus a bounded history of past snapshots.
type Rollup struct {
	logger  *logrus.Entry
	config  Config
	mu      sync.Mutex
	closed  []closedCall
	current Snapshot
	history []Snapshot
}

// New creates a rollup with the given configuration.
func New(logger *logrus.Logger, config Config) *Rollup {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = 24
	}
	return &Rollup{
		logger:  logger.WithField("component", "sentiment_rollup"),
		config:  config,
		closed:  make([]closedCall, 0, 64),
		history: make([]Snapshot, 0, config.HistoryCapacity),
	}
}

// RecordClose folds one closed call into the rollup, recomputes the window
// breakdown, appends a history snapshot, and returns the new current state.
func (r *Rollup) RecordClose(label string, closedAt time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = append(r.closed, closedCall{at: closedAt, label: label})
	r.prune(closedAt)

	snap := r.compute(closedAt)
	r.current = snap

	r.history = append(r.history, snap)
	if len(r.history) > r.config.HistoryCapacity {
		r.history = r.history[1:]
	}

	r.logger.WithFields(logrus.Fields{
		"positive": snap.Positive,
		"neutral":  snap.Neutral,
		"negative": snap.Negative,
		"samples":  snap.Samples,
	}).Debug("Aggregate sentiment updated")

	return snap
}

// Current returns the latest aggregate breakdown.
func (r *Rollup) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History returns a copy of the snapshot history, oldest first.
func (r *Rollup) History() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.history))
	copy(out, r.history)
	return out
}

// prune drops closed calls that fell out of the trailing window.
func (r *Rollup) prune(now time.Time) {
	cutoff := now.Add(-r.config.Window)
	i := 0
	for i < len(r.closed) && r.closed[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.closed = r.closed[i:]
	}
}

// compute derives the percentage breakdown over the current window. Each
// percentage is rounded independently, which is why the three need not sum
// to 100.
func (r *Rollup) compute(now time.Time) Snapshot {
	total := len(r.closed)
	if total == 0 {
		return Snapshot{Timestamp: now}
	}

	var pos, neu, neg int
	for _, c := range r.closed {
		switch c.label {
		case "positive":
			pos++
		case "negative":
			neg++
		default:
			neu++
		}
	}

	pct := func(n int) int {
		return int(math.Round(float64(n) * 100 / float64(total)))
	}

	return Snapshot{
		Timestamp: now,
		Positive:  pct(pos),
		Neutral:   pct(neu),
		Negative:  pct(neg),
		Samples:   total,
	}
}
