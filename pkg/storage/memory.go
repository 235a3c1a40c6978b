package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/errors"
)

// MemoryStore is the in-memory Store implementation. All records are deep
// copied on the way in and out so callers can never mutate stored state.
type MemoryStore struct {
	logger *logrus.Entry

	mu      sync.RWMutex
	flagged map[string]*call.FlaggedCall
	reports map[string]*call.Report
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		logger:  logger.WithField("component", "memory_store"),
		flagged: make(map[string]*call.FlaggedCall),
		reports: make(map[string]*call.Report),
	}
}

// InsertFlaggedCall stores a new flagged-call record and returns the
// assigned ID. The caller's record is not mutated.
func (s *MemoryStore) InsertFlaggedCall(fc *call.FlaggedCall) (string, error) {
	if fc == nil {
		return "", errors.New("flagged call is nil")
	}

	stored := copyFlaggedCall(fc)
	stored.ID = uuid.New().String()

	s.mu.Lock()
	s.flagged[stored.ID] = stored
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":      stored.ID,
		"call_id": stored.CallID,
		"reason":  stored.Reason,
	}).Debug("Flagged call stored")

	return stored.ID, nil
}

// GetFlaggedCall fetches one flagged call by ID.
func (s *MemoryStore) GetFlaggedCall(id string) (*call.FlaggedCall, error) {
	s.mu.RLock()
	fc, ok := s.flagged[id]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "flagged call "+id)
	}
	return copyFlaggedCall(fc), nil
}

// ListFlaggedCalls returns flagged calls matching the filter, newest first.
func (s *MemoryStore) ListFlaggedCalls(filter FlaggedCallFilter) ([]*call.FlaggedCall, error) {
	s.mu.RLock()
	out := make([]*call.FlaggedCall, 0, len(s.flagged))
	for _, fc := range s.flagged {
		if filter.Severity != "" && fc.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && fc.Type != filter.Type {
			continue
		}
		if filter.Reviewed != nil && fc.Reviewed != *filter.Reviewed {
			continue
		}
		if !filter.Since.IsZero() && fc.FlaggedAt.Before(filter.Since) {
			continue
		}
		out = append(out, copyFlaggedCall(fc))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].FlaggedAt.After(out[j].FlaggedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkReviewed transitions a flagged call to reviewed. The transition is
// terminal.
func (s *MemoryStore) MarkReviewed(id, reviewer, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, ok := s.flagged[id]
	if !ok {
		return errors.Wrap(errors.ErrNotFound, "flagged call "+id)
	}
	if fc.Reviewed {
		return errors.Wrap(errors.ErrAlreadyReviewed, "flagged call "+id).
			WithField("reviewed_by", fc.ReviewedBy)
	}

	now := time.Now()
	fc.Reviewed = true
	fc.ReviewedBy = reviewer
	fc.ReviewedAt = &now
	fc.ReviewNotes = notes

	s.logger.WithFields(logrus.Fields{
		"id":       id,
		"reviewer": reviewer,
	}).Info("Flagged call reviewed")

	return nil
}

// InsertReport stores a closed-call report keyed by call ID. A re-close of
// the same call overwrites the earlier report.
func (s *MemoryStore) InsertReport(r *call.Report) error {
	if r == nil {
		return errors.New("report is nil")
	}

	s.mu.Lock()
	s.reports[r.CallID] = copyReport(r)
	s.mu.Unlock()
	return nil
}

// GetReport fetches the report for a call ID.
func (s *MemoryStore) GetReport(callID string) (*call.Report, error) {
	s.mu.RLock()
	r, ok := s.reports[callID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "report for call "+callID)
	}
	return copyReport(r), nil
}

// Close implements Store. Nothing to release for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyFlaggedCall(fc *call.FlaggedCall) *call.FlaggedCall {
	c := *fc
	c.Keywords = append([]string(nil), fc.Keywords...)
	if fc.ReviewedAt != nil {
		at := *fc.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}

func copyReport(r *call.Report) *call.Report {
	c := *r
	c.Flags = append([]call.Flag(nil), r.Flags...)
	c.KeywordCounts = make(map[call.Category]int, len(r.KeywordCounts))
	for k, v := range r.KeywordCounts {
		c.KeywordCounts[k] = v
	}
	return &c
}
