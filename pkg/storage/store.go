package storage

import (
	"time"

	"github.com/loreste/callwatch/pkg/call"
)

// FlaggedCallFilter narrows ListFlaggedCalls results. Zero-valued fields
// are ignored.
type FlaggedCallFilter struct {
	Severity call.Severity
	Type     call.FlagType
	Reviewed *bool
	Since    time.Time
	Limit    int
}

// Store persists flagged calls and call reports. Flagged calls are
// append-only apart from the single unreviewed-to-reviewed transition.
type Store interface {
	// InsertFlaggedCall stores a new flagged-call record and returns its
	// assigned ID.
	InsertFlaggedCall(fc *call.FlaggedCall) (string, error)

	// GetFlaggedCall fetches one flagged call by ID.
	GetFlaggedCall(id string) (*call.FlaggedCall, error)

	// ListFlaggedCalls returns flagged calls matching the filter, newest
	// first.
	ListFlaggedCalls(filter FlaggedCallFilter) ([]*call.FlaggedCall, error)

	// MarkReviewed transitions a flagged call to reviewed. The transition
	// is terminal; reviewing an already-reviewed record fails.
	MarkReviewed(id, reviewer, notes string) error

	// InsertReport stores a closed-call report.
	InsertReport(r *call.Report) error

	// GetReport fetches the report for a call ID.
	GetReport(callID string) (*call.Report, error)

	// Close releases any underlying resources.
	Close() error
}
