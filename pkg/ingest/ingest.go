package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loreste/callwatch/pkg/call"
	"github.com/loreste/callwatch/pkg/errors"
	"github.com/loreste/callwatch/pkg/metrics"
	"github.com/loreste/callwatch/pkg/tracker"
)

// Event types delivered on the PBX feed.
const (
	EventCallNew           = "call_new"
	EventCallAnswered      = "call_answered"
	EventCallEnded         = "call_ended"
	EventCallStatusChanged = "call_status_changed"
	EventTranscription     = "transcription"
)

// envelope is the wire shape of one PBX event. Fields beyond the type and
// call ID are event-specific.
type envelope struct {
	Type         string    `json:"type"`
	CallID       string    `json:"call_id"`
	Extension    string    `json:"extension"`
	CallerName   string    `json:"caller_name"`
	CallerNumber string    `json:"caller_number"`
	Status       string    `json:"status"`
	Speaker      string    `json:"speaker"`
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	Language     string    `json:"language"`
	Timestamp    time.Time `json:"timestamp"`
}

// Router validates inbound PBX events and drives the session tracker.
// Malformed events are counted and dropped; the feed must keep flowing no
// matter what a single frame contains.
type Router struct {
	logger  *logrus.Entry
	tracker *tracker.Tracker
}

// NewRouter creates an event router over the given tracker.
func NewRouter(logger *logrus.Logger, tr *tracker.Tracker) *Router {
	return &Router{
		logger:  logger.WithField("component", "event_router"),
		tracker: tr,
	}
}

// HandleMessage processes one raw event frame. It satisfies the feed's
// handler signature.
func (r *Router) HandleMessage(ctx context.Context, message []byte) {
	var ev envelope
	if err := json.Unmarshal(message, &ev); err != nil {
		metrics.RecordMalformedEvent("unparseable")
		r.logger.WithError(err).Warn("Dropping unparseable event frame")
		return
	}

	if ev.Type == "" {
		metrics.RecordMalformedEvent("missing_type")
		r.logger.Warn("Dropping event with no type")
		return
	}
	if ev.CallID == "" {
		metrics.RecordMalformedEvent(ev.Type)
		r.logger.WithField("event_type", ev.Type).Warn("Dropping event with no call_id")
		return
	}

	switch ev.Type {
	case EventCallNew, EventCallAnswered:
		r.handleCallStart(ev)
	case EventTranscription:
		r.handleTranscription(ev)
	case EventCallEnded:
		r.handleCallEnd(ev)
	case EventCallStatusChanged:
		r.logger.WithFields(logrus.Fields{
			"call_id": ev.CallID,
			"status":  ev.Status,
		}).Debug("Call status changed")
	default:
		metrics.RecordMalformedEvent("unknown_type")
		r.logger.WithField("event_type", ev.Type).Debug("Ignoring unknown event type")
	}
}

// handleCallStart opens a session. The PBX emits both call_new and
// call_answered for the same call, so an existing session is not an error.
func (r *Router) handleCallStart(ev envelope) {
	err := r.tracker.Open(call.Info{
		CallID:       ev.CallID,
		Extension:    ev.Extension,
		CallerName:   ev.CallerName,
		CallerNumber: ev.CallerNumber,
	})
	if err != nil {
		if errors.IsErrorType(err, errors.ErrSessionAlreadyExists) {
			return
		}
		r.logger.WithError(err).WithField("call_id", ev.CallID).Warn("Failed to open session")
	}
}

func (r *Router) handleTranscription(ev envelope) {
	if ev.Text == "" {
		metrics.RecordMalformedEvent(EventTranscription)
		r.logger.WithField("call_id", ev.CallID).Warn("Dropping transcription event with no text")
		return
	}

	r.tracker.AppendTranscript(ev.CallID, call.Chunk{
		Timestamp:  ev.Timestamp,
		Speaker:    ev.Speaker,
		Text:       ev.Text,
		Confidence: ev.Confidence,
		Language:   ev.Language,
	})
}

// handleCallEnd closes the session. An unknown call ID is expected when the
// watcher started mid-call or the end event is duplicated.
func (r *Router) handleCallEnd(ev envelope) {
	if _, err := r.tracker.Close(ev.CallID); err != nil {
		if errors.IsErrorType(err, errors.ErrSessionNotFound) {
			r.logger.WithField("call_id", ev.CallID).Debug("Ignoring end event for unknown session")
			return
		}
		r.logger.WithError(err).WithField("call_id", ev.CallID).Warn("Failed to close session")
	}
}
