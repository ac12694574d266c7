// Package audit records pipeline lifecycle events for traceability. Sinks
// never fail the operation that emits the event.
package audit

import (
	"context"
	"time"

	"github.com/pixelpress/pixelpress/internal/logger"
)

// EventType identifies what happened to a job.
type EventType string

const (
	EventJobCreated        EventType = "job.created"
	EventJobQueued         EventType = "job.queued"
	EventJobCancelled      EventType = "job.cancelled"
	EventAnalysisCompleted EventType = "job.analysis_completed"
	EventVersionsGenerated EventType = "job.versions_generated"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
)

// Event is one audit record.
type Event struct {
	Type     EventType
	JobID    string
	FileName string
	Detail   logger.Fields
	At       time.Time
}

// Sink receives audit events. Implementations must be non-blocking in effect:
// emitting an event never returns an error to the caller.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// LogSink writes audit events through the structured logger.
type LogSink struct{}

// NewLogSink creates a Sink backed by the default logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Record logs the event at info level.
func (s *LogSink) Record(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	fields := logger.Fields{
		"audit_event": string(event.Type),
		"job_id":      event.JobID,
		"at":          event.At.Format(time.RFC3339),
	}
	if event.FileName != "" {
		fields["file_name"] = event.FileName
	}
	for k, v := range event.Detail {
		fields[k] = v
	}

	logger.With(fields).Info(ctx, "Audit event: %s", event.Type)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(ctx context.Context, event Event) {}
