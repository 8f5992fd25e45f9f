package observability

import (
	"log/slog"

	"nameref/core/events"
)

// EventSink forwards committed events to the structured log and the event
// counters.
type EventSink struct {
	logger  *slog.Logger
	metrics *ReferralMetrics
}

// NewEventSink creates an emitter writing to logger. A nil logger selects the
// default logger.
func NewEventSink(logger *slog.Logger, metrics *ReferralMetrics) *EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{logger: logger, metrics: metrics}
}

// Emit implements events.Emitter.
func (s *EventSink) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	s.metrics.RecordEvent(payload.Type)
	attrs := make([]any, 0, len(payload.Attributes)+1)
	attrs = append(attrs, slog.String("event", payload.Type))
	for k, v := range payload.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	s.logger.Info("event committed", attrs...)
}
