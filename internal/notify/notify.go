// Package notify delivers operator notifications for resilience events:
// circuit transitions, dead-letter captures, and dead-letter volume alerts.
package notify

import (
	"context"
	"time"

	"github.com/askelement/relay/internal/observability"
)

// Event types emitted by the resilience layer.
const (
	// EventCircuitOpened fires when a dependency's circuit opens.
	EventCircuitOpened = "circuit_opened"

	// EventCircuitClosed fires when a dependency's circuit closes again.
	EventCircuitClosed = "circuit_closed"

	// EventDeadLetter fires for every captured dead-letter record.
	EventDeadLetter = "dead_letter"

	// EventDeadLetterVolume fires when dead-letter captures exceed the
	// configured threshold within the alert window.
	EventDeadLetterVolume = "dead_letter_volume"

	// EventDeadLetterStoreFailure fires when a dead-letter record could
	// not be persisted.
	EventDeadLetterStoreFailure = "dead_letter_store_failure"
)

// Event is one operator notification.
type Event struct {
	// Type is one of the Event* constants.
	Type string

	// Dependency is the dependency the event concerns.
	Dependency string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Detail carries event-specific context.
	Detail map[string]string
}

// Sink receives operator notifications. Implementations must not block;
// delivery failures are the sink's problem, never the caller's.
type Sink interface {
	Notify(ctx context.Context, event Event)
}

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger observability.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger observability.Logger) *LogSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogSink{logger: logger}
}

// Notify implements Sink.
func (s *LogSink) Notify(_ context.Context, event Event) {
	fields := []observability.Field{
		observability.String("event", event.Type),
		observability.String("dependency", event.Dependency),
		observability.Time("timestamp", event.Timestamp),
	}
	for k, v := range event.Detail {
		fields = append(fields, observability.String(k, v))
	}
	s.logger.Warn("resilience event", fields...)
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(ctx context.Context, event Event)

// Notify implements Sink.
func (f FuncSink) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Notify implements Sink.
func (m MultiSink) Notify(ctx context.Context, event Event) {
	for _, s := range m {
		s.Notify(ctx, event)
	}
}
