// Package events publishes save-flow domain events. Publishing is
// fire-and-forget: the attempt's durable state is already correct once
// persisted, so delivery failures are logged and never propagated.
package events

import (
	"context"

	"go.uber.org/zap"
)

// Event names emitted by the save-flow engine.
const (
	FlowInitiated = "save.flow.initiated"
	FlowCompleted = "save.flow.completed"
)

// Sink publishes a named event with a JSON-serializable payload.
type Sink interface {
	Publish(ctx context.Context, name string, payload any) error
	Close() error
}

// LogSink writes events to the application log. Used when no broker is
// configured and as the fallback of last resort.
type LogSink struct{}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Publish(ctx context.Context, name string, payload any) error {
	zap.L().Info("event published",
		zap.String("event", name),
		zap.Any("payload", payload),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
