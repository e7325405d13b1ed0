// Package history exports build and run events to analytics stores.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of build or run event.
type EventType string

const (
	EventToolCall    EventType = "tool_call"
	EventBuilt       EventType = "built"
	EventBuildFailed EventType = "build_failed"
	EventModelStart  EventType = "model_start"
	EventModelStop   EventType = "model_stop"
	EventCleanup     EventType = "cleanup"
)

// Record carries the details of one event. Fields that do not apply to an
// event type are left zero.
type Record struct {
	Model    string   `json:"model"`
	Language string   `json:"language,omitempty"`
	Tool     string   `json:"tool,omitempty"`
	Command  string   `json:"command,omitempty"`
	PID      int      `json:"pid,omitempty"`
	ExitCode int      `json:"exit_code"`
	Duration int64    `json:"duration_ms"`
	Error    string   `json:"error,omitempty"`
	Products []string `json:"products,omitempty"`
}

// Event represents a build or run event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// New stamps an event with the current time.
func New(t EventType, r Record) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC(), Record: r}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Send(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that implements io.Closer.
func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// WithTimeout bounds every Send to s by d. A non-positive d returns s.
func WithTimeout(s Sink, d time.Duration) Sink {
	if d <= 0 {
		return s
	}
	return timeoutSink{Sink: s, d: d}
}

type timeoutSink struct {
	Sink
	d time.Duration
}

func (t timeoutSink) Send(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.Sink.Send(ctx, e)
}

func (t timeoutSink) Close() error {
	if c, ok := t.Sink.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
