// Package logging provides the durable, structured audit trail that sits
// alongside the host's leveled debug log (logrus, wired in
// cmd/hermit-wasm). Where the debug log is for operators watching stderr,
// this package is for anyone who wants to replay exactly which handlers
// were registered and invoked during a run.
package logging

import (
	"encoding/json"
	"time"

	"github.com/flavio/hermit-wasm/internal/errx"
)

// EmitterConfig holds the static metadata stamped onto every event.
type EmitterConfig struct {
	RunID string // a correlation id for this host process run
	Host  string // an optional host label; fixed at construction, omitted from events when empty
}

// Emitter provides convenience methods for emitting typed events.
// It holds static metadata and dispatches to one or more sinks.
//
// A nil *Emitter is safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
// With zero sinks, Emit is a no-op that never errors — this is how the
// audit trail stays off by default.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{
		config: cfg,
		sinks:  sinks,
	}
}

// Emit constructs an event with the emitter's static metadata and writes
// it to all registered sinks.
//
//   - eventType: one of the Event* constants (e.g., EventHandlerInvoked)
//   - summary: human-readable one-line summary
//   - worker: the worker label that produced this event ("" for the dispatcher)
//   - tags: optional tags for filtering (nil is fine)
//   - data: the typed data struct (e.g., *HandlerInvokedData); nil for no payload
//
// Returns the first error encountered. Callers should discard errors
// with _ = (best-effort semantics) so a logging failure never blocks a
// request.
func (e *Emitter) Emit(eventType, summary, worker string, tags []string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     e.config.RunID,
		Host:      e.config.Host,
		EventType: eventType,
		Summary:   summary,
		Worker:    worker,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks. Returns the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
