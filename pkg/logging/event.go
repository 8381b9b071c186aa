package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event for the dispatcher/worker audit
// trail. Required fields: Timestamp, RunID, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	Host      string          `json:"host,omitempty"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Worker    string          `json:"worker,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventHandlerRegistered = "handler_registered"
	EventHandlerInvoked    = "handler_invoked"
	EventWorkerStarted     = "worker_started"
	EventWorkerStopped     = "worker_stopped"
	EventServerStopped     = "server_stopped"
)

// HandlerRegisteredData is the payload for handler_registered events.
type HandlerRegisteredData struct {
	HandlerName string `json:"handler_name"`
	Cached      bool   `json:"cached"`
}

// HandlerInvokedData is the payload for handler_invoked events.
type HandlerInvokedData struct {
	HandlerName string `json:"handler_name"`
	Method      string `json:"method"`
	URI         string `json:"uri"`
	StatusCode  int    `json:"status_code"`
	DurationMS  int64  `json:"duration_ms"`
}

// WorkerLifecycleData is the payload for worker_started/worker_stopped events.
type WorkerLifecycleData struct {
	WorkerIndex int `json:"worker_index"`
}

// ServerStoppedData is the payload for server_stopped events.
type ServerStoppedData struct {
	Address string `json:"address"`
}
