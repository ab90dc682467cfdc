package entities

import (
	"time"
)

// EventType classifies a session event
type EventType string

const (
	EventProgress   EventType = "progress"
	EventMetrics    EventType = "metrics"
	EventError      EventType = "error"
	EventCompletion EventType = "completion"
)

// SessionEvent is the outward-facing progress schema. Events are
// transient: delivery is best effort and the latest event always
// supersedes earlier ones.
type SessionEvent struct {
	SessionID string       `json:"sessionId"`
	Type      EventType    `json:"type"`
	Progress  *float64     `json:"progress,omitempty"`
	Message   string       `json:"message,omitempty"`
	Metrics   *Accumulator `json:"metrics,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
