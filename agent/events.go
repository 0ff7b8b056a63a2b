package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of telemetry event.
type EventKind string

const (
	EventTurnStarted       EventKind = "turn_started"
	EventModelInvoked      EventKind = "model_invoked"
	EventToolCallStarted   EventKind = "tool_call_started"
	EventToolCallCompleted EventKind = "tool_call_completed"
	EventRepeatBlocked     EventKind = "repeat_blocked"
	EventTurnTerminated    EventKind = "turn_terminated"
)

// Event is a telemetry tuple consumed by an external observability
// collector.
type Event struct {
	Kind           EventKind      `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	TurnID         string         `json:"turn_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Emitter delivers events to the host application over a buffered channel.
type Emitter struct {
	conversationID string
	ch             chan Event
	closed         bool
	mu             sync.Mutex
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(conversationID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		conversationID: conversationID,
		ch:             make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full or the emitter closed, the
// event is dropped rather than blocking the loop.
func (e *Emitter) Emit(kind EventKind, turnID string, payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:           kind,
		ConversationID: e.conversationID,
		TurnID:         turnID,
		Timestamp:      time.Now(),
		Payload:        payload,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
