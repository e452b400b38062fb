package web

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/telegram"
)

// WebSocket event types
const (
	EventTaskFinished  = "task.finished"
	EventStatusChanged = "status.changed"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// TaskFinishedPayload is the payload for EventTaskFinished.
type TaskFinishedPayload struct {
	ChatID   int64     `json:"chat_id"`
	Platform string    `json:"platform"`
	URL      string    `json:"url"`
	Outcome  string    `json:"outcome"`
	At       time.Time `json:"at"`
}

// StatusChangedPayload is the payload for EventStatusChanged.
type StatusChangedPayload struct {
	Running bool      `json:"running"`
	At      time.Time `json:"at"`
}

// EventSink broadcasts bot lifecycle events over the websocket hub. It
// satisfies the intake service's event sink contract.
type EventSink struct {
	hub *Hub
}

// NewEventSink creates an event sink writing to hub.
func NewEventSink(hub *Hub) *EventSink {
	return &EventSink{hub: hub}
}

// TaskFinished broadcasts a terminal task outcome.
func (s *EventSink) TaskFinished(task scheduler.Task, err error) {
	s.hub.Broadcast(marshalEvent(WSEvent{
		Type: EventTaskFinished,
		Payload: TaskFinishedPayload{
			ChatID:   task.ChatID,
			Platform: task.Platform,
			URL:      task.URL,
			Outcome:  taskOutcome(err),
			At:       time.Now(),
		},
	}))
}

// ProcessingToggled broadcasts a toggle transition.
func (s *EventSink) ProcessingToggled(running bool) {
	s.hub.Broadcast(marshalEvent(WSEvent{
		Type:    EventStatusChanged,
		Payload: StatusChangedPayload{Running: running, At: time.Now()},
	}))
}

func marshalEvent(evt WSEvent) []byte {
	b, _ := json.Marshal(evt)
	return b
}

func taskOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, scheduler.ErrRejected):
		return "rejected"
	case errors.Is(err, scheduler.ErrOwnershipLost):
		return "dropped"
	}
	if _, ok := telegram.AsFloodWait(err); ok {
		return "flood-wait"
	}
	return "error"
}
