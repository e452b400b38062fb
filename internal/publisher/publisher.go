// Package publisher pushes task lifecycle events to NATS for external UIs.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/blockedby/videorelay/internal/logger"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/telegram"
)

// Subjects for the event stream.
const (
	SubjectTasks  = "videorelay.tasks"
	SubjectStatus = "videorelay.status"
)

// NATSClient interface to allow mocking.
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// TaskEvent describes a terminal task outcome.
type TaskEvent struct {
	ChatID   int64     `json:"chat_id"`
	Platform string    `json:"platform"`
	URL      string    `json:"url"`
	Outcome  string    `json:"outcome"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// StatusEvent describes a processing toggle change.
type StatusEvent struct {
	Running bool      `json:"running"`
	At      time.Time `json:"at"`
}

// Publisher emits events to NATS. A nil NATSClient disables publishing,
// so the bot runs fine without a broker.
type Publisher struct {
	nc  NATSClient
	log *logger.Logger
}

// New creates a publisher. nc may be nil.
func New(nc NATSClient, log *logger.Logger) *Publisher {
	return &Publisher{nc: nc, log: log}
}

// TaskFinished publishes the terminal outcome of one task.
func (p *Publisher) TaskFinished(task scheduler.Task, taskErr error) {
	event := TaskEvent{
		ChatID:   task.ChatID,
		Platform: task.Platform,
		URL:      task.URL,
		Outcome:  outcomeLabel(taskErr),
		At:       time.Now(),
	}
	if event.Outcome == "error" && taskErr != nil {
		event.Error = taskErr.Error()
	}
	p.publish(SubjectTasks, event)
}

// ProcessingToggled publishes a processing on/off transition.
func (p *Publisher) ProcessingToggled(running bool) {
	p.publish(SubjectStatus, StatusEvent{Running: running, At: time.Now()})
}

func (p *Publisher) publish(subject string, event any) {
	if p.nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("publisher: marshal event failed")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("publisher: publish failed")
	}
}

// outcomeLabel classifies a worker error the same way the scheduler does.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, scheduler.ErrRejected):
		return "rejected"
	case errors.Is(err, scheduler.ErrOwnershipLost):
		return "dropped"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	if _, ok := telegram.AsFloodWait(err); ok {
		return "flood-wait"
	}
	return "error"
}
