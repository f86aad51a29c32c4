package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"classcheckin/internal/queue"
)

// EventKind names a state change notification.
type EventKind string

const (
	EventRecordCreated    EventKind = "record.created"
	EventRecordOverridden EventKind = "record.overridden"
	EventRecordVerified   EventKind = "record.verified"
	EventSessionClosed    EventKind = "session.closed"
	EventSessionCancelled EventKind = "session.cancelled"
	EventTokenIssued      EventKind = "token.issued"
)

// Event is emitted after a committed state change.
type Event struct {
	Kind          EventKind      `json:"kind"`
	SessionID     string         `json:"session_id"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	At            time.Time      `json:"at"`
}

// Publisher delivers events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// QueuePublisher encodes events as JSON queue messages.
type QueuePublisher struct {
	q queue.Queue
}

// NewQueuePublisher wraps a queue backend.
func NewQueuePublisher(q queue.Queue) *QueuePublisher {
	return &QueuePublisher{q: q}
}

// Publish implements Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: string(evt.Kind), Body: body})
}

// DecodeEvent parses a message produced by QueuePublisher.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, err
	}
	if evt.Kind == "" {
		evt.Kind = EventKind(msg.Type)
	}
	return evt, nil
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, Event) error { return nil }

// emit publishes after commit. Delivery failures never undo the state change.
func (s *Service) emit(ctx context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = s.now()
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		log.Printf("event publish failed kind=%s session=%s: %v", evt.Kind, evt.SessionID, err)
	}
}
