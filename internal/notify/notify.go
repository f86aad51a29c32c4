// Package notify relays engine events from the queue to notification sinks.
package notify

import (
	"context"
	"fmt"
	"log"

	"classcheckin/internal/attendance"
	"classcheckin/internal/queue"
)

// Notifier delivers one engine event.
type Notifier interface {
	Notify(ctx context.Context, evt attendance.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt attendance.Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt attendance.Event) error { return f(ctx, evt) }

// Log writes a one-line summary of each event.
type Log struct{}

func (Log) Notify(_ context.Context, evt attendance.Event) error {
	switch evt.Kind {
	case attendance.EventRecordCreated, attendance.EventRecordOverridden, attendance.EventRecordVerified:
		log.Printf("notify %s session=%s participant=%s payload=%v", evt.Kind, evt.SessionID, evt.ParticipantID, evt.Payload)
	default:
		log.Printf("notify %s session=%s payload=%v", evt.Kind, evt.SessionID, evt.Payload)
	}
	return nil
}

// Relay consumes q until ctx is done and hands every decodable event to n.
// Undecodable messages and delivery failures are logged and skipped.
func Relay(ctx context.Context, q queue.Queue, n Notifier) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume events: %w", err)
	}
	for msg := range messages {
		evt, err := attendance.DecodeEvent(msg)
		if err != nil {
			log.Printf("skipping message type=%s: %v", msg.Type, err)
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			log.Printf("notify %s session=%s failed: %v", evt.Kind, evt.SessionID, err)
		}
	}
	return nil
}
