package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcheckin/internal/attendance"
	"classcheckin/internal/queue"
)

func TestRelayDeliversDecodedEvents(t *testing.T) {
	q := queue.NewInMemory(8)
	pub := attendance.NewQueuePublisher(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pub.Publish(ctx, attendance.Event{Kind: attendance.EventRecordCreated, SessionID: "s-1", ParticipantID: "stu-1"}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "garbage", Body: json.RawMessage(`"not an event"`)}))
	require.NoError(t, pub.Publish(ctx, attendance.Event{Kind: attendance.EventSessionClosed, SessionID: "s-1"}))

	got := make(chan attendance.Event, 4)
	calls := 0
	n := NotifierFunc(func(_ context.Context, evt attendance.Event) error {
		calls++
		got <- evt
		if calls == 1 {
			return errors.New("smtp down")
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- Relay(ctx, q, n) }()

	var kinds []attendance.EventKind
	for len(kinds) < 2 {
		select {
		case evt := <-got:
			kinds = append(kinds, evt.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []attendance.EventKind{attendance.EventRecordCreated, attendance.EventSessionClosed}, kinds)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, Log{}.Notify(context.Background(), attendance.Event{Kind: attendance.EventTokenIssued, SessionID: "s-1"}))
}
