package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "a", Body: []byte(`{"n":1}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "b", Body: []byte(`{"n":2}`)}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	for _, want := range []string{"a", "b"} {
		select {
		case msg := <-ch:
			assert.Equal(t, want, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestInMemoryFull(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: "a"}))
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "b"}), ErrFull)
	assert.Equal(t, 1, q.Len())
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewInMemory(1).Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
