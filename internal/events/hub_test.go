package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func changeFor(user string, op string) ChangeEvent {
	return ChangeEvent{
		Entity: EntityAPIKeys,
		Op:     op,
		RowID:  "1",
		UserID: user,
		At:     time.Now().UTC(),
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	hub := NewHub()

	sub, backlog, err := hub.Subscribe("42")
	assert.NoError(t, err)
	assert.Empty(t, backlog)
	defer sub.Close()

	hub.Publish(changeFor("42", OpInsert))

	select {
	case event := <-sub.Events():
		assert.Equal(t, OpInsert, event.Op)
		assert.Equal(t, EntityAPIKeys, event.Entity)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestHubIsolatesUsers(t *testing.T) {
	hub := NewHub()

	subA, _, err := hub.Subscribe("a")
	assert.NoError(t, err)
	defer subA.Close()
	subB, _, err := hub.Subscribe("b")
	assert.NoError(t, err)
	defer subB.Close()

	hub.Publish(changeFor("a", OpDelete))

	select {
	case <-subA.Events():
	case <-time.After(time.Second):
		t.Fatal("expected event for user a")
	}

	select {
	case event := <-subB.Events():
		t.Fatalf("unexpected event for user b: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBacklogReplayAndCap(t *testing.T) {
	hub := NewHub()

	// A subscriber must exist for the stream to buffer at all.
	first, _, err := hub.Subscribe("7")
	assert.NoError(t, err)
	defer first.Close()

	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish(changeFor("7", OpUpdate))
	}

	sub, backlog, err := hub.Subscribe("7")
	assert.NoError(t, err)
	defer sub.Close()

	assert.Len(t, backlog, DefaultBufferSize)
}

func TestHubDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()

	sub, _, err := hub.Subscribe("9")
	assert.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < DefaultSubscriberBuffer*4; i++ {
			hub.Publish(changeFor("9", OpInsert))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()

	sub, _, err := hub.Subscribe("11")
	assert.NoError(t, err)

	sub.Close()
	sub.Close()

	// A fresh subscription still works after the stream was torn down.
	again, backlog, err := hub.Subscribe("11")
	assert.NoError(t, err)
	assert.Empty(t, backlog)
	again.Close()
}
