package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDeliversInOrder(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("exec-1")
	defer b.Unsubscribe("exec-1", sub)

	b.Publish("exec-1", Event{Type: EventNodeStarted, NodeID: "n1"})
	b.Publish("exec-1", Event{Type: EventNodeCompleted, NodeID: "n1"})

	e1 := <-sub.Events
	e2 := <-sub.Events
	assert.Equal(t, EventNodeStarted, e1.Type)
	assert.Equal(t, EventNodeCompleted, e2.Type)
	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(2), e2.Sequence)
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(4)
	assert.NotPanics(t, func() {
		b.Publish("exec-unknown", Event{Type: EventNodeStarted})
	})
}

func TestUnsubscribeRemovesEntryWhenEmpty(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("exec-1")
	b.Unsubscribe("exec-1", sub)

	b.mu.RLock()
	_, exists := b.execs["exec-1"]
	b.mu.RUnlock()
	assert.False(t, exists)
}

func TestPublishDropsOldestWhenQueueFull(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("exec-1")
	defer b.Unsubscribe("exec-1", sub)

	for i := 0; i < 5; i++ {
		b.Publish("exec-1", Event{Type: EventNodeStarted})
	}
	assert.Greater(t, sub.Dropped(), int64(0))
}

func TestMultipleSubscribersEachGetEveryEvent(t *testing.T) {
	b := New(4)
	sub1 := b.Subscribe("exec-1")
	sub2 := b.Subscribe("exec-1")
	defer b.Unsubscribe("exec-1", sub1)
	defer b.Unsubscribe("exec-1", sub2)

	b.Publish("exec-1", Event{Type: EventNodeStarted})

	require.Len(t, sub1.Events, 1)
	require.Len(t, sub2.Events, 1)
}

func TestHeartbeatFiresWhenNoEventsPublished(t *testing.T) {
	b := New(4)
	sub := b.Subscribe("exec-1")
	defer b.Unsubscribe("exec-1", sub)

	stop := make(chan struct{})
	defer close(stop)
	go Heartbeat(b, "exec-1", 10*time.Millisecond, func() map[string]any { return map[string]any{"ok": true} }, stop)

	select {
	case evt := <-sub.Events:
		assert.Equal(t, EventExecutionUpdate, evt.Type)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("heartbeat did not fire")
	}
}
