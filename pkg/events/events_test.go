package events

import (
	"testing"
	"time"

	"github.com/minicloud/minicloud/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(sub Subscriber, n int, timeout time.Duration) []*Event {
	var got []*Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case e := <-sub:
			got = append(got, e)
		case <-deadline:
			return got
		}
	}
	return got
}

// TestPublishSubscribe tests basic fan-out to multiple subscribers
func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	task := &types.Task{ID: 5, OwnerID: 2}
	broker.Publish(TaskEvent(EventTaskCreated, task, "created"))
	broker.Publish(TaskEvent(EventTaskQueued, task, "parked"))

	gotA := collect(a, 2, time.Second)
	gotB := collect(b, 2, time.Second)
	require.Len(t, gotA, 2)
	require.Len(t, gotB, 2)

	assert.Equal(t, EventTaskCreated, gotA[0].Type)
	assert.Equal(t, EventTaskQueued, gotA[1].Type)
	assert.Equal(t, int64(5), gotA[0].TaskID)
	assert.Equal(t, int64(2), gotA[0].OwnerID)
	assert.False(t, gotA[0].Timestamp.IsZero())
}

// TestUnsubscribeStopsDelivery tests channel close on unsubscribe
func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// A second unsubscribe is harmless
	broker.Unsubscribe(sub)
}

// TestSlowSubscriberDoesNotBlockPublish tests the non-blocking send
func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained: its buffer fills and later events are dropped
	slow := broker.Subscribe()
	_ = slow

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventGPUReleased, TaskID: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
