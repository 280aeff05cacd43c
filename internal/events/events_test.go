package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int

	bus.Subscribe(EventTaskRemoved, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON(EventTaskRemoved, TaskRef{AccountID: "acc", TaskID: "t1"}))

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventTaskRemoved, received.Type)
	assert.NotZero(t, received.ID)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded TaskRef
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, TaskRef{AccountID: "acc", TaskID: "t1"}, decoded)
}

func TestEventBusMultipleSubscribersAndErrors(t *testing.T) {
	bus := NewEventBus(nil)
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return errors.New("first fails") })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2, "a failing handler does not stop delivery")
}

func TestEventBusIDsIncrease(t *testing.T) {
	bus := NewEventBus(nil)
	var ids []int64
	bus.Subscribe("e", func(e *Event) error { ids = append(ids, e.ID); return nil })

	bus.Publish(&Event{Type: "e"})
	bus.Publish(&Event{Type: "e"})

	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	bus.Publish(&Event{Type: "unknown"})
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestPublishJSONUnencodable(t *testing.T) {
	bus := NewEventBus(nil)
	assert.Error(t, bus.PublishJSON("e", make(chan int)))
}
