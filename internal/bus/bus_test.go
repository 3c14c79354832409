package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishPreservesOrder(t *testing.T) {
	b := NewEventBus()

	var got []string
	b.Subscribe(EventTypeSpriteChanged, func(ev Event) {
		got = append(got, ev.Data["sprite"].(string))
	})

	for _, s := range []string{"i1", "a", "b", "i1"} {
		b.Publish(Event{Type: EventTypeSpriteChanged, Data: map[string]any{"sprite": s}})
	}

	assert.Equal(t, []string{"i1", "a", "b", "i1"}, got)
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()

	var count int
	b.SubscribeMultiple([]EventType{EventTypeLevelSample, EventTypeDeviceStatus}, func(Event) {
		count++
	})

	b.Publish(Event{Type: EventTypeLevelSample})
	b.Publish(Event{Type: EventTypeDeviceStatus})
	b.Publish(Event{Type: EventTypeSpriteChanged})

	assert.Equal(t, 2, count)
}

func TestEventBus_PublishAsync(t *testing.T) {
	b := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe(EventTypeConfigApplied, func(Event) { wg.Done() })
	b.Subscribe(EventTypeConfigApplied, func(Event) { wg.Done() })

	b.PublishAsync(Event{Type: EventTypeConfigApplied})
	wg.Wait()
}

func TestEventBus_Clear(t *testing.T) {
	b := NewEventBus()

	called := false
	b.Subscribe(EventTypeSpriteChanged, func(Event) { called = true })
	b.Clear()
	b.Publish(Event{Type: EventTypeSpriteChanged})

	assert.False(t, called)
}
