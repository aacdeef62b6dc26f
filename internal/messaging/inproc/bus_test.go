package inproc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velu/internal/domain"
)

func TestPublishFansOut(t *testing.T) {
	bus := New(4)
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	require.NoError(t, bus.Publish(domain.Event{"event": "task", "task": "plan"}))

	assert.Equal(t, "task", (<-a).Name())
	assert.Equal(t, "plan", (<-b)["task"])
}

func TestSubscribeIsIdempotent(t *testing.T) {
	bus := New(1)
	first := bus.Subscribe("ui")
	second := bus.Subscribe("ui")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := New(1)
	ch := bus.Subscribe("slow")

	require.NoError(t, bus.Publish(domain.Event{"event": "one"}))
	assert.ErrorIs(t, bus.Publish(domain.Event{"event": "two"}), ErrQueueFull)

	assert.Equal(t, "one", (<-ch).Name())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(1)
	ch := bus.Subscribe("gone")
	bus.Unsubscribe("gone")
	bus.Unsubscribe("gone")

	_, open := <-ch
	assert.False(t, open)
	assert.NoError(t, bus.Publish(domain.Event{"event": "nobody"}))
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := New(8)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := string(rune('a' + i))
		ch := bus.Subscribe(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
	}
	for i := 0; i < 100; i++ {
		_ = bus.Publish(domain.Event{"event": "tick"})
	}
	for i := 0; i < 4; i++ {
		bus.Unsubscribe(string(rune('a' + i)))
	}
	wg.Wait()
}
