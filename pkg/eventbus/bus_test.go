package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	all := bus.Subscribe(4)
	only := bus.SubscribeTopics(4, TopicAgentRegistered)

	bus.Publish(TopicAgentRegistered, map[string]any{"agentId": "a-1"})
	bus.Publish(TopicMessageSent, map[string]any{"messageId": "m-1"})

	ev := <-all
	assert.Equal(t, TopicAgentRegistered, ev.Topic)
	assert.Equal(t, "a-1", ev.Data["agentId"])
	ev = <-all
	assert.Equal(t, TopicMessageSent, ev.Topic)

	ev = <-only
	assert.Equal(t, TopicAgentRegistered, ev.Topic)
	select {
	case ev = <-only:
		t.Fatalf("filtered subscriber received %s", ev.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := bus.Subscribe(1)
	bus.Publish(TopicMessageSent, nil)
	bus.Publish(TopicMessageSent, nil) // buffer full, dropped

	done := make(chan struct{})
	go func() {
		bus.Publish(TopicMessageSent, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	<-ch
	select {
	case <-ch:
		t.Fatal("dropped event was delivered")
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)

	// Unknown channel is a no-op.
	bus.Unsubscribe(make(chan Event))
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	bus.Close()
	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	// Publishing and subscribing after close are inert.
	bus.Publish(TopicShutdown, nil)
	late := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	bus.Publish(TopicShutdown, nil)
	bus.Close()
	bus.Unsubscribe(nil)

	ch := bus.Subscribe(1)
	require.NotNil(t, ch)
	_, open := <-ch
	assert.False(t, open)
}
