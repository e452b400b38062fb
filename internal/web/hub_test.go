package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blockedby/videorelay/internal/scheduler"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client1 := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client1

	client2 := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client2

	// wait for registration
	time.Sleep(10 * time.Millisecond)

	msg := []byte(`{"type":"status.changed"}`)
	hub.Broadcast(msg)

	select {
	case received := <-client1.send:
		assert.Equal(t, msg, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 1 did not receive message")
	}

	select {
	case received := <-client2.send:
		assert.Equal(t, msg, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 2 did not receive message")
	}

	// unregister client 1
	hub.unregister <- client1
	time.Sleep(10 * time.Millisecond)

	msg2 := []byte("second message")
	hub.Broadcast(msg2)

	select {
	case m, ok := <-client1.send:
		if ok {
			t.Fatalf("client 1 received message after unregister: %s", m)
		}
		// closed channel is the expected state for an unregistered client
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case received := <-client2.send:
		assert.Equal(t, msg2, received)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client 2 did not receive second message")
	}
}

func TestEventSink_TaskFinished(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	sink := NewEventSink(hub)
	sink.TaskFinished(scheduler.Task{
		ChatID:   10,
		Platform: "youtube",
		URL:      "https://youtube.com/shorts/abcdefghijk",
	}, scheduler.ErrRejected)

	select {
	case raw := <-client.send:
		var evt WSEvent
		assert.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, EventTaskFinished, evt.Type)
		payload := evt.Payload.(map[string]any)
		assert.Equal(t, "rejected", payload["outcome"])
		assert.Equal(t, "youtube", payload["platform"])
	case <-time.After(100 * time.Millisecond):
		t.Fatal("no event broadcast")
	}
}

func TestTaskOutcome(t *testing.T) {
	assert.Equal(t, "success", taskOutcome(nil))
	assert.Equal(t, "rejected", taskOutcome(scheduler.ErrRejected))
	assert.Equal(t, "dropped", taskOutcome(scheduler.ErrOwnershipLost))
	assert.Equal(t, "error", taskOutcome(assert.AnError))
}
