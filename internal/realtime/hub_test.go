package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(id, roomID string, buffer int) *Client {
	return &Client{ID: id, RoomID: roomID, send: make(chan WSMessage, buffer)}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	c1 := newTestClient("c1", "room-1", 1)
	c2 := newTestClient("c2", "room-1", 1)

	hub.Register(c1)
	hub.Register(c2)
	assert.Equal(t, 2, hub.Watchers("room-1"))
	assert.Equal(t, 0, hub.Watchers("room-2"))

	hub.Unregister(c1)
	assert.Equal(t, 1, hub.Watchers("room-1"))
	hub.Unregister(c2)
	assert.Equal(t, 0, hub.Watchers("room-1"))
}

func TestBroadcastReachesRoomWatchersOnly(t *testing.T) {
	hub := NewHub(nil)
	watcher := newTestClient("c1", "room-1", 1)
	other := newTestClient("c2", "room-2", 1)
	hub.Register(watcher)
	hub.Register(other)

	hub.Broadcast("room-1", "participant_joined", map[string]string{"user_id": "bob"})

	select {
	case msg := <-watcher.send:
		assert.Equal(t, "participant_joined", msg.Event)
		assert.JSONEq(t, `{"user_id":"bob"}`, string(msg.Data))
	default:
		t.Fatal("watcher did not receive the event")
	}

	select {
	case <-other.send:
		t.Fatal("watcher of another room received the event")
	default:
	}
}

func TestBroadcastSkipsSlowConsumer(t *testing.T) {
	hub := NewHub(nil)
	slow := newTestClient("c1", "room-1", 1)
	hub.Register(slow)

	// Fill the buffer, then broadcast again; the call must not block.
	hub.Broadcast("room-1", "e1", nil)
	hub.Broadcast("room-1", "e2", nil)

	msg := <-slow.send
	require.Equal(t, "e1", msg.Event)
	select {
	case <-slow.send:
		t.Fatal("second event should have been dropped")
	default:
	}
}
