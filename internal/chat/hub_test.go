package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub runs a hub in single-node mode (no redis; events loop back
// locally).
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil, zerolog.Nop())
	go h.Run()
	return h
}

func newTestClient(h *Hub, userID int64, username string, convIDs ...int64) *Client {
	c := newClient(h, nil, nil, zerolog.Nop())
	c.UserID = userID
	c.Username = username
	c.state = stateJoined
	for _, id := range convIDs {
		c.joinConversation(id)
	}
	return c
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected event: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRoomFanOut(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	alice := newTestClient(h, 1, "alice", 10)
	bob := newTestClient(h, 2, "bob", 10)
	carol := newTestClient(h, 3, "carol", 20)
	h.Register(alice)
	h.Register(bob)
	h.Register(carol)

	h.Broadcast(ctx, 10, 0, Event{Type: EventNewMessage, Data: NewMessageData{ConversationID: 10}})

	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)
	assert.Equal(t, EventNewMessage, recvEvent(t, bob).Type)
	expectNoEvent(t, carol)
}

func TestHubBroadcastToAll(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	alice := newTestClient(h, 1, "alice", 10)
	carol := newTestClient(h, 3, "carol", 20)
	h.Register(alice)
	h.Register(carol)

	// Conversation 0 is the presence fan-out: every connected client.
	h.Broadcast(ctx, 0, 0, Event{Type: EventUserOnline, Data: PresenceData{UserID: 9}})

	assert.Equal(t, EventUserOnline, recvEvent(t, alice).Type)
	assert.Equal(t, EventUserOnline, recvEvent(t, carol).Type)
}

func TestHubSkipsTypingSender(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	alice := newTestClient(h, 1, "alice", 10)
	aliceTab2 := newTestClient(h, 1, "alice", 10)
	bob := newTestClient(h, 2, "bob", 10)
	h.Register(alice)
	h.Register(aliceTab2)
	h.Register(bob)

	h.Broadcast(ctx, 10, 1, Event{Type: EventUserTyping, Data: TypingData{ConversationID: 10, UserID: 1, Username: "alice"}})

	// All of the typist's own sockets are skipped.
	assert.Equal(t, EventUserTyping, recvEvent(t, bob).Type)
	expectNoEvent(t, alice)
	expectNoEvent(t, aliceTab2)
}

func TestHubJoinsNewConversationRooms(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	bob := newTestClient(h, 2, "bob") // online, no conversations yet
	h.Register(bob)

	conv := &Conversation{ID: 99, Type: ConversationPrivate}
	h.Broadcast(ctx, 99, 0, Event{
		Type: EventConversationCreated,
		Data: ConversationCreatedData{Conversation: conv, ParticipantIDs: []int64{1, 2}},
	})

	// Bob's socket was pulled into the new room and got the event.
	assert.Equal(t, EventConversationCreated, recvEvent(t, bob).Type)

	h.Broadcast(ctx, 99, 0, Event{Type: EventNewMessage, Data: NewMessageData{ConversationID: 99}})
	assert.Equal(t, EventNewMessage, recvEvent(t, bob).Type)
	assert.True(t, bob.isJoined(99))
}

func TestHubDropsSlowClient(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	alice := newTestClient(h, 1, "alice", 10)
	slow := newTestClient(h, 2, "slow", 10)
	h.Register(alice)
	h.Register(slow)

	// Jam the slow client's buffer so the next fan-out cannot enqueue.
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("{}")
	}

	h.Broadcast(ctx, 10, 0, Event{Type: EventNewMessage, Data: NewMessageData{ConversationID: 10}})
	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)

	// The slow client was unregistered: drain the backlog, then observe the
	// closed channel.
	for i := 0; i < cap(slow.send); i++ {
		<-slow.send
	}
	select {
	case _, ok := <-slow.send:
		assert.False(t, ok, "send channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}

	// Later fan-outs still reach the healthy client.
	h.Broadcast(ctx, 10, 0, Event{Type: EventNewMessage, Data: NewMessageData{ConversationID: 10}})
	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)
}

func TestHubUnregisterLeavesRooms(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	alice := newTestClient(h, 1, "alice", 10)
	bob := newTestClient(h, 2, "bob", 10)
	h.Register(alice)
	h.Register(bob)
	h.Unregister(bob)

	h.Broadcast(ctx, 10, 0, Event{Type: EventNewMessage, Data: NewMessageData{ConversationID: 10}})
	assert.Equal(t, EventNewMessage, recvEvent(t, alice).Type)

	select {
	case _, ok := <-bob.send:
		assert.False(t, ok, "send channel should be closed after unregister")
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
}
