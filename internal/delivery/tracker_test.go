package delivery_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-messenger/internal/chat"
	"go-messenger/internal/delivery"
	"go-messenger/internal/presence"
)

// Covers the offline-send flow end to end: sent while the recipient is away,
// delivered on reconnect, read on acknowledgement.
func TestOfflineSendThenReconnect(t *testing.T) {
	ctx := context.Background()

	store := chat.NewMemStore()
	store.SeedUser(1, "alice", "Alice")
	store.SeedUser(2, "bob", "Bob")
	svc := chat.NewService(store, zerolog.Nop(), 50, 100)

	pres := presence.NewMemoryTracker()
	tracker := delivery.NewTracker(store, pres, zerolog.Nop())

	conv, _, err := svc.CreateConversation(ctx, 1, chat.ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)

	// Alice is online, Bob is not.
	_, _, err = pres.Connect(ctx, 1)
	require.NoError(t, err)

	msg, recipients, err := svc.PostMessage(ctx, conv.ID, 1, "hello", "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, recipients)

	// Bob is offline, so the send leaves his row at 'sent'.
	require.NoError(t, tracker.MarkDelivered(ctx, msg.ID, recipients))
	status, err := store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusSent, status)

	// Bob connects; the reconnect sweep catches the pending message up.
	_, first, err := pres.Connect(ctx, 2)
	require.NoError(t, err)
	require.True(t, first)
	require.NoError(t, tracker.RecomputeOnReconnect(ctx, 2))

	status, err = store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusDelivered, status)

	// Bob reads it.
	_, err = svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	status, err = store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusRead, status)
}

func TestMarkDeliveredOnlyTouchesOnlineRecipients(t *testing.T) {
	ctx := context.Background()

	store := chat.NewMemStore()
	store.SeedUser(1, "alice", "Alice")
	store.SeedUser(2, "bob", "Bob")
	store.SeedUser(3, "carol", "Carol")
	svc := chat.NewService(store, zerolog.Nop(), 50, 100)

	pres := presence.NewMemoryTracker()
	tracker := delivery.NewTracker(store, pres, zerolog.Nop())

	conv, _, err := svc.CreateConversation(ctx, 1, chat.ConversationGroup, []int64{2, 3}, "g", "")
	require.NoError(t, err)

	// Only Bob is online.
	_, _, err = pres.Connect(ctx, 2)
	require.NoError(t, err)

	msg, recipients, err := svc.PostMessage(ctx, conv.ID, 1, "hi", "", nil, nil)
	require.NoError(t, err)
	require.NoError(t, tracker.MarkDelivered(ctx, msg.ID, recipients))

	status, err := store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusDelivered, status)

	status, err = store.GetMessageStatus(ctx, msg.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, chat.StatusSent, status)
}
