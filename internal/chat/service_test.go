package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-messenger/internal/apperr"
)

func newTestService(t *testing.T) (*Service, *MemStore) {
	t.Helper()
	store := NewMemStore()
	store.SeedUser(1, "alice", "Alice")
	store.SeedUser(2, "bob", "Bob")
	store.SeedUser(3, "carol", "Carol")
	return NewService(store, zerolog.Nop(), 50, 100), store
}

func TestCreatePrivateConversationIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Same pair from the other side resolves to the same conversation too.
	third, created, err := svc.CreateConversation(ctx, 2, ConversationPrivate, []int64{1}, "", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)

	ids, err := svc.ConversationIDsForUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestCreatePrivateConversationRace(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const racers = 16
	results := make([]int64, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
			if assert.NoError(t, err) {
				results[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	ids, err := svc.ConversationIDsForUser(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestCreateConversationValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, nil, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = svc.CreateConversation(ctx, 1, "broadcast", []int64{2}, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2, 3}, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{1}, "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestGroupCreatorBecomesAdmin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	conv, created, err := svc.CreateConversation(ctx, 1, ConversationGroup, []int64{2, 3}, "team", "the team")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "team", conv.Name)

	roles := map[int64]string{}
	for _, p := range store.participants[conv.ID] {
		roles[p.UserID] = p.Role
	}
	assert.Equal(t, RoleAdmin, roles[1])
	assert.Equal(t, RoleMember, roles[2])
	assert.Equal(t, RoleMember, roles[3])
}

func TestPostMessageAccessControl(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)

	_, _, err = svc.PostMessage(ctx, conv.ID, 3, "hi", "", nil, nil)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	_, err = svc.ListMessages(ctx, conv.ID, 3, 1, 50)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
}

func TestPostMessageSeedsStatusRows(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.CreateConversation(ctx, 1, ConversationGroup, []int64{2, 3}, "g", "")
	require.NoError(t, err)

	msg, recipients, err := svc.PostMessage(ctx, conv.ID, 1, "hello all", "", nil, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, recipients)
	assert.Equal(t, "alice", msg.SenderUsername)
	assert.Equal(t, MessageTypeText, msg.MessageType)

	for _, uid := range recipients {
		status, err := store.GetMessageStatus(ctx, msg.ID, uid)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, status)
	}

	// The sender never gets a status row for their own message.
	_, err = store.GetMessageStatus(ctx, msg.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPostMessageReplyScoping(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	convAB, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)
	convAC, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{3}, "", "")
	require.NoError(t, err)

	original, _, err := svc.PostMessage(ctx, convAB.ID, 1, "original", "", nil, nil)
	require.NoError(t, err)

	// Replying across conversations is rejected.
	_, _, err = svc.PostMessage(ctx, convAC.ID, 1, "sneaky reply", "", nil, &original.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// A dangling reply target is rejected too.
	bogus := int64(9999)
	_, _, err = svc.PostMessage(ctx, convAB.ID, 2, "reply", "", nil, &bogus)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	// In-conversation reply carries the denormalized snippet.
	reply, _, err := svc.PostMessage(ctx, convAB.ID, 2, "reply", "", nil, &original.ID)
	require.NoError(t, err)
	require.NotNil(t, reply.Reply)
	assert.Equal(t, "original", reply.Reply.Content)
	assert.Equal(t, "alice", reply.Reply.SenderUsername)
}

func TestListMessagesPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)

	for i := 1; i <= 120; i++ {
		_, _, err := svc.PostMessage(ctx, conv.ID, 1, fmt.Sprintf("msg %d", i), "", nil, nil)
		require.NoError(t, err)
	}

	page1, err := svc.ListMessages(ctx, conv.ID, 2, 1, 50)
	require.NoError(t, err)
	require.Len(t, page1, 50)
	// Newest 50, oldest-first within the page.
	assert.Equal(t, "msg 71", page1[0].Content)
	assert.Equal(t, "msg 120", page1[49].Content)

	page2, err := svc.ListMessages(ctx, conv.ID, 2, 2, 50)
	require.NoError(t, err)
	require.Len(t, page2, 50)
	assert.Equal(t, "msg 21", page2[0].Content)
	assert.Equal(t, "msg 70", page2[49].Content)

	// No overlap, no gap.
	assert.Equal(t, page2[49].ID+1, page1[0].ID)

	page3, err := svc.ListMessages(ctx, conv.ID, 2, 3, 50)
	require.NoError(t, err)
	require.Len(t, page3, 20)
	assert.Equal(t, "msg 1", page3[0].Content)

	page4, err := svc.ListMessages(ctx, conv.ID, 2, 4, 50)
	require.NoError(t, err)
	assert.Empty(t, page4)
}

func TestListMessagesPageSizeBounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, _, err := svc.PostMessage(ctx, conv.ID, 1, "x", "", nil, nil)
		require.NoError(t, err)
	}

	// Zero falls back to the default, oversized is clamped to the max.
	msgs, err := svc.ListMessages(ctx, conv.ID, 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 50)

	msgs, err = svc.ListMessages(ctx, conv.ID, 1, 1, 1000)
	require.NoError(t, err)
	assert.Len(t, msgs, 100)
}

func TestMarkRead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.CreateConversation(ctx, 1, ConversationPrivate, []int64{2}, "", "")
	require.NoError(t, err)
	msg, _, err := svc.PostMessage(ctx, conv.ID, 1, "hello", "", nil, nil)
	require.NoError(t, err)

	// Non-participant cannot mark.
	_, err = svc.MarkRead(ctx, msg.ID, 3)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)

	got, err := svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ConversationID)

	status, err := store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, status)

	// Idempotent: a second read is a silent no-op.
	_, err = svc.MarkRead(ctx, msg.ID, 2)
	require.NoError(t, err)

	// A late 'delivered' never regresses 'read'.
	require.NoError(t, store.UpsertMessageStatus(ctx, msg.ID, 2, StatusDelivered))
	status, err = store.GetMessageStatus(ctx, msg.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, status)

	// Sender marking their own message is a no-op, not an error.
	_, err = svc.MarkRead(ctx, msg.ID, 1)
	require.NoError(t, err)
	_, err = store.GetMessageStatus(ctx, msg.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkReadUnknownMessage(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.MarkRead(context.Background(), 42, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
