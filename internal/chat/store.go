package chat

import "context"

// Store is the persistence contract for conversations, messages and
// per-recipient delivery status. Two backings exist: postgres (Repository)
// and in-memory (MemStore). Invariants live at this boundary: duplicate
// participants are rejected, a private pair maps to at most one conversation,
// and status upserts only ever raise rank.
type Store interface {
	// CreateConversation persists the conversation and its participant rows.
	// When a private conversation for the same unordered pair already exists
	// (including one created by a racing call), the existing conversation is
	// returned with created=false and nothing new is written.
	CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) (_ *Conversation, created bool, _ error)
	// FindPrivateConversationBetween returns ErrNotFound when the pair has
	// no private conversation yet.
	FindPrivateConversationBetween(ctx context.Context, a, b int64) (*Conversation, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID int64, role string) error
	ListConversationsForUser(ctx context.Context, userID int64) ([]ConversationSummary, error)
	ConversationIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error)

	// InsertMessage persists and returns the fully joined message.
	InsertMessage(ctx context.Context, m *NewMessage) (*Message, error)
	GetMessage(ctx context.Context, id int64) (*Message, error)
	// ListMessages returns the requested newest-first page, ordered
	// oldest-first within the page. Page numbering starts at 1.
	ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]Message, error)

	// CreateMessageStatuses inserts one 'sent' row per recipient; rows that
	// already exist are left alone.
	CreateMessageStatuses(ctx context.Context, messageID int64, recipientIDs []int64) error
	// UpsertMessageStatus raises the (message, recipient) status to the given
	// one; a lower or equal rank is a no-op, never an error.
	UpsertMessageStatus(ctx context.Context, messageID, userID int64, status string) error
	// MarkAllSentDelivered flips every 'sent' row addressed to the user to
	// 'delivered' and reports how many rows moved.
	MarkAllSentDelivered(ctx context.Context, userID int64) (int64, error)
	GetMessageStatus(ctx context.Context, messageID, userID int64) (string, error)
}
