package chat

import "time"

const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"

	RoleMember = "member"
	RoleAdmin  = "admin"

	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"

	MessageTypeText = "text"
)

// statusRank orders delivery states. Transitions only ever move up.
func statusRank(s string) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

type Conversation struct {
	ID          int64     `json:"id"`
	Type        string    `json:"type"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedBy   int64     `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type Participant struct {
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ConversationSummary is the list-view row: the conversation plus the other
// user (private chats) and the latest message, denormalized so the client
// renders without extra round trips.
type ConversationSummary struct {
	Conversation
	OtherUserID      int64      `json:"other_user_id,omitempty"`
	OtherUsername    string     `json:"other_username,omitempty"`
	OtherDisplayName string     `json:"other_display_name,omitempty"`
	OtherIsOnline    bool       `json:"other_is_online"`
	LastMessage      string     `json:"last_message,omitempty"`
	LastMessageTime  *time.Time `json:"last_message_time,omitempty"`
}

// Message is the fully joined message as broadcast and returned from history.
// Sender display fields come via JOIN; Reply is a denormalized snippet of the
// replied-to message when one exists.
type Message struct {
	ID                int64         `json:"id"`
	ConversationID    int64         `json:"conversation_id"`
	SenderID          int64         `json:"sender_id"`
	SenderUsername    string        `json:"sender_username"`
	SenderDisplayName string        `json:"sender_display_name"`
	Content           string        `json:"content"`
	MessageType       string        `json:"message_type"`
	FileURL           *string       `json:"file_url,omitempty"`
	ReplyToMessageID  *int64        `json:"reply_to_message_id,omitempty"`
	Reply             *ReplySnippet `json:"reply,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

type ReplySnippet struct {
	Content        string `json:"content"`
	SenderUsername string `json:"sender_username"`
}

// NewMessage is what a sender provides; everything else is filled in at
// insertion time.
type NewMessage struct {
	ConversationID   int64
	SenderID         int64
	Content          string
	MessageType      string
	FileURL          *string
	ReplyToMessageID *int64
}

type MessageStatus struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
