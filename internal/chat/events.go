package chat

import "encoding/json"

// Server -> client event types.
const (
	EventNewMessage          = "new_message"
	EventMessageRead         = "message_read"
	EventUserTyping          = "user_typing"
	EventUserStopTyping      = "user_stop_typing"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventConversationCreated = "conversation_created"
	EventError               = "error"
)

// Client -> server frame types.
const (
	FrameSendMessage = "send_message"
	FrameMarkRead    = "mark_read"
	FrameTypingStart = "typing_start"
	FrameTypingStop  = "typing_stop"
)

// Event is the wire envelope in both directions.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientFrame keeps the payload raw until the type is known.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type SendMessagePayload struct {
	ConversationID   int64   `json:"conversation_id" validate:"required,gt=0"`
	Content          string  `json:"content" validate:"required,max=4096"`
	MessageType      string  `json:"message_type" validate:"omitempty,oneof=text image file"`
	FileURL          *string `json:"file_url,omitempty"`
	ReplyToMessageID *int64  `json:"reply_to_message_id,omitempty"`
}

type MarkReadPayload struct {
	MessageID      int64 `json:"message_id" validate:"required,gt=0"`
	ConversationID int64 `json:"conversation_id"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversation_id" validate:"required,gt=0"`
}

type NewMessageData struct {
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message"`
}

type MessageReadData struct {
	MessageID int64 `json:"message_id"`
	UserID    int64 `json:"user_id"`
}

type TypingData struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
}

type PresenceData struct {
	UserID int64 `json:"user_id"`
}

type ConversationCreatedData struct {
	Conversation   *Conversation `json:"conversation"`
	ParticipantIDs []int64       `json:"participant_ids"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is what travels over the shared redis channel so every gateway
// instance can fan out to its own sockets. ConversationID 0 addresses every
// connected client; SkipUserID suppresses echo for typing indicators.
type envelope struct {
	ConversationID int64 `json:"conversation_id"`
	SkipUserID     int64 `json:"skip_user_id,omitempty"`
	Event          Event `json:"event"`
}
