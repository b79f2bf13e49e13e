package chat

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"go-messenger/internal/apperr"
)

// Service owns the conversation and message rules: idempotent private
// creation, participant-only access, reply scoping and pagination bounds.
type Service struct {
	store           Store
	log             zerolog.Logger
	pageSizeDefault int
	pageSizeMax     int
}

func NewService(store Store, log zerolog.Logger, pageSizeDefault, pageSizeMax int) *Service {
	return &Service{
		store:           store,
		log:             log.With().Str("component", "chat.service").Logger(),
		pageSizeDefault: pageSizeDefault,
		pageSizeMax:     pageSizeMax,
	}
}

// CreateConversation creates a conversation with the caller plus the given
// participants. For a private conversation with one other user, an existing
// conversation between the pair is returned as-is with created=false;
// calling twice never yields two rows.
func (s *Service) CreateConversation(ctx context.Context, creatorID int64, typ string, participantIDs []int64, name, description string) (*Conversation, bool, error) {
	if len(participantIDs) == 0 {
		return nil, false, apperr.InvalidArgumentf("participant list is empty")
	}

	switch typ {
	case ConversationPrivate:
		if len(participantIDs) != 1 {
			return nil, false, apperr.InvalidArgumentf("private conversation needs exactly one other participant, got %d", len(participantIDs))
		}
		if participantIDs[0] == creatorID {
			return nil, false, apperr.InvalidArgumentf("cannot start a private conversation with yourself")
		}
		existing, err := s.store.FindPrivateConversationBetween(ctx, creatorID, participantIDs[0])
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, false, err
		}
	case ConversationGroup:
	default:
		return nil, false, apperr.InvalidArgumentf("unknown conversation type %q", typ)
	}

	creatorRole := RoleMember
	if typ == ConversationGroup {
		creatorRole = RoleAdmin
	}

	participants := []Participant{{UserID: creatorID, Role: creatorRole}}
	seen := map[int64]bool{creatorID: true}
	for _, id := range participantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		participants = append(participants, Participant{UserID: id, Role: RoleMember})
	}

	conv := &Conversation{
		Type:        typ,
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
	}
	result, created, err := s.store.CreateConversation(ctx, conv, participants)
	if err != nil {
		return nil, false, err
	}

	s.log.Debug().Int64("conversation_id", result.ID).Str("type", typ).Bool("created", created).Msg("conversation ready")
	return result, created, nil
}

func (s *Service) ListConversations(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	return s.store.ListConversationsForUser(ctx, userID)
}

func (s *Service) ConversationIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	return s.store.ConversationIDsForUser(ctx, userID)
}

// PostMessage persists a message and seeds one 'sent' status row per other
// participant. The second return value is those recipients, for the delivery
// tracker. Non-participants get ErrAccessDenied; a reply target outside the
// conversation is ErrInvalidArgument.
func (s *Service) PostMessage(ctx context.Context, conversationID, senderID int64, content, messageType string, fileURL *string, replyTo *int64) (*Message, []int64, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.AccessDeniedf("user %d is not in conversation %d", senderID, conversationID)
	}

	if replyTo != nil {
		target, err := s.store.GetMessage(ctx, *replyTo)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, nil, apperr.InvalidArgumentf("reply target %d does not exist", *replyTo)
			}
			return nil, nil, err
		}
		if target.ConversationID != conversationID {
			return nil, nil, apperr.InvalidArgumentf("reply target %d belongs to another conversation", *replyTo)
		}
	}

	if messageType == "" {
		messageType = MessageTypeText
	}

	msg, err := s.store.InsertMessage(ctx, &NewMessage{
		ConversationID:   conversationID,
		SenderID:         senderID,
		Content:          content,
		MessageType:      messageType,
		FileURL:          fileURL,
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		return nil, nil, err
	}

	participantIDs, err := s.store.ListParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	recipients := make([]int64, 0, len(participantIDs)-1)
	for _, id := range participantIDs {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}

	if err := s.store.CreateMessageStatuses(ctx, msg.ID, recipients); err != nil {
		return nil, nil, err
	}

	return msg, recipients, nil
}

// ListMessages returns the requested page (1-based, newest page first), with
// the returned slice ordered oldest-first so clients can append-render.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID int64, page, pageSize int) ([]Message, error) {
	ok, err := s.store.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.AccessDeniedf("user %d is not in conversation %d", requesterID, conversationID)
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSizeDefault
	}
	if pageSize > s.pageSizeMax {
		pageSize = s.pageSizeMax
	}

	return s.store.ListMessages(ctx, conversationID, page, pageSize)
}

// MarkRead advances the reader's status on the message to 'read'. Already
// read is a silent no-op; the sender marking their own message is too. The
// message is returned so the caller can address the broadcast.
func (s *Service) MarkRead(ctx context.Context, messageID, userID int64) (*Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.AccessDeniedf("user %d is not in conversation %d", userID, msg.ConversationID)
	}

	if msg.SenderID == userID {
		return msg, nil
	}

	if err := s.store.UpsertMessageStatus(ctx, messageID, userID, StatusRead); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	return s.store.IsParticipant(ctx, conversationID, userID)
}

func (s *Service) ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return s.store.ListParticipantIDs(ctx, conversationID)
}
