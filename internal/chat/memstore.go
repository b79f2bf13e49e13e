package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-messenger/internal/apperr"
)

// MemStore keeps the whole Store contract in process memory. It backs the
// tests and single-node runs without postgres; all invariants (pair
// uniqueness, monotonic status, participant dedupe) are enforced the same
// way the SQL backing enforces them.
type MemStore struct {
	mu sync.Mutex

	nextConvID int64
	nextMsgID  int64

	users         map[int64]memUser
	conversations map[int64]*Conversation
	pairIndex     map[string]int64 // privatePairKey -> conversation id
	participants  map[int64][]Participant
	messages      map[int64]*Message          // by message id
	byConv        map[int64][]int64           // conversation id -> ordered message ids
	statuses      map[[2]int64]*MessageStatus // (message, user)
}

type memUser struct {
	username    string
	displayName string
	isOnline    bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextConvID:    1,
		nextMsgID:     1,
		users:         make(map[int64]memUser),
		conversations: make(map[int64]*Conversation),
		pairIndex:     make(map[string]int64),
		participants:  make(map[int64][]Participant),
		messages:      make(map[int64]*Message),
		byConv:        make(map[int64][]int64),
		statuses:      make(map[[2]int64]*MessageStatus),
	}
}

var _ Store = (*MemStore)(nil)

// SeedUser registers a user so joined message rows can carry display fields.
func (s *MemStore) SeedUser(id int64, username, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = memUser{username: username, displayName: displayName}
}

func (s *MemStore) SetUserOnline(id int64, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.isOnline = online
	s.users[id] = u
}

func (s *MemStore) CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pairKey string
	if conv.Type == ConversationPrivate && len(participants) == 2 {
		pairKey = privatePairKey(participants[0].UserID, participants[1].UserID)
		if id, ok := s.pairIndex[pairKey]; ok {
			return s.conversations[id], false, nil
		}
	}

	for _, p := range participants {
		if _, ok := s.users[p.UserID]; !ok {
			return nil, false, apperr.NotFoundf("participant user %d", p.UserID)
		}
	}

	c := *conv
	c.ID = s.nextConvID
	s.nextConvID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.conversations[c.ID] = &c
	if pairKey != "" {
		s.pairIndex[pairKey] = c.ID
	}

	seen := make(map[int64]bool)
	for _, p := range participants {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		p.ConversationID = c.ID
		p.JoinedAt = time.Now()
		s.participants[c.ID] = append(s.participants[c.ID], p)
	}
	return &c, true, nil
}

func (s *MemStore) FindPrivateConversationBetween(ctx context.Context, a, b int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pairIndex[privatePairKey(a, b)]; ok {
		return s.conversations[id], nil
	}
	return nil, apperr.NotFoundf("private conversation between %d and %d", a, b)
}

func (s *MemStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return c, nil
	}
	return nil, apperr.NotFoundf("conversation %d", id)
}

func (s *MemStore) AddParticipant(ctx context.Context, conversationID, userID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return apperr.NotFoundf("conversation %d", conversationID)
	}
	if _, ok := s.users[userID]; !ok {
		return apperr.NotFoundf("user %d", userID)
	}
	for _, p := range s.participants[conversationID] {
		if p.UserID == userID {
			return apperr.Conflictf("user %d already in conversation %d", userID, conversationID)
		}
	}
	s.participants[conversationID] = append(s.participants[conversationID], Participant{
		ConversationID: conversationID, UserID: userID, Role: role, JoinedAt: time.Now(),
	})
	return nil
}

func (s *MemStore) ListConversationsForUser(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ConversationSummary
	for id, c := range s.conversations {
		var mine bool
		for _, p := range s.participants[id] {
			if p.UserID == userID {
				mine = true
				break
			}
		}
		if !mine {
			continue
		}

		sum := ConversationSummary{Conversation: *c}
		if c.Type == ConversationPrivate {
			for _, p := range s.participants[id] {
				if p.UserID != userID {
					u := s.users[p.UserID]
					sum.OtherUserID = p.UserID
					sum.OtherUsername = u.username
					sum.OtherDisplayName = u.displayName
					sum.OtherIsOnline = u.isOnline
				}
			}
		}
		if ids := s.byConv[id]; len(ids) > 0 {
			last := s.messages[ids[len(ids)-1]]
			sum.LastMessage = last.Content
			t := last.CreatedAt
			sum.LastMessageTime = &t
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if out[i].LastMessageTime != nil {
			ti = *out[i].LastMessageTime
		}
		if out[j].LastMessageTime != nil {
			tj = *out[j].LastMessageTime
		}
		if ti.Equal(tj) {
			return out[i].ID > out[j].ID
		}
		return ti.After(tj)
	})
	return out, nil
}

func (s *MemStore) ConversationIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := range s.conversations {
		for _, p := range s.participants[id] {
			if p.UserID == userID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemStore) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, p := range s.participants[conversationID] {
		ids = append(ids, p.UserID)
	}
	return ids, nil
}

func (s *MemStore) InsertMessage(ctx context.Context, nm *NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[nm.ConversationID]; !ok {
		return nil, apperr.NotFoundf("conversation %d", nm.ConversationID)
	}
	sender, ok := s.users[nm.SenderID]
	if !ok {
		return nil, apperr.NotFoundf("sender %d", nm.SenderID)
	}

	m := &Message{
		ID:                s.nextMsgID,
		ConversationID:    nm.ConversationID,
		SenderID:          nm.SenderID,
		SenderUsername:    sender.username,
		SenderDisplayName: sender.displayName,
		Content:           nm.Content,
		MessageType:       nm.MessageType,
		FileURL:           nm.FileURL,
		CreatedAt:         time.Now(),
	}
	if nm.ReplyToMessageID != nil {
		target, ok := s.messages[*nm.ReplyToMessageID]
		if !ok {
			return nil, apperr.NotFoundf("reply target %d", *nm.ReplyToMessageID)
		}
		id := *nm.ReplyToMessageID
		m.ReplyToMessageID = &id
		m.Reply = &ReplySnippet{Content: target.Content, SenderUsername: target.SenderUsername}
	}
	s.nextMsgID++
	s.messages[m.ID] = m
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return m, nil
}

func (s *MemStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return m, nil
	}
	return nil, apperr.NotFoundf("message %d", id)
}

func (s *MemStore) ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byConv[conversationID]
	// ids are oldest-first; page 1 is the newest pageSize of them.
	end := len(ids) - (page-1)*pageSize
	if end <= 0 {
		return nil, nil
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	out := make([]Message, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, *s.messages[id])
	}
	return out, nil
}

func (s *MemStore) CreateMessageStatuses(ctx context.Context, messageID int64, recipientIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return apperr.NotFoundf("message %d", messageID)
	}
	for _, uid := range recipientIDs {
		key := [2]int64{messageID, uid}
		if _, ok := s.statuses[key]; !ok {
			s.statuses[key] = &MessageStatus{
				MessageID: messageID, UserID: uid, Status: StatusSent, UpdatedAt: time.Now(),
			}
		}
	}
	return nil
}

func (s *MemStore) UpsertMessageStatus(ctx context.Context, messageID, userID int64, status string) error {
	if statusRank(status) == 0 {
		return apperr.InvalidArgumentf("unknown status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return apperr.NotFoundf("message %d", messageID)
	}
	key := [2]int64{messageID, userID}
	cur, ok := s.statuses[key]
	if !ok {
		s.statuses[key] = &MessageStatus{MessageID: messageID, UserID: userID, Status: status, UpdatedAt: time.Now()}
		return nil
	}
	if statusRank(status) > statusRank(cur.Status) {
		cur.Status = status
		cur.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemStore) MarkAllSentDelivered(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, st := range s.statuses {
		if st.UserID == userID && st.Status == StatusSent {
			st.Status = StatusDelivered
			st.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GetMessageStatus(ctx context.Context, messageID, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[[2]int64{messageID, userID}]; ok {
		return st.Status, nil
	}
	return "", apperr.NotFoundf("status for message %d user %d", messageID, userID)
}
