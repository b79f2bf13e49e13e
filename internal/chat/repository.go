package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"go-messenger/internal/apperr"
)

// Repository is the postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// privatePairKey builds the unordered-pair key backing the uniqueness
// constraint on private conversations.
func privatePairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *Repository) CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) (*Conversation, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Storage("begin tx", err)
	}
	defer tx.Rollback()

	var pairKey sql.NullString
	if conv.Type == ConversationPrivate && len(participants) == 2 {
		pairKey = sql.NullString{
			String: privatePairKey(participants[0].UserID, participants[1].UserID),
			Valid:  true,
		}
	}

	// DO NOTHING on the pair index turns a racing duplicate into zero rows;
	// we then fetch whichever conversation won.
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (type, name, description, created_by, private_pair)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		 ON CONFLICT (private_pair) DO NOTHING
		 RETURNING id, created_at`,
		conv.Type, conv.Name, conv.Description, conv.CreatedBy, pairKey,
	).Scan(&conv.ID, &conv.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		existing := &Conversation{}
		err = tx.QueryRowContext(ctx,
			`SELECT id, type, COALESCE(name, ''), COALESCE(description, ''), COALESCE(created_by, 0), created_at
			 FROM conversations WHERE private_pair = $1`, pairKey,
		).Scan(&existing.ID, &existing.Type, &existing.Name, &existing.Description, &existing.CreatedBy, &existing.CreatedAt)
		if err != nil {
			return nil, false, apperr.Storage("fetch existing private conversation", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, apperr.Storage("commit", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage("insert conversation", err)
	}

	for _, p := range participants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, role)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			conv.ID, p.UserID, p.Role)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, false, apperr.NotFoundf("participant user %d", p.UserID)
			}
			return nil, false, apperr.Storage("insert participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Storage("commit", err)
	}
	return conv, true, nil
}

func (r *Repository) FindPrivateConversationBetween(ctx context.Context, a, b int64) (*Conversation, error) {
	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, type, COALESCE(name, ''), COALESCE(description, ''), COALESCE(created_by, 0), created_at
		 FROM conversations WHERE private_pair = $1`, privatePairKey(a, b),
	).Scan(&conv.ID, &conv.Type, &conv.Name, &conv.Description, &conv.CreatedBy, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundf("private conversation between %d and %d", a, b)
		}
		return nil, apperr.Storage("find private conversation", err)
	}
	return conv, nil
}

func (r *Repository) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	conv := &Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, type, COALESCE(name, ''), COALESCE(description, ''), COALESCE(created_by, 0), created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.Type, &conv.Name, &conv.Description, &conv.CreatedBy, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundf("conversation %d", id)
		}
		return nil, apperr.Storage("get conversation", err)
	}
	return conv, nil
}

func (r *Repository) AddParticipant(ctx context.Context, conversationID, userID int64, role string) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID, role)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.NotFoundf("conversation %d or user %d", conversationID, userID)
		}
		return apperr.Storage("add participant", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Conflictf("user %d already in conversation %d", userID, conversationID)
	}
	return nil
}

func (r *Repository) ListConversationsForUser(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.type, COALESCE(c.name, ''), COALESCE(c.description, ''), COALESCE(c.created_by, 0), c.created_at,
		        COALESCE(ou.id, 0), COALESCE(ou.username, ''), COALESCE(ou.display_name, ''), COALESCE(ou.is_online, FALSE),
		        lm.content, lm.created_at
		 FROM conversations c
		 JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = $1
		 LEFT JOIN conversation_participants op
		        ON op.conversation_id = c.id AND op.user_id != $1 AND c.type = 'private'
		 LEFT JOIN users ou ON ou.id = op.user_id
		 LEFT JOIN LATERAL (
		     SELECT content, created_at FROM messages
		     WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1
		 ) lm ON TRUE
		 ORDER BY COALESCE(lm.created_at, c.created_at) DESC`, userID)
	if err != nil {
		return nil, apperr.Storage("list conversations", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var s ConversationSummary
		var lastMsg sql.NullString
		var lastTime sql.NullTime
		if err := rows.Scan(
			&s.ID, &s.Type, &s.Name, &s.Description, &s.CreatedBy, &s.CreatedAt,
			&s.OtherUserID, &s.OtherUsername, &s.OtherDisplayName, &s.OtherIsOnline,
			&lastMsg, &lastTime,
		); err != nil {
			return nil, apperr.Storage("scan conversation row", err)
		}
		if lastMsg.Valid {
			s.LastMessage = lastMsg.String
		}
		if lastTime.Valid {
			t := lastTime.Time
			s.LastMessageTime = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ConversationIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT conversation_id FROM conversation_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, apperr.Storage("conversation ids for user", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan conversation id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("is participant", err)
	}
	return true, nil
}

func (r *Repository) ListParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, apperr.Storage("list participant ids", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan participant id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, u.username, u.display_name,
	       m.content, m.message_type, m.file_url, m.reply_to_message_id,
	       rm.content, ru.username, m.created_at
	FROM messages m
	JOIN users u ON m.sender_id = u.id
	LEFT JOIN messages rm ON m.reply_to_message_id = rm.id
	LEFT JOIN users ru ON rm.sender_id = ru.id`

func scanMessage(scan func(...any) error) (*Message, error) {
	m := &Message{}
	var fileURL sql.NullString
	var replyTo sql.NullInt64
	var replyContent, replyUsername sql.NullString
	err := scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.SenderDisplayName,
		&m.Content, &m.MessageType, &fileURL, &replyTo,
		&replyContent, &replyUsername, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fileURL.Valid {
		m.FileURL = &fileURL.String
	}
	if replyTo.Valid {
		m.ReplyToMessageID = &replyTo.Int64
		if replyContent.Valid {
			m.Reply = &ReplySnippet{Content: replyContent.String, SenderUsername: replyUsername.String}
		}
	}
	return m, nil
}

func (r *Repository) InsertMessage(ctx context.Context, nm *NewMessage) (*Message, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, sender_id, content, message_type, file_url, reply_to_message_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		nm.ConversationID, nm.SenderID, nm.Content, nm.MessageType, nm.FileURL, nm.ReplyToMessageID,
	).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFoundf("conversation %d, sender %d or reply target", nm.ConversationID, nm.SenderID)
		}
		return nil, apperr.Storage("insert message", err)
	}
	return r.GetMessage(ctx, id)
}

func (r *Repository) GetMessage(ctx context.Context, id int64) (*Message, error) {
	row := r.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = $1`, id)
	m, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundf("message %d", id)
		}
		return nil, apperr.Storage("get message", err)
	}
	return m, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID int64, page, pageSize int) ([]Message, error) {
	offset := (page - 1) * pageSize
	rows, err := r.db.QueryContext(ctx,
		messageSelect+`
		 WHERE m.conversation_id = $1
		 ORDER BY m.id DESC
		 LIMIT $2 OFFSET $3`,
		conversationID, pageSize, offset)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, apperr.Storage("scan message row", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list messages", err)
	}

	// Page is fetched newest-first; clients want it oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Repository) CreateMessageStatuses(ctx context.Context, messageID int64, recipientIDs []int64) error {
	for _, uid := range recipientIDs {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO message_status (message_id, user_id, status)
			 VALUES ($1, $2, 'sent')
			 ON CONFLICT (message_id, user_id) DO NOTHING`,
			messageID, uid)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperr.NotFoundf("message %d or user %d", messageID, uid)
			}
			return apperr.Storage("create message status", err)
		}
	}
	return nil
}

func (r *Repository) UpsertMessageStatus(ctx context.Context, messageID, userID int64, status string) error {
	if statusRank(status) == 0 {
		return apperr.InvalidArgumentf("unknown status %q", status)
	}
	// The WHERE clause makes the upsert monotonic: equal or lower rank is a
	// no-op even when delivered/read race each other.
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_status (message_id, user_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO UPDATE
		 SET status = EXCLUDED.status, updated_at = NOW()
		 WHERE array_position(ARRAY['sent','delivered','read'], EXCLUDED.status)
		     > array_position(ARRAY['sent','delivered','read'], message_status.status)`,
		messageID, userID, status)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.NotFoundf("message %d or user %d", messageID, userID)
		}
		return apperr.Storage("upsert message status", err)
	}
	return nil
}

func (r *Repository) MarkAllSentDelivered(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE message_status SET status = 'delivered', updated_at = NOW()
		 WHERE user_id = $1 AND status = 'sent'`, userID)
	if err != nil {
		return 0, apperr.Storage("mark sent delivered", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repository) GetMessageStatus(ctx context.Context, messageID, userID int64) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM message_status WHERE message_id = $1 AND user_id = $2`,
		messageID, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.NotFoundf("status for message %d user %d", messageID, userID)
		}
		return "", apperr.Storage("get message status", err)
	}
	return status, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
