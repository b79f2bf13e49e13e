package story

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"go-messenger/internal/apperr"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertStory(ctx context.Context, s *Story) (*Story, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO stories (user_id, content, story_type, file_url, background_color, expires_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		 RETURNING id, created_at`,
		s.UserID, s.Content, s.StoryType, s.FileURL, s.BackgroundColor, s.ExpiresAt,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, apperr.NotFoundf("user %d", s.UserID)
		}
		return nil, apperr.Storage("insert story", err)
	}
	return s, nil
}

// ListUnexpired returns every story still inside its 24h window, newest
// first, with the viewer's own view state. Expiry is lazy: expired rows are
// simply never selected, there is no reaper.
func (r *Repository) ListUnexpired(ctx context.Context, viewerID int64) ([]Story, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, u.username, u.display_name, COALESCE(s.content, ''),
		        s.story_type, s.file_url, s.background_color, s.created_at, s.expires_at,
		        (SELECT COUNT(*) FROM story_views v WHERE v.story_id = s.id),
		        EXISTS (SELECT 1 FROM story_views v WHERE v.story_id = s.id AND v.viewer_id = $1)
		 FROM stories s
		 JOIN users u ON s.user_id = u.id
		 WHERE s.expires_at > NOW()
		 ORDER BY s.created_at DESC`, viewerID)
	if err != nil {
		return nil, apperr.Storage("list stories", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		var s Story
		var fileURL, bgColor sql.NullString
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Username, &s.DisplayName, &s.Content,
			&s.StoryType, &fileURL, &bgColor, &s.CreatedAt, &s.ExpiresAt,
			&s.ViewCount, &s.ViewedByMe,
		); err != nil {
			return nil, apperr.Storage("scan story row", err)
		}
		if fileURL.Valid {
			s.FileURL = &fileURL.String
		}
		if bgColor.Valid {
			s.BackgroundColor = &bgColor.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkViewed records that the viewer saw the story. Viewing twice is a
// no-op; a missing or expired story is ErrNotFound.
func (r *Repository) MarkViewed(ctx context.Context, storyID, viewerID int64) error {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM stories WHERE id = $1 AND expires_at > NOW()`, storyID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("story %d", storyID)
	}
	if err != nil {
		return apperr.Storage("check story", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO story_views (story_id, viewer_id)
		 VALUES ($1, $2)
		 ON CONFLICT (story_id, viewer_id) DO NOTHING`,
		storyID, viewerID)
	if err != nil {
		return apperr.Storage("mark story viewed", err)
	}
	return nil
}
