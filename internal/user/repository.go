package user

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

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	query := `INSERT INTO users (username, display_name, password, public_key)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id, created_at, last_active`

	err := r.db.QueryRowContext(ctx, query, u.Username, u.DisplayName, u.Password, u.PublicKey).
		Scan(&u.ID, &u.CreatedAt, &u.LastActive)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.Conflictf("username %q already taken", u.Username)
		}
		return nil, apperr.Storage("create user", err)
	}
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := `SELECT id, username, display_name, password, public_key, is_online, last_active, created_at
	          FROM users WHERE username = $1`

	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Password, &u.PublicKey, &u.IsOnline, &u.LastActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundf("user %q", username)
		}
		return nil, apperr.Storage("get user by username", err)
	}
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	query := `SELECT id, username, display_name, password, public_key, is_online, last_active, created_at
	          FROM users WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Password, &u.PublicKey, &u.IsOnline, &u.LastActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFoundf("user %d", id)
		}
		return nil, apperr.Storage("get user by id", err)
	}
	return u, nil
}

// SearchUsers matches handle or display name, excluding the caller.
// Limited to 10 to keep it fast.
func (r *Repository) SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error) {
	q := `SELECT id, username, display_name, is_online, last_active
	      FROM users
	      WHERE (username ILIKE $1 OR display_name ILIKE $1) AND id != $2
	      ORDER BY username
	      LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, apperr.Storage("search users", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsOnline, &u.LastActive); err != nil {
			return nil, apperr.Storage("scan user row", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetOnline updates the derived is_online cache. Presence owns the truth;
// this column only exists so conversation lists can show a dot without a
// round trip to the tracker.
func (r *Repository) SetOnline(ctx context.Context, userID int64, online bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online = $1, last_active = NOW() WHERE id = $2`, online, userID)
	if err != nil {
		return apperr.Storage("set online", err)
	}
	return nil
}

func (r *Repository) TouchLastActive(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_active = NOW() WHERE id = $1`, userID)
	if err != nil {
		return apperr.Storage("touch last active", err)
	}
	return nil
}
