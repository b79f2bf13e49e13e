package user

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-messenger/internal/apperr"
)

type fakeRepo struct {
	nextID  int64
	byName  map[string]*User
	touched int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{nextID: 1, byName: make(map[string]*User)}
}

func (r *fakeRepo) CreateUser(ctx context.Context, u *User) (*User, error) {
	if _, ok := r.byName[u.Username]; ok {
		return nil, apperr.Conflictf("username %q already taken", u.Username)
	}
	u.ID = r.nextID
	r.nextID++
	u.CreatedAt = time.Now()
	u.LastActive = u.CreatedAt
	stored := *u
	r.byName[u.Username] = &stored
	return u, nil
}

func (r *fakeRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	if u, ok := r.byName[username]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, apperr.NotFoundf("user %q", username)
}

func (r *fakeRepo) GetUserByID(ctx context.Context, id int64) (*User, error) {
	for _, u := range r.byName {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFoundf("user %d", id)
}

func (r *fakeRepo) SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error) {
	var out []User
	for _, u := range r.byName {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(u.Username, query) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetOnline(ctx context.Context, userID int64, online bool) error {
	for _, u := range r.byName {
		if u.ID == userID {
			u.IsOnline = online
		}
	}
	return nil
}

func (r *fakeRepo) TouchLastActive(ctx context.Context, userID int64) error {
	r.touched++
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, "test-secret", time.Hour), repo
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, repo := newTestService()

	u, err := svc.Register(context.Background(), &RegisterRequest{Username: "alice", Password: "hunter22hunter"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice", u.DisplayName, "display name falls back to the handle")
	assert.NotEmpty(t, u.PublicKey)
	assert.Empty(t, u.Password, "hash never leaves the service")

	stored := repo.byName["alice"]
	assert.NotEqual(t, "hunter22hunter", stored.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("hunter22hunter")))
}

func TestRegisterDuplicateHandle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "hunter22hunter"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "otherpassword"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", DisplayName: "Alice", Password: "hunter22hunter"})
	require.NoError(t, err)

	res, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "hunter22hunter"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "Alice", res.DisplayName)
	assert.Equal(t, 1, repo.touched)

	ident, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.ID, ident.UserID)
	assert.Equal(t, "alice", ident.Username)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Password: "hunter22hunter"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong"})
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	_, err = svc.Login(ctx, &LoginRequest{Username: "nobody", Password: "hunter22hunter"})
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)

	// A token signed with another secret is rejected too.
	other := NewService(newFakeRepo(), "other-secret", time.Hour)
	_, err = other.Register(context.Background(), &RegisterRequest{Username: "eve", Password: "hunter22hunter"})
	require.NoError(t, err)
	res, err := other.Login(context.Background(), &LoginRequest{Username: "eve", Password: "hunter22hunter"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(res.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
}
