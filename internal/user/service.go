package user

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"go-messenger/internal/apperr"
	"go-messenger/internal/middleware"
)

// Repo is what the service needs from persistence.
type Repo interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error)
	SetOnline(ctx context.Context, userID int64, online bool) error
	TouchLastActive(ctx context.Context, userID int64) error
}

type Service struct {
	repo      Repo
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Repo, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	u := &User{
		Username:    req.Username,
		DisplayName: displayName,
		Password:    string(hashedPwd),
		PublicKey:   newPublicKeyPlaceholder(),
	}

	created, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	created.Password = ""
	return created, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, apperr.ErrAuthentication
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.ErrAuthentication
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-messenger",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	// Best effort; a failed touch shouldn't fail the login.
	_ = s.repo.TouchLastActive(ctx, u.ID)

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (middleware.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return middleware.Identity{}, apperr.ErrAuthentication
	}
	return middleware.Identity{UserID: claims.ID, Username: claims.Username}, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string, excludeID int64) ([]User, error) {
	return s.repo.SearchUsers(ctx, query, excludeID)
}

func (s *Service) Me(ctx context.Context, userID int64) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return u, nil
}

func (s *Service) TouchLastActive(ctx context.Context, userID int64) error {
	return s.repo.TouchLastActive(ctx, userID)
}

// newPublicKeyPlaceholder mints the opaque per-user key material the data
// model carries. Not cryptography; just a stable random identifier.
func newPublicKeyPlaceholder() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}
