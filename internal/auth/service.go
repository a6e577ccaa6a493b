package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engly817chat/engly-client/internal/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Session is an issued bearer token and the user it identifies.
type Session struct {
	Token     string
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Service registers users and issues tokens for them.
type Service struct {
	users     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(users store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{users: users, jwtConfig: jwtConfig}
}

// Register creates an account and signs it in. The username is trimmed.
func (s *Service) Register(ctx context.Context, username, password string) (*Session, error) {
	username, err := checkCredentials(username, password)
	if err != nil {
		return nil, err
	}

	switch _, err := s.users.GetUserByUsername(ctx, username); {
	case err == nil:
		return nil, ErrUserExists
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := s.users.CreateUser(ctx, username, hash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.issue(user)
}

// Login checks the password of an existing account and signs it in.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// ValidateToken validates a token and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

func (s *Service) issue(user *store.User) (*Session, error) {
	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		ExpiresAt: time.Now().Add(s.jwtConfig.TTL).UTC().Truncate(time.Second),
	}, nil
}

func checkCredentials(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if n := len(username); n < minUsernameLen || n > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	if len(password) < minPasswordLen {
		return "", ErrInvalidPassword
	}
	return username, nil
}
