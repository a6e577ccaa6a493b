// Package credentials supplies the bearer token and the identity of the
// current user. Token issuance and refresh belong to the session layer.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned when a token carries no usable user claims.
var ErrNoIdentity = errors.New("token has no user identity")

// TokenSource returns the current bearer token. An empty token means anonymous.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a token source holding one token that may be replaced, e.g. after login.
type Static struct {
	mu    sync.RWMutex
	token string
}

// NewStatic returns a source for token.
func NewStatic(token string) *Static {
	return &Static{token: token}
}

// Token implements TokenSource.
func (s *Static) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Set replaces the token.
func (s *Static) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Identity is the signed-in user as seen by the client.
type Identity struct {
	UserID   string
	Username string
}

// Anonymous reports whether no user is signed in.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

type identityClaims struct {
	UserID   any    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseIdentity reads the user claims from token without verifying the
// signature; the server verifies it on every request.
func ParseIdentity(token string) (Identity, error) {
	if token == "" {
		return Identity{}, nil
	}
	var claims identityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	id := Identity{Username: claims.Username}
	switch v := claims.UserID.(type) {
	case string:
		id.UserID = v
	case float64:
		id.UserID = strconv.FormatInt(int64(v), 10)
	}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}
