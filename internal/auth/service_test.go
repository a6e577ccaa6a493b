package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engly817chat/engly-client/internal/client/credentials"
	"github.com/engly817chat/engly-client/internal/store/sqlite"
)

var testJWT = &JWTConfig{
	Secret:   []byte("test-secret-change-me"),
	Issuer:   "test",
	Audience: "test",
	TTL:      24 * time.Hour,
}

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st, testJWT)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ab", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}

	// Should be validated after trimming whitespace.
	if _, err := svc.Register(ctx, " ab ", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "abc", "12345"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, " alice ", "password123")
	if err != nil {
		t.Fatalf("expected registration success, got %v", err)
	}
	if sess.Token == "" || sess.Username != "alice" || sess.UserID == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		t.Fatalf("session already expired: %v", sess.ExpiresAt)
	}

	// Should collide because the stored username is trimmed.
	if _, err := svc.Register(ctx, "alice", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	sess, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateToken(sess.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "alice" || claims.UserID == "" || claims.Subject != claims.UserID {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_RejectsForeignTokens(t *testing.T) {
	token, err := GenerateToken(testJWT, "u1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name string
		cfg  *JWTConfig
	}{
		{name: "wrong secret", cfg: &JWTConfig{Secret: []byte("other"), Issuer: "test", Audience: "test"}},
		{name: "wrong issuer", cfg: &JWTConfig{Secret: testJWT.Secret, Issuer: "other", Audience: "test"}},
		{name: "wrong audience", cfg: &JWTConfig{Secret: testJWT.Secret, Issuer: "test", Audience: "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.cfg, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	expired := *testJWT
	expired.TTL = -time.Minute
	old, err := GenerateToken(&expired, "u1", "alice")
	if err != nil {
		t.Fatalf("generate expired: %v", err)
	}
	if _, err := ValidateToken(testJWT, old); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestTokenIdentityRoundTrip(t *testing.T) {
	token, err := GenerateToken(testJWT, "u-42", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id, err := credentials.ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if id.UserID != "u-42" || id.Username != "alice" {
		t.Fatalf("identity = %+v", id)
	}
}
