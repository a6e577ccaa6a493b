package http

import (
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/auth"
	"github.com/engly817chat/engly-client/internal/broker"
	"github.com/engly817chat/engly-client/internal/config"
	"github.com/engly817chat/engly-client/internal/proto"
	"github.com/engly817chat/engly-client/internal/store"
	"github.com/engly817chat/engly-client/internal/store/sqlite"
)

const testSecret = "test-secret"

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	auth  *auth.Service
}

func startTestServer(t *testing.T, mutate func(*config.ServerConfig)) *testEnv {
	t.Helper()

	cfg := config.Default().Server
	if mutate != nil {
		mutate(&cfg)
	}

	st := createTestStore(t)
	authService := createTestAuthService(t, st, testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	hub := broker.NewHub(st, nil, nil)
	go hub.Run(ctx)

	disabledLogger := zerolog.Nop()
	server := NewServer(hub, st, authService, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, store: st, auth: authService}
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/chat"
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	sess, err := e.auth.Register(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return sess.Token
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, header stdhttp.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// connect dials and completes the handshake with token.
func (e *testEnv) connect(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, ctx, nil)
	writeFrame(t, ctx, conn, proto.Frame{Command: proto.CommandConnect, Token: token, Protocol: proto.ProtocolVersion})
	if f := readFrame(t, ctx, conn); f.Command != proto.CommandConnected {
		t.Fatalf("expected CONNECTED, got %+v", f)
	}
	return conn
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, f proto.Frame) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		t.Fatalf("write %s: %v", f.Command, err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Frame {
	t.Helper()
	var f proto.Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func sendFrame(t *testing.T, destination string, body any) proto.Frame {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return proto.Frame{Command: proto.CommandSend, Destination: destination, Body: raw}
}

func expectError(t *testing.T, ctx context.Context, conn *websocket.Conn, code string) {
	t.Helper()
	f := readFrame(t, ctx, conn)
	if f.Command != proto.CommandError || f.Error == nil || f.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, f)
	}
}

// awaitProcessed waits until the server has processed every frame written before it.
func awaitProcessed(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()
	writeFrame(t, ctx, conn, proto.Frame{Command: proto.CommandUnsubscribe, ID: "sync"})
	expectError(t, ctx, conn, "not_subscribed")
}
