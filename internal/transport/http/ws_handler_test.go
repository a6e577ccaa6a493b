package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/engly817chat/engly-client/internal/config"
	"github.com/engly817chat/engly-client/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := stdhttp.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != stdhttp.StatusOK || string(body) != "ok" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestWebSocketSubscribeAndSend(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := env.connect(t, ctx, env.register(t, "alice"))
	bob := env.connect(t, ctx, env.register(t, "bob"))

	writeFrame(t, ctx, bob, proto.Frame{Command: proto.CommandSubscribe, ID: "sub-1", Destination: proto.RoomTopic("general")})
	awaitProcessed(t, ctx, bob)

	writeFrame(t, ctx, alice, sendFrame(t, proto.DestinationMessageSend, proto.SendMessageBody{RoomID: "general", Content: "hi bob"}))

	f := readFrame(t, ctx, bob)
	if f.Command != proto.CommandMessage || f.Subscription != "sub-1" || f.Destination != proto.RoomTopic("general") {
		t.Fatalf("unexpected frame: %+v", f)
	}
	ev, err := proto.Decode(f.Body, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := ev.(proto.MessageSent).Message
	if msg.Content != "hi bob" || msg.AuthorName != "alice" || msg.RoomID != "general" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	n, err := env.store.CountMessages(ctx, "general")
	if err != nil || n != 1 {
		t.Fatalf("persisted count = %d, %v", n, err)
	}
}

func TestWebSocketUnknownCommand(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.connect(t, ctx, env.register(t, "alice"))

	writeFrame(t, ctx, conn, proto.Frame{Command: "BEGIN"})
	expectError(t, ctx, conn, "bad_request")

	writeFrame(t, ctx, conn, sendFrame(t, "/app/chat/nowhere", map[string]string{}))
	expectError(t, ctx, conn, "unknown_destination")
}

func TestWebSocketDisconnectClosesNormally(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.connect(t, ctx, env.register(t, "alice"))
	writeFrame(t, ctx, conn, proto.Frame{Command: proto.CommandDisconnect})

	var f proto.Frame
	err := wsjson.Read(ctx, conn, &f)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestWebSocketSendRateLimit(t *testing.T) {
	env := startTestServer(t, func(cfg *config.ServerConfig) { cfg.SendRateLimit = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.connect(t, ctx, env.register(t, "alice"))
	writeFrame(t, ctx, conn, proto.Frame{Command: proto.CommandSubscribe, ID: "s", Destination: proto.RoomTopic("general")})
	awaitProcessed(t, ctx, conn)

	writeFrame(t, ctx, conn, sendFrame(t, proto.DestinationUserTyping, proto.TypingBody{RoomID: "general", IsTyping: true}))
	if f := readFrame(t, ctx, conn); f.Command != proto.CommandMessage {
		t.Fatalf("first send should pass, got %+v", f)
	}

	writeFrame(t, ctx, conn, sendFrame(t, proto.DestinationUserTyping, proto.TypingBody{RoomID: "general", IsTyping: false}))
	expectError(t, ctx, conn, "rate_limited")
}

func TestWebSocketHandshakeRequiresConnect(t *testing.T) {
	env := startTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, nil)
	writeFrame(t, ctx, conn, proto.Frame{Command: proto.CommandSubscribe, ID: "s", Destination: proto.RoomTopic("general")})
	expectError(t, ctx, conn, "bad_request")

	var f proto.Frame
	err := wsjson.Read(ctx, conn, &f)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected close after failed handshake, got %v", err)
	}
}
