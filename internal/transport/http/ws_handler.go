package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/auth"
	"github.com/engly817chat/engly-client/internal/broker"
	"github.com/engly817chat/engly-client/internal/config"
	"github.com/engly817chat/engly-client/internal/core"
	"github.com/engly817chat/engly-client/internal/proto"
)

const (
	handshakeTimeout = 10 * time.Second
	sendRateWindow   = time.Minute
)

// errClientDisconnect ends a connection after a DISCONNECT frame.
var errClientDisconnect = errors.New("client disconnected")

// WSHandler upgrades HTTP connections and bridges them to broker clients.
type WSHandler struct {
	hub  *broker.Hub
	auth *auth.Service
	cfg  *config.ServerConfig
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *broker.Hub, authService *auth.Service, cfg *config.ServerConfig, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, auth: authService, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client, err := h.handshake(ctx, conn, r.Header.Get("Authorization"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errClientDisconnect) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for CONNECT, authenticates it and answers CONNECTED.
// The token may come from the frame or the upgrade request header.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn, authHeader string) (*broker.Client, error) {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var f proto.Frame
	if err := wsjson.Read(hctx, conn, &f); err != nil {
		return nil, err
	}
	if f.Command != proto.CommandConnect {
		return nil, h.refuse(hctx, conn, core.ErrCodeBadRequest, "expected CONNECT")
	}
	if f.Protocol != 0 && f.Protocol != proto.ProtocolVersion {
		return nil, h.refuse(hctx, conn, core.ErrCodeUnsupportedVersion, "unsupported protocol version")
	}

	token := f.Token
	if token == "" {
		headerToken, ok := bearerToken(authHeader)
		if !ok {
			return nil, h.refuse(hctx, conn, core.ErrCodeUnauthorized, "invalid authorization header format")
		}
		token = headerToken
	}

	clientID := uuid.NewString()
	var client *broker.Client
	switch {
	case token != "":
		claims, err := h.auth.ValidateToken(token)
		if err != nil {
			return nil, h.refuse(hctx, conn, core.ErrCodeUnauthorized, "invalid token")
		}
		client = broker.NewClient(clientID, claims.UserID, claims.Username)
	case h.cfg.AllowAnonymous:
		client = broker.NewClient(clientID, "", "")
	default:
		return nil, h.refuse(hctx, conn, core.ErrCodeUnauthorized, "token required")
	}

	if err := wsjson.Write(hctx, conn, proto.Frame{Command: proto.CommandConnected, User: client.Name}); err != nil {
		return nil, err
	}
	h.log.Debug().Str("client_id", client.ID).Str("user_id", client.UserID).Msg("ws client connected")
	return client, nil
}

func (h *WSHandler) refuse(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	if err := wsjson.Write(ctx, conn, errorFrame(code, msg)); err != nil {
		return err
	}
	return core.NewError(code, msg)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *broker.Client) error {
	limiter := newRateLimiter(h.cfg.SendRateLimit, sendRateWindow)
	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws frame")
			return err
		}

		if f.Command == proto.CommandDisconnect {
			return errClientDisconnect
		}

		cmd, protoErr := frameToCommand(f)
		if protoErr == nil && cmd.Kind == broker.CommandSend && !limiter.allow() {
			protoErr = &proto.Error{Code: core.ErrCodeRateLimited, Msg: "too many messages"}
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Frame{Command: proto.CommandError, Error: protoErr}); writeErr != nil {
				return writeErr
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *broker.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, frameFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
