// Package realtime maintains the duplex channel for one room: handshake,
// topic subscription, inbound dispatch, fire-and-forget publishes, heartbeats
// and fixed-delay reconnects.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/engly817chat/engly-client/internal/client/credentials"
	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/proto"
)

const (
	// DefaultReconnectDelay is the fixed wait between reconnect attempts.
	DefaultReconnectDelay = 8 * time.Second
	// DefaultHeartbeatInterval is how often the client pings the server.
	DefaultHeartbeatInterval = 10 * time.Second

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	readLimit        = 1 << 20
)

// Dispatcher receives decoded room events. Calls come from the session's read
// goroutine, one at a time.
type Dispatcher interface {
	OnMessage(msg core.Message)
	OnTyping(ev core.TypingEvent)
	OnRead(ev core.ReadEvent)
}

// Options configures a Session.
type Options struct {
	URL    string
	Tokens credentials.TokenSource

	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive failed attempts; 0 retries forever.
	MaxReconnects     int
	HeartbeatInterval time.Duration

	// OnStateChange is called on every state transition, outside internal locks.
	OnStateChange func(core.ConnState)

	Clock      clock.Clock
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Session is the real-time channel of one room view.
type Session struct {
	opts       Options
	dispatcher Dispatcher
	clock      clock.Clock
	log        *zerolog.Logger

	// writeMu keeps unsubscribe/subscribe pairs contiguous on the wire.
	writeMu sync.Mutex

	mu      sync.Mutex
	roomID  string
	subID   string
	conn    *websocket.Conn
	state   core.ConnState
	user    string
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an inactive session for roomID. Call Start to connect.
func New(roomID string, d Dispatcher, opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval < 0 {
		opts.HeartbeatInterval = 0
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := englylog.OrNop(opts.Logger).With().Str("component", "transport").Logger()
	return &Session{
		opts:       opts,
		dispatcher: d,
		clock:      clk,
		log:        &logger,
		roomID:     roomID,
		state:      core.Disconnected,
		done:       make(chan struct{}),
	}
}

// Start activates the session. It returns immediately; connection progress is
// reported through State and OnStateChange.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
	return nil
}

// Done is closed when the session stops for good, either after Close or
// once reconnect attempts are exhausted.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// State returns the connection state.
func (s *Session) State() core.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID returns the currently subscribed room.
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// User returns the user name the server announced in CONNECTED.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) setState(st core.ConnState) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.log.Debug().Str("state", st.String()).Msg("connection state changed")
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(core.Disconnected)

	var policy backoff.BackOff = backoff.NewConstantBackOff(s.opts.ReconnectDelay)
	if s.opts.MaxReconnects > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(s.opts.MaxReconnects))
	}
	retry := backoff.WithContext(policy, ctx)

	for {
		connected, err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			retry.Reset()
		}
		s.setState(core.Disconnected)

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			s.log.Error().Err(err).Msg("giving up on reconnect")
			return
		}
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(wait):
		}
	}
}

// connectAndServe runs one connection to completion. connected reports whether
// the handshake succeeded.
func (s *Session) connectAndServe(ctx context.Context) (connected bool, err error) {
	s.setState(core.Connecting)

	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	if err := s.handshake(ctx, conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, core.ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.subID = ""
		s.mu.Unlock()
	}()

	if err := s.subscribe(ctx, conn); err != nil {
		return true, err
	}
	s.setState(core.Connected)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn) })
	g.Go(func() error { return s.heartbeat(gctx, conn) })
	return true, g.Wait()
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Tokens != nil {
		token, err := s.opts.Tokens.Token(ctx)
		if err != nil {
			return nil, &core.TransportError{Op: "token", Err: err}
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.opts.URL, &websocket.DialOptions{
		HTTPClient: s.opts.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, &core.TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (s *Session) handshake(ctx context.Context, conn *websocket.Conn) error {
	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	connect := proto.Frame{Command: proto.CommandConnect, Protocol: proto.ProtocolVersion}
	if s.opts.Tokens != nil {
		token, err := s.opts.Tokens.Token(ctx)
		if err != nil {
			return &core.TransportError{Op: "token", Err: err}
		}
		connect.Token = token
	}
	if err := wsjson.Write(hsCtx, conn, connect); err != nil {
		return &core.TransportError{Op: "connect", Err: err}
	}

	var reply proto.Frame
	if err := wsjson.Read(hsCtx, conn, &reply); err != nil {
		return &core.TransportError{Op: "connect", Err: err}
	}
	switch reply.Command {
	case proto.CommandConnected:
		s.mu.Lock()
		s.user = reply.User
		s.mu.Unlock()
		s.log.Debug().Str("user", reply.User).Msg("connected")
		return nil
	case proto.CommandError:
		if reply.Error != nil {
			return &core.TransportError{Op: "connect", Err: core.NewError(reply.Error.Code, reply.Error.Msg)}
		}
		return &core.TransportError{Op: "connect", Err: errors.New("server refused connection")}
	default:
		return &core.TransportError{Op: "connect", Err: fmt.Errorf("unexpected %q frame", reply.Command)}
	}
}

// subscribe cancels the previous subscription, if any, and subscribes to the
// current room topic.
func (s *Session) subscribe(ctx context.Context, conn *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev := s.subID
	room := s.roomID
	id := uuid.NewString()
	s.subID = id
	s.mu.Unlock()

	if prev != "" {
		s.log.Debug().Str("subscription", prev).Msg("unsubscribing")
		if err := s.write(ctx, conn, proto.Frame{Command: proto.CommandUnsubscribe, ID: prev}); err != nil {
			return &core.TransportError{Op: "unsubscribe", Err: err}
		}
	}
	topic := proto.RoomTopic(room)
	s.log.Debug().Str("destination", topic).Msg("subscribing")
	if err := s.write(ctx, conn, proto.Frame{Command: proto.CommandSubscribe, ID: id, Destination: topic}); err != nil {
		return &core.TransportError{Op: "subscribe", Err: err}
	}
	return nil
}

// SwitchRoom moves the subscription to roomID. When disconnected the new room
// is subscribed on the next connect. It serves callers that keep one session
// across rooms; room.View builds a fresh session per room and does not call it.
func (s *Session) SwitchRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.ErrClosed
	}
	if s.roomID == roomID {
		s.mu.Unlock()
		return nil
	}
	s.roomID = roomID
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.subscribe(ctx, conn)
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, f proto.Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}

// Send publishes body to destination. Nothing is queued: while the session is
// not connected the publish is dropped and ErrNotConnected returned.
func (s *Session) Send(ctx context.Context, destination string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", destination, err)
	}

	s.mu.Lock()
	conn := s.conn
	ready := s.state == core.Connected && !s.closed
	s.mu.Unlock()
	if conn == nil || !ready {
		s.log.Debug().Str("destination", destination).Msg("send dropped, not connected")
		return core.ErrNotConnected
	}

	if err := s.write(ctx, conn, proto.Frame{Command: proto.CommandSend, Destination: destination, Body: raw}); err != nil {
		return &core.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return &core.TransportError{Op: "read", Err: err}
		}

		switch f.Command {
		case proto.CommandMessage:
			s.handleMessage(f)
		case proto.CommandError:
			if f.Error != nil {
				s.log.Warn().Str("code", f.Error.Code).Str("msg", f.Error.Msg).Msg("server error")
			}
		default:
			s.log.Debug().Str("command", f.Command).Msg("ignoring frame")
		}
	}
}

func (s *Session) handleMessage(f proto.Frame) {
	s.mu.Lock()
	current := s.subID
	room := s.roomID
	s.mu.Unlock()

	if f.Subscription != "" && f.Subscription != current {
		s.log.Debug().Str("subscription", f.Subscription).Msg("dropping frame for stale subscription")
		return
	}
	if topicRoom, ok := proto.RoomFromTopic(f.Destination); ok && topicRoom != room {
		s.log.Debug().Str("destination", f.Destination).Msg("dropping frame for another room")
		return
	}

	ev, err := proto.Decode(f.Body, s.clock.Now())
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}
	s.dispatch(ev, room)
}

func (s *Session) dispatch(ev proto.Event, room string) {
	switch ev := ev.(type) {
	case proto.MessageSent:
		msg := ev.Message
		if msg.RoomID == "" {
			msg.RoomID = room
		}
		s.dispatcher.OnMessage(msg)
	case proto.UserTyping:
		s.dispatcher.OnTyping(ev.Typing)
	case proto.MessageRead:
		s.dispatcher.OnRead(ev.Read)
	case proto.Unknown:
		s.log.Debug().Str("type", string(ev.Type)).Msg("ignoring unknown envelope")
	}
}

func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	if s.opts.HeartbeatInterval == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := s.clock.Ticker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &core.TransportError{Op: "heartbeat", Err: err}
			}
		}
	}
}

// Close unsubscribes, disconnects and waits for the session goroutine to
// exit. No Dispatcher call happens after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	sub := s.subID
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	s.log.Debug().Msg("deactivating")
	if conn != nil {
		ctx, stop := context.WithTimeout(context.Background(), writeTimeout)
		s.writeMu.Lock()
		if sub != "" {
			_ = s.write(ctx, conn, proto.Frame{Command: proto.CommandUnsubscribe, ID: sub})
		}
		_ = s.write(ctx, conn, proto.Frame{Command: proto.CommandDisconnect})
		s.writeMu.Unlock()
		stop()
	}

	if started {
		cancel()
		<-s.done
	} else {
		close(s.done)
	}
	s.setState(core.Disconnected)
	return nil
}
