// Package broker routes real-time frames between connected clients: topic
// subscriptions, the chat application destinations, and fan-out across
// server instances through an optional relay.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/engly817chat/engly-client/internal/core"
	englylog "github.com/engly817chat/engly-client/internal/log"
	"github.com/engly817chat/engly-client/internal/proto"
	"github.com/engly817chat/engly-client/internal/store"
)

const (
	relayTimeout = 2 * time.Second
	storeTimeout = 5 * time.Second
)

// Store is the persistence the hub needs. It may be nil, in which case
// messages are not persisted and every read acknowledgement is broadcast.
type Store interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) ([]string, error)
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

type delivery struct {
	topic string
	body  json.RawMessage
}

// Hub owns all clients and topics. State is only touched by the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	remote     chan delivery
	done       chan struct{}

	clients map[*Client]struct{}
	topics  map[string]*Topic

	store Store
	relay Relay
	log   *zerolog.Logger
	now   func() time.Time
}

// NewHub creates a hub. st, relay and logger may be nil.
func NewHub(st Store, relay Relay, logger *zerolog.Logger) *Hub {
	l := englylog.OrNop(logger).With().Str("component", "broker").Logger()
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		remote:     make(chan delivery, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]*Topic),
		store:      st,
		relay:      relay,
		log:        &l,
		now:        time.Now,
	}
}

// RegisterClient attaches a client. Its Commands are consumed until it is
// unregistered or the hub stops.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient detaches a client and closes its Events channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.relay != nil {
		go func() {
			if err := h.relay.Subscribe(ctx, h.fromRelay); err != nil && ctx.Err() == nil {
				h.log.Error().Err(err).Msg("relay subscription ended")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.pump(ctx, c)
			h.log.Debug().Str("client_id", c.ID).Str("user_id", c.UserID).Msg("client registered")
		case c := <-h.unregister:
			h.drop(c)
		case cc := <-h.commands:
			if _, ok := h.clients[cc.client]; !ok {
				continue
			}
			h.handle(ctx, cc.client, cc.cmd)
		case d := <-h.remote:
			h.deliver(d.topic, d.body)
		}
	}
}

func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.quit:
				return
			case <-ctx.Done():
				return
			}
		case <-c.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) fromRelay(topic string, body []byte) {
	select {
	case h.remote <- delivery{topic: topic, body: body}:
	case <-h.done:
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for _, topic := range c.subs {
		h.leave(c, topic)
	}
	clear(c.subs)
	delete(h.clients, c)
	close(c.quit)
	close(c.Events)
	h.log.Debug().Str("client_id", c.ID).Msg("client unregistered")
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) leave(c *Client, topic string) {
	t, ok := h.topics[topic]
	if !ok {
		return
	}
	t.RemoveClient(c)
	if t.Empty() {
		delete(h.topics, topic)
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandSubscribe:
		h.subscribe(c, cmd)
	case CommandUnsubscribe:
		h.unsubscribe(c, cmd)
	case CommandSend:
		h.send(ctx, c, cmd)
	default:
		h.reject(c, core.ErrCodeBadRequest, "unknown command")
	}
}

func (h *Hub) subscribe(c *Client, cmd *Command) {
	if cmd.SubscriptionID == "" {
		h.reject(c, core.ErrCodeBadRequest, "subscription id is required")
		return
	}
	if _, ok := proto.RoomFromTopic(cmd.Destination); !ok {
		h.reject(c, core.ErrCodeUnknownDestination, "unknown topic "+cmd.Destination)
		return
	}
	if _, exists := c.subs[cmd.SubscriptionID]; exists {
		h.reject(c, core.ErrCodeAlreadySubscribed, "subscription id in use")
		return
	}

	t, ok := h.topics[cmd.Destination]
	if !ok {
		t = NewTopic(cmd.Destination)
		h.topics[cmd.Destination] = t
	}
	if !t.AddSubscription(c, cmd.SubscriptionID) {
		h.reject(c, core.ErrCodeAlreadySubscribed, "already subscribed to "+cmd.Destination)
		return
	}
	c.subs[cmd.SubscriptionID] = cmd.Destination
	h.log.Debug().Str("client_id", c.ID).Str("topic", cmd.Destination).Str("subscription", cmd.SubscriptionID).Msg("subscribed")
}

func (h *Hub) unsubscribe(c *Client, cmd *Command) {
	topic, ok := c.subs[cmd.SubscriptionID]
	if !ok {
		h.reject(c, core.ErrCodeNotSubscribed, "unknown subscription")
		return
	}
	delete(c.subs, cmd.SubscriptionID)
	h.leave(c, topic)
	h.log.Debug().Str("client_id", c.ID).Str("topic", topic).Msg("unsubscribed")
}

func (h *Hub) send(ctx context.Context, c *Client, cmd *Command) {
	if c.Anonymous() {
		h.reject(c, core.ErrCodeUnauthorized, "sign in to publish")
		return
	}

	var err error
	switch cmd.Destination {
	case proto.DestinationMessageSend:
		err = h.sendMessage(ctx, c, cmd.Body)
	case proto.DestinationUserTyping:
		err = h.sendTyping(ctx, c, cmd.Body)
	case proto.DestinationMarkAsRead:
		err = h.markAsRead(ctx, c, cmd.Body)
	default:
		h.reject(c, core.ErrCodeUnknownDestination, "unknown destination "+cmd.Destination)
		return
	}

	if err != nil {
		var coreErr *core.CoreError
		if errors.As(err, &coreErr) {
			h.reject(c, coreErr.Code, coreErr.Message)
			return
		}
		h.log.Error().Err(err).Str("client_id", c.ID).Str("destination", cmd.Destination).Msg("send failed")
		h.reject(c, core.ErrCodeInternal, "internal error")
	}
}

func (h *Hub) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var body proto.SendMessageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return core.NewError(core.ErrCodeBadRequest, "invalid message body")
	}
	content := strings.TrimSpace(body.Content)
	if body.RoomID == "" || content == "" {
		return core.NewError(core.ErrCodeBadRequest, "room id and content are required")
	}

	now := h.now().UTC()
	msg := &store.Message{
		ID:        uuid.NewString(),
		RoomID:    body.RoomID,
		UserID:    c.UserID,
		Username:  c.Name,
		Body:      content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if h.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		err := h.store.SaveMessage(sctx, msg)
		cancel()
		if err != nil {
			return err
		}
	}

	payload := proto.MessageFromCore(StoreMessageToCore(msg))
	return h.publish(ctx, body.RoomID, proto.TypeMessageSend, payload)
}

func (h *Hub) sendTyping(ctx context.Context, c *Client, raw json.RawMessage) error {
	var body proto.TypingBody
	if err := json.Unmarshal(raw, &body); err != nil || body.RoomID == "" {
		return core.NewError(core.ErrCodeBadRequest, "invalid typing body")
	}
	return h.publish(ctx, body.RoomID, proto.TypeUserTyping, proto.TypingPayload{
		Username: c.Name,
		IsTyping: body.IsTyping,
	})
}

func (h *Hub) markAsRead(ctx context.Context, c *Client, raw json.RawMessage) error {
	var body proto.MarkAsReadBody
	if err := json.Unmarshal(raw, &body); err != nil || body.RoomID == "" {
		return core.NewError(core.ErrCodeBadRequest, "invalid read body")
	}
	if len(body.MessageIDs) == 0 {
		return nil
	}

	now := h.now().UTC()
	marked := body.MessageIDs
	if h.store != nil {
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		var err error
		marked, err = h.store.MarkRead(sctx, c.UserID, body.MessageIDs, now)
		cancel()
		if err != nil {
			return err
		}
	}
	if len(marked) == 0 {
		return nil
	}

	return h.publish(ctx, body.RoomID, proto.TypeMessageRead, proto.ReadPayload{
		MessageIDs: marked,
		UserID:     c.UserID,
		Timestamp:  proto.NewTimestamp(now),
	})
}

func (h *Hub) publish(ctx context.Context, roomID string, typ proto.EnvelopeType, payload any) error {
	body, err := proto.Encode(typ, payload)
	if err != nil {
		return err
	}
	topic := proto.RoomTopic(roomID)
	h.deliver(topic, body)

	if h.relay != nil {
		rctx, cancel := context.WithTimeout(ctx, relayTimeout)
		defer cancel()
		if err := h.relay.Publish(rctx, topic, body); err != nil {
			h.log.Warn().Err(err).Str("topic", topic).Msg("relay publish failed")
		}
	}
	return nil
}

func (h *Hub) deliver(topic string, body json.RawMessage) {
	if t, ok := h.topics[topic]; ok {
		t.Broadcast(body)
	}
}

func (h *Hub) reject(c *Client, code, msg string) {
	select {
	case c.Events <- &Event{Kind: EventError, Error: core.NewError(code, msg)}:
	default:
		h.log.Debug().Str("client_id", c.ID).Str("code", code).Msg("error event dropped")
	}
}

// StoreMessageToCore converts a persisted message to the domain model.
func StoreMessageToCore(m *store.Message) core.Message {
	return core.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.UserID,
		AuthorName: m.Username,
		Content:    m.Body,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		IsEdited:   !m.UpdatedAt.Equal(m.CreatedAt),
	}
}
