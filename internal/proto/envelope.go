package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/engly817chat/engly-client/internal/core"
)

// EnvelopeType tags the payload carried inside a MESSAGE frame body.
type EnvelopeType string

const (
	TypeMessageSend EnvelopeType = "MESSAGE_SEND"
	TypeUserTyping  EnvelopeType = "USER_TYPING"
	TypeMessageRead EnvelopeType = "MESSAGE_READ"
)

// Envelope is the tagged wrapper carried over a room topic.
type Envelope struct {
	Type    EnvelopeType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RoomRef is the room summary nested in message payloads.
type RoomRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UserRef is the author summary nested in message payloads.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// MessagePayload is the wire shape of a message, shared by MESSAGE_SEND and
// history pages.
type MessagePayload struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	CreatedAt *Timestamp `json:"createdAt,omitempty"`
	UpdatedAt *Timestamp `json:"updatedAt,omitempty"`
	IsEdited  bool       `json:"isEdited"`
	IsDeleted bool       `json:"isDeleted"`
	Room      *RoomRef   `json:"room,omitempty"`
	User      *UserRef   `json:"user,omitempty"`
}

// TypingPayload is the USER_TYPING payload.
type TypingPayload struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ReadPayload is the MESSAGE_READ payload.
type ReadPayload struct {
	MessageIDs []string   `json:"messageIds"`
	UserID     string     `json:"userId"`
	Timestamp  *Timestamp `json:"timestamp,omitempty"`
}

// Timestamp accepts RFC 3339 strings or unix milliseconds and always encodes
// as RFC 3339.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

// Event is the closed set of decoded envelopes. Dispatchers switch over the
// concrete types: MessageSent, UserTyping, MessageRead and Unknown.
type Event interface {
	envelopeType() EnvelopeType
}

// MessageSent is a decoded MESSAGE_SEND envelope.
type MessageSent struct {
	Message core.Message
}

// UserTyping is a decoded USER_TYPING envelope.
type UserTyping struct {
	Typing core.TypingEvent
}

// MessageRead is a decoded MESSAGE_READ envelope.
type MessageRead struct {
	Read core.ReadEvent
}

// Unknown is an envelope type this client does not understand. It is ignored.
type Unknown struct {
	Type EnvelopeType
}

func (MessageSent) envelopeType() EnvelopeType { return TypeMessageSend }
func (UserTyping) envelopeType() EnvelopeType  { return TypeUserTyping }
func (MessageRead) envelopeType() EnvelopeType { return TypeMessageRead }
func (u Unknown) envelopeType() EnvelopeType   { return u.Type }

var (
	errMissingPayload = errors.New("missing payload")
	errMissingField   = errors.New("missing required field")
)

// Decode parses a MESSAGE frame body into an Event. now fills in message
// timestamps the sender omitted. Decoding failures are *core.MalformedEnvelope.
func Decode(body []byte, now time.Time) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &core.MalformedEnvelope{Err: err}
	}
	if env.Type == "" {
		return nil, &core.MalformedEnvelope{Err: fmt.Errorf("%w: type", errMissingField)}
	}

	switch env.Type {
	case TypeMessageSend:
		var p MessagePayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.ID == "" || p.User == nil || p.User.ID == "" {
			return nil, &core.MalformedEnvelope{Type: string(env.Type), Err: fmt.Errorf("%w: id or user", errMissingField)}
		}
		return MessageSent{Message: MessageToCore(p, "", now)}, nil
	case TypeUserTyping:
		var p TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Username == "" {
			return nil, &core.MalformedEnvelope{Type: string(env.Type), Err: fmt.Errorf("%w: username", errMissingField)}
		}
		return UserTyping{Typing: core.TypingEvent{Username: p.Username, IsTyping: p.IsTyping}}, nil
	case TypeMessageRead:
		var p ReadPayload
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, &core.MalformedEnvelope{Type: string(env.Type), Err: fmt.Errorf("%w: userId", errMissingField)}
		}
		ev := core.ReadEvent{MessageIDs: p.MessageIDs, UserID: p.UserID, Timestamp: now}
		if p.Timestamp != nil && !p.Timestamp.IsZero() {
			ev.Timestamp = p.Timestamp.Time
		}
		return MessageRead{Read: ev}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		return &core.MalformedEnvelope{Type: string(env.Type), Err: errMissingPayload}
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &core.MalformedEnvelope{Type: string(env.Type), Err: err}
	}
	return nil
}

// Encode wraps a payload into an envelope body.
func Encode(typ EnvelopeType, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	body, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", typ, err)
	}
	return body, nil
}
