package proto

import (
	"time"

	"github.com/engly817chat/engly-client/internal/core"
)

// PageResponse is the body of GET /messages.
type PageResponse struct {
	Items         []MessagePayload `json:"items"`
	PageIndex     int              `json:"pageIndex"`
	IsFirst       bool             `json:"isFirst"`
	IsLast        bool             `json:"isLast"`
	TotalElements int              `json:"totalElements"`
	Size          int              `json:"size,omitempty"`
}

// ReaderPayload is one entry of GET /messages/{id}/readers.
type ReaderPayload struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	ReadAt   *Timestamp `json:"readAt,omitempty"`
}

// Credentials is the body of the register and login endpoints.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries an issued bearer token and the account it belongs to.
type AuthResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// MessageToCore normalizes a wire message. roomID is used when the payload
// carries no room reference; now fills a missing creation time.
func MessageToCore(p MessagePayload, roomID string, now time.Time) core.Message {
	msg := core.Message{
		ID:        p.ID,
		RoomID:    roomID,
		Content:   p.Content,
		CreatedAt: now,
		IsEdited:  p.IsEdited,
		IsDeleted: p.IsDeleted,
	}
	if p.Room != nil && p.Room.ID != "" {
		msg.RoomID = p.Room.ID
	}
	if p.User != nil {
		msg.AuthorID = p.User.ID
		msg.AuthorName = p.User.Username
	}
	if p.CreatedAt != nil && !p.CreatedAt.IsZero() {
		msg.CreatedAt = p.CreatedAt.Time
	}
	msg.UpdatedAt = msg.CreatedAt
	if p.UpdatedAt != nil && !p.UpdatedAt.IsZero() {
		msg.UpdatedAt = p.UpdatedAt.Time
	}
	return msg
}

// MessageFromCore builds the wire form of a message.
func MessageFromCore(m core.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: NewTimestamp(m.CreatedAt),
		UpdatedAt: NewTimestamp(m.UpdatedAt),
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		Room:      &RoomRef{ID: m.RoomID},
		User:      &UserRef{ID: m.AuthorID, Username: m.AuthorName},
	}
}

// PageToCore normalizes a history page for roomID.
func PageToCore(resp PageResponse, roomID string, now time.Time) core.Page {
	items := make([]core.Message, 0, len(resp.Items))
	for _, p := range resp.Items {
		if p.ID == "" {
			continue
		}
		items = append(items, MessageToCore(p, roomID, now))
	}
	return core.Page{
		Items:         items,
		PageIndex:     resp.PageIndex,
		IsFirst:       resp.IsFirst,
		IsLast:        resp.IsLast,
		TotalElements: resp.TotalElements,
		Size:          resp.Size,
	}
}

// ReaderToCore converts a reader entry.
func ReaderToCore(p ReaderPayload) core.Reader {
	r := core.Reader{UserID: p.ID, Username: p.Username}
	if p.ReadAt != nil {
		r.ReadAt = p.ReadAt.Time
	}
	return r
}
