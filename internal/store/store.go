package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Username  string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reader is one user who has read a message.
type Reader struct {
	UserID   string
	Username string
	ReadAt   time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message. ID and CreatedAt are filled in when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// CountMessages returns the number of messages in a room.
	CountMessages(ctx context.Context, roomID string) (int, error)

	// ListMessagesPage returns one page of a room's history in ascending order.
	// Page 0 holds the oldest messages.
	ListMessagesPage(ctx context.Context, roomID string, page, size int) ([]*Message, error)
}

// ReadStore handles read receipts.
type ReadStore interface {
	// MarkRead records that userID read messageIDs and returns the ids that
	// were not marked before. Reads of one's own messages are ignored.
	MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) ([]string, error)

	// ListReaders lists who has read a message, oldest read first.
	ListReaders(ctx context.Context, messageID string) ([]Reader, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	ReadStore

	// Close closes the underlying database connection.
	Close() error
}
