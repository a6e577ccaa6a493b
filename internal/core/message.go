package core

import "time"

// Message is the domain model for a chat message.
type Message struct {
	ID         string
	RoomID     string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsEdited   bool
	IsDeleted  bool
}

// Less reports whether a sorts before b in a room's timeline.
// Messages are ordered by creation time, ties broken by id.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Page is one historical fetch of a room's messages.
// Items are in ascending order; page 0 holds the oldest messages.
type Page struct {
	Items         []Message
	PageIndex     int
	IsFirst       bool
	IsLast        bool
	TotalElements int
	// Size is the page size the server applied, or 0 when it does not say.
	Size int
}

// Reader is a user recorded as having seen a message.
type Reader struct {
	UserID   string
	Username string
	ReadAt   time.Time
}
