package core

import "time"

// TypingEvent reports a remote user's typing transition.
type TypingEvent struct {
	Username string
	IsTyping bool
}

// ReadEvent reports that a user has read a batch of messages.
type ReadEvent struct {
	MessageIDs []string
	UserID     string
	Timestamp  time.Time
}

// ConnState is the state of one room's real-time connection.
type ConnState int

const (
	// Connecting is set while dialing or waiting for the handshake.
	Connecting ConnState = iota
	// Connected means the handshake finished and the room topic is subscribed.
	Connected
	// Disconnected is set after a close, an error, or deactivation.
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
