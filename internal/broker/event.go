package broker

import (
	"encoding/json"

	"github.com/engly817chat/engly-client/internal/core"
)

// EventKind describes what the hub delivers to a client.
type EventKind int

const (
	// EventMessage carries a topic body for one subscription.
	EventMessage EventKind = iota
	// EventError reports a rejected command.
	EventError
)

// Event is one delivery to a client.
type Event struct {
	Kind         EventKind
	Subscription string
	Destination  string
	Body         json.RawMessage
	Error        *core.CoreError
}
