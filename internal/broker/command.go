package broker

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSubscribe attaches a subscription id to a topic.
	CommandSubscribe CommandKind = iota
	// CommandUnsubscribe detaches a subscription id.
	CommandUnsubscribe
	// CommandSend delivers a body to an application destination.
	CommandSend
)

// Command represents an action requested by a client.
type Command struct {
	Kind           CommandKind
	SubscriptionID string
	Destination    string
	Body           json.RawMessage
}
