package broker

import "encoding/json"

// Topic groups the subscriptions attached to one destination.
// A client holds at most one subscription per topic.
type Topic struct {
	Name string
	subs map[*Client]string
}

// NewTopic constructs a topic with no subscribers.
func NewTopic(name string) *Topic {
	return &Topic{
		Name: name,
		subs: make(map[*Client]string),
	}
}

// AddSubscription attaches c under subID. Returns false if c is already subscribed.
func (t *Topic) AddSubscription(c *Client, subID string) bool {
	if _, exists := t.subs[c]; exists {
		return false
	}
	t.subs[c] = subID
	return true
}

// RemoveClient detaches c. Returns true if it was subscribed.
func (t *Topic) RemoveClient(c *Client) bool {
	if _, exists := t.subs[c]; !exists {
		return false
	}
	delete(t.subs, c)
	return true
}

// Broadcast delivers body to every subscriber.
func (t *Topic) Broadcast(body json.RawMessage) {
	for client, subID := range t.subs {
		ev := &Event{
			Kind:         EventMessage,
			Subscription: subID,
			Destination:  t.Name,
			Body:         body,
		}
		select {
		case client.Events <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

// Len returns the number of subscribers.
func (t *Topic) Len() int {
	return len(t.subs)
}

// Empty returns true if nobody is subscribed.
func (t *Topic) Empty() bool {
	return len(t.subs) == 0
}
