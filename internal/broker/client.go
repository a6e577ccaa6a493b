package broker

// Client is one connected participant as seen by the hub.
// An empty UserID marks an anonymous connection that may only subscribe.
type Client struct {
	ID       string
	UserID   string
	Name     string
	Commands chan *Command
	Events   chan *Event

	// subs maps subscription id to topic. Owned by the hub goroutine.
	subs map[string]string
	quit chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id, userID, name string) *Client {
	if name == "" {
		name = userID
	}
	return &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		subs:     make(map[string]string),
		quit:     make(chan struct{}),
	}
}

// Anonymous reports whether the client connected without a token.
func (c *Client) Anonymous() bool {
	return c.UserID == ""
}
