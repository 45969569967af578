package core

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID          int64
	Username    string
	DisplayName string
}

// Client is one live connection as seen by the broker.
type Client struct {
	ConnID   string
	Identity Identity
	Commands chan *Command
	Events   chan *Event

	// channels and voice are mutated only by the broker goroutine.
	channels map[string]struct{}
	voice    map[string]struct{}

	// done is closed by the broker on unregister; it releases the pump
	// goroutine feeding this client's commands into the loop.
	done chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(connID string, ident Identity) *Client {
	if ident.DisplayName == "" {
		ident.DisplayName = ident.Username
	}
	return &Client{
		ConnID:   connID,
		Identity: ident,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 16),
		channels: make(map[string]struct{}),
		voice:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// send delivers an event without blocking the broker loop.
func (c *Client) send(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		// Drop if slow consumer.
		return false
	}
}
