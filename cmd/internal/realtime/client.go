package realtime

import (
	"sync"

	orderevents "kiln/shared/contracts/orderevents/v1"
)

// Client represents one connected websocket subscriber.
//
// Send is never closed by the server so concurrent broadcasters cannot panic; done signals the
// session goroutines to stop. Close is idempotent.
type Client struct {
	SessionID string
	UserID    string
	OrderID   string
	Send      chan orderevents.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, userID, orderID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		OrderID:   orderID,
		Send:      make(chan orderevents.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
