package core

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/colearn-server/internal/proto"
)

// Client is one open connection as seen by the core layer. It carries the
// back-reference to its member (room id + user id) for its whole lifetime.
type Client struct {
	ID       string
	UserID   string
	Name     string
	RoomID   string
	JoinedAt time.Time

	out       chan proto.Message
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	released  bool
}

// NewClient constructs a client with a bounded outbound queue.
func NewClient(userID, name string, queue int) *Client {
	if queue <= 0 {
		queue = 64
	}
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		out:    make(chan proto.Message, queue),
		done:   make(chan struct{}),
	}
}

// Outbound yields messages queued for this connection.
func (c *Client) Outbound() <-chan proto.Message {
	return c.out
}

// Done is closed once the core has given up on this connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection was closed by the core, if it was.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// TrySend queues msg without blocking. It returns false when the queue is full
// or the client is already closed.
func (c *Client) TrySend(msg proto.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// Close marks the client as finished. Only the first reason is kept.
func (c *Client) Close(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		close(c.done)
	})
}

// markReleased reports whether this call is the first release of the client.
func (c *Client) markReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.released = true
	return true
}
