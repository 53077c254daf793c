package core

import (
	"testing"
	"time"

	"github.com/vovakirdan/colearn-server/internal/proto"
)

// mustMessage waits for the first queued message of type T, skipping others.
func mustMessage[T proto.Message](t *testing.T, c *Client) T {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.Outbound():
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("expected %T for %s not received", zero, c.UserID)
			return zero
		}
	}
}

// drain discards everything currently queued for c.
func drain(c *Client) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

// assertQuiet fails if c has anything queued.
func assertQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected %s for %s: %+v", msg.Type(), c.UserID, msg)
	default:
	}
}

func newTestRegistry(t *testing.T, opts RegistryOptions) *Registry {
	t.Helper()
	return NewRegistry(opts, nil)
}

// joinNew creates a client for userID and joins it to roomID.
func joinNew(t *testing.T, reg *Registry, roomID, userID, name string) *Client {
	t.Helper()
	c := NewClient(userID, name, 64)
	if _, err := reg.JoinRoom(roomID, c); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return c
}
