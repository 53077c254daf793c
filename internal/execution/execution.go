// Package execution submits room code to the external execution service.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultURL is where the execution service listens unless configured otherwise.
const DefaultURL = "http://localhost:3000/submit"

var (
	// ErrRejected is returned when the service answers with a non-2xx status.
	ErrRejected = errors.New("submission rejected")
	// ErrUnavailable is returned when the service cannot be reached.
	ErrUnavailable = errors.New("execution service unavailable")
)

// Submission is the body of POST /submit. Output arrives later through the
// room, not in the response.
type Submission struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	RoomID   string `json:"roomId"`
	Input    string `json:"input"`
}

// Client posts submissions to the execution service.
type Client struct {
	url    string
	client *http.Client
}

// New builds a client for url. A zero timeout means 10 seconds.
func New(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Submit sends one run request. It is not retried: a retry could run the
// program twice in the room.
func (c *Client) Submit(ctx context.Context, sub Submission) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
