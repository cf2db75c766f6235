// Package ticketing is the outbound client for the external ticketing
// system. All calls are best-effort: the dialog never blocks or fails a
// customer turn on ticketing availability, so callers log errors and move on.
package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client communicates with the ticketing system API.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// New creates a ticketing client.
func New(baseURL, apiToken string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewWithTimeout creates a client with a custom timeout (for testing).
func NewWithTimeout(baseURL, apiToken string, timeout time.Duration) *Client {
	c := New(baseURL, apiToken)
	c.httpClient.Timeout = timeout
	return c
}

// Reply is an outbound customer-facing message attached to a ticket.
type Reply struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// Note is an internal-only annotation on a ticket, invisible to the customer.
type Note struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

// StatusUpdate changes the ticket's workflow fields.
type StatusUpdate struct {
	ThreadID string   `json:"thread_id"`
	Status   string   `json:"status"`
	Priority string   `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// PostReply publishes a customer-facing reply on the ticket.
func (c *Client) PostReply(ctx context.Context, r Reply) error {
	return c.post(ctx, "/tickets/"+r.ThreadID+"/replies", r)
}

// AddNote attaches an internal note to the ticket.
func (c *Client) AddNote(ctx context.Context, n Note) error {
	return c.post(ctx, "/tickets/"+n.ThreadID+"/notes", n)
}

// UpdateStatus updates the ticket's status, priority and tags.
func (c *Client) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	return c.post(ctx, "/tickets/"+u.ThreadID+"/status", u)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ticketing API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
