// internal/upstream/client.go

// Package upstream owns the connection to the agent server: the single event
// feed read loop with reconnect, and the command API used to fetch history,
// submit messages, and answer permission requests.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/sessionrelay/internal/types"
)

// Client talks to the upstream agent server's JSON command API and event
// feed. Command results are observed later as ingested events, not as
// synchronous state changes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the agent server at baseURL. The event
// stream request carries no timeout; command requests use the caller's
// context for cancellation.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Events opens the upstream event feed and returns its body for the read
// loop to consume. The caller owns the returned reader.
func (c *Client) Events(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Messages fetches the full message history for a session, used to seed
// local state on first load.
func (c *Client) Messages(ctx context.Context, session types.SessionID) ([]*types.Message, error) {
	url := fmt.Sprintf("%s/session/%s/message", c.baseURL, session)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build messages request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch messages status %d", resp.StatusCode)
	}
	var messages []*types.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

type sendMessageRequest struct {
	MessageID types.MessageID `json:"messageID"`
	Text      string          `json:"text"`
}

// SendMessage submits a new user message. Fire-and-forget: the resulting
// assistant activity arrives through the event feed.
func (c *Client) SendMessage(ctx context.Context, session types.SessionID, text string) error {
	body := sendMessageRequest{MessageID: types.NewMessageID(), Text: text}
	url := fmt.Sprintf("%s/session/%s/message", c.baseURL, session)
	return c.post(ctx, url, body)
}

type respondRequest struct {
	Response types.PermissionResponse `json:"response"`
}

// RespondPermission forwards a permission response. Local removal of the
// permission happens only when the replied event is later ingested.
func (c *Client) RespondPermission(ctx context.Context, session types.SessionID, permission types.PermissionID, response types.PermissionResponse) error {
	url := fmt.Sprintf("%s/session/%s/permissions/%s", c.baseURL, session, permission)
	return c.post(ctx, url, respondRequest{Response: response})
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream rejected request: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
