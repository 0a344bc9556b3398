package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatwoot status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsRetryable reports whether err is a transient Chatwoot failure.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}

// Client talks to one Chatwoot account.
type Client struct {
	BaseURL   string
	AccountID int
	Token     string
	Client    *http.Client
	Logger    *slog.Logger
}

func New(baseURL string, accountID int, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:   baseURL,
		AccountID: accountID,
		Token:     token,
		Client:    &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

// SendMessage posts an outgoing message visible to the visitor.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (Message, error) {
	return c.send(ctx, conversationID, content, false)
}

// SendPrivateNote posts a note visible only to agents.
func (c *Client) SendPrivateNote(ctx context.Context, conversationID int64, note string) (Message, error) {
	return c.send(ctx, conversationID, note, true)
}

func (c *Client) send(ctx context.Context, conversationID int64, content string, private bool) (Message, error) {
	var msg Message
	req := sendMessageRequest{Content: content, MessageType: "outgoing", Private: private}
	if err := c.doJSON(ctx, http.MethodPost, c.path("conversations/%d/messages", conversationID), req, &msg); err != nil {
		return Message{}, err
	}
	c.logger().Info("harbor.chatwoot.message_sent", "conversation_id", conversationID, "private", private)
	return msg, nil
}

// AssignAgent hands the conversation to a human agent.
func (c *Client) AssignAgent(ctx context.Context, conversationID int64, agentID int) error {
	body := map[string]int{"assignee_id": agentID}
	if err := c.doJSON(ctx, http.MethodPatch, c.path("conversations/%d/assignments", conversationID), body, nil); err != nil {
		return err
	}
	c.logger().Info("harbor.chatwoot.agent_assigned", "conversation_id", conversationID, "agent_id", agentID)
	return nil
}

// SetStatus updates the conversation status: open, resolved, pending, snoozed.
func (c *Client) SetStatus(ctx context.Context, conversationID int64, status string) error {
	switch status {
	case "open", "resolved", "pending", "snoozed":
	default:
		return fmt.Errorf("invalid conversation status %q", status)
	}
	body := map[string]string{"status": status}
	return c.doJSON(ctx, http.MethodPatch, c.path("conversations/%d/update", conversationID), body, nil)
}

// SetCustomAttributes replaces the conversation's custom attributes.
func (c *Client) SetCustomAttributes(ctx context.Context, conversationID int64, attrs map[string]string) error {
	body := map[string]any{"custom_attributes": attrs}
	return c.doJSON(ctx, http.MethodPost, c.path("conversations/%d/custom_attributes", conversationID), body, nil)
}

type messagesEnvelope struct {
	Payload json.RawMessage `json:"payload"`
}

// ListMessages returns the conversation history as Chatwoot reports it.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	var env messagesEnvelope
	if err := c.doJSON(ctx, http.MethodGet, c.path("conversations/%d/messages", conversationID), nil, &env); err != nil {
		return nil, err
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || string(payload) == "null" {
		return nil, nil
	}
	if payload[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(payload, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var nested struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(payload, &nested); err != nil {
		return nil, err
	}
	return nested.Messages, nil
}

func (c *Client) GetContact(ctx context.Context, contactID int64) (Contact, error) {
	var out struct {
		Payload Contact `json:"payload"`
	}
	data, err := c.doRequest(ctx, http.MethodGet, c.path("contacts/%d", contactID), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err == nil && out.Payload != nil {
		return out.Payload, nil
	}
	var flat Contact
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func (c *Client) UpdateContact(ctx context.Context, contactID int64, attrs map[string]any) error {
	return c.doJSON(ctx, http.MethodPatch, c.path("contacts/%d", contactID), attrs, nil)
}

func (c *Client) path(format string, id int64) string {
	return fmt.Sprintf("/api/v1/accounts/%d/", c.AccountID) + fmt.Sprintf(format, id)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) doJSON(ctx context.Context, method, path string, req any, out any) error {
	respBytes, err := c.doRequest(ctx, method, path, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBytes)) == 0 {
		return nil
	}
	return json.Unmarshal(respBytes, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, req any) ([]byte, error) {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: DefaultTimeout}
	}
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	request, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if req != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		request.Header.Set("api_access_token", c.Token)
	}
	resp, err := c.Client.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(payload)}
	}
	return io.ReadAll(resp.Body)
}
