package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// client drives a running Harbor deployment.
type client struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fatalf("e2e: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("e2e", flag.ContinueOnError)
	base := fs.String("harbor", envOr("E2E_HARBOR_URL", "http://127.0.0.1:8000"), "harbor base url")
	token := fs.String("token", envOr("E2E_WEBHOOK_TOKEN", ""), "webhook shared secret")
	clientID := fs.String("client", envOr("E2E_CLIENT_ID", ""), "persona client id")
	accountID := fs.Int("account", envOrInt("E2E_ACCOUNT_ID", 0), "chatwoot account id for the greeting check")
	conversationID := fs.Int("conversation", envOrInt("E2E_CONVERSATION_ID", 0), "chatwoot conversation id for the greeting check")
	timeout := fs.Duration("timeout", envOrDuration("E2E_TIMEOUT", 30*time.Second), "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*base) == "" {
		return errors.New("harbor url required")
	}
	if strings.TrimSpace(*clientID) == "" {
		return errors.New("client required")
	}
	c := &client{
		BaseURL: strings.TrimRight(*base, "/"),
		Token:   strings.TrimSpace(*token),
		Timeout: *timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	for _, path := range []string{"/healthz", "/readyz"} {
		if _, err := c.do(ctx, http.MethodGet, path, nil); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		_, _ = fmt.Fprintf(out, "%s: ok\n", path)
	}

	cfg, err := c.widgetConfig(ctx, *clientID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "widget config: enabled=%v\n", cfg.Enabled)
	if cfg.Enabled && cfg.ExitIntentEnabled {
		if err := c.exitIntent(ctx, *clientID); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "widget exit intent: ok")
	}

	if *accountID > 0 && *conversationID > 0 {
		status, err := c.greeting(ctx, *clientID, *accountID, *conversationID)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "webhook greeting: %s\n", status)
	}
	return nil
}

type widgetConfig struct {
	Enabled           bool `json:"enabled"`
	ExitIntentEnabled bool `json:"exitIntentEnabled"`
}

func (c *client) widgetConfig(ctx context.Context, clientID string) (widgetConfig, error) {
	var cfg widgetConfig
	data, err := c.do(ctx, http.MethodGet, "/widget/"+clientID+"/config", nil)
	if err != nil {
		return cfg, fmt.Errorf("widget config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("widget config: %w", err)
	}
	return cfg, nil
}

// exitIntent opens a widget session, reports the pointer leaving through the
// top edge and waits for the open frame.
func (c *client) exitIntent(ctx context.Context, clientID string) error {
	url := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/widget/" + clientID + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("widget dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "e2e done")

	if err := wsjson.Write(ctx, conn, map[string]any{"type": "hello", "pageUrl": c.BaseURL + "/e2e"}); err != nil {
		return err
	}
	if err := expectFrame(ctx, conn, "ready"); err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "pointer_leave", "clientY": 0}); err != nil {
		return err
	}
	return expectFrame(ctx, conn, "open")
}

func expectFrame(ctx context.Context, conn *websocket.Conn, want string) error {
	var frame struct {
		Type string `json:"type"`
	}
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		return fmt.Errorf("waiting for %s: %w", want, err)
	}
	if frame.Type != want {
		return fmt.Errorf("expected %s frame, got %q", want, frame.Type)
	}
	return nil
}

func (c *client) greeting(ctx context.Context, clientID string, accountID, conversationID int) (string, error) {
	body := map[string]any{
		"event":   "conversation_created",
		"id":      conversationID,
		"account": map[string]int{"id": accountID},
	}
	data, err := c.do(ctx, http.MethodPost, "/webhook/"+clientID, body)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if out.Status != "greeting_queued" {
		return out.Status, fmt.Errorf("unexpected webhook status %q", out.Status)
	}
	return out.Status, nil
}

func (c *client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	url := c.BaseURL + path
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("X-Harbor-Token", c.Token)
	}
	client := &http.Client{Timeout: c.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %d %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var parsed int
	if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
		return parsed
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
