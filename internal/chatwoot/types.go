package chatwoot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType is Chatwoot's message direction. The REST API encodes it as an
// integer and webhooks as a string; both decode to the same value.
type MessageType int

const (
	Incoming MessageType = 0
	Outgoing MessageType = 1
	Activity MessageType = 2
	Template MessageType = 3
)

var messageTypeNames = map[string]MessageType{
	"incoming": Incoming,
	"outgoing": Outgoing,
	"activity": Activity,
	"template": Template,
}

func (t MessageType) String() string {
	for name, v := range messageTypeNames {
		if v == t {
			return name
		}
	}
	return strconv.Itoa(int(t))
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*t = -1
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if v, ok := messageTypeNames[strings.ToLower(strings.TrimSpace(s))]; ok {
			*t = v
			return nil
		}
		if n, err := strconv.Atoi(s); err == nil {
			*t = MessageType(n)
			return nil
		}
		*t = -1
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message_type: %w", err)
	}
	*t = MessageType(n)
	return nil
}

// Timestamp is a unix-seconds time that also accepts RFC 3339 strings.
type Timestamp int64

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*ts = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*ts = 0
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*ts = Timestamp(n)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}
		*ts = Timestamp(parsed.Unix())
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	*ts = Timestamp(int64(f))
	return nil
}

type Message struct {
	ID          int64       `json:"id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	Private     bool        `json:"private"`
	CreatedAt   Timestamp   `json:"created_at"`
}

type Contact map[string]any

// Name returns the contact's display name, if any.
func (c Contact) Name() string {
	if c == nil {
		return ""
	}
	name, _ := c["name"].(string)
	return strings.TrimSpace(name)
}
