// Package llm talks to chat-completion and embedding providers.
package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Content     string
	TotalTokens int
}

// ChatClient produces one assistant reply for a conversation.
type ChatClient interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

var marshalJSON = json.Marshal

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes reasoning blocks some local models emit.
func StripThinking(content string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
}

func endpoint(base, defaultBase, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultBase
	}
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

func maxTokens(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}
