package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"harbor/internal/config"
)

var getenv = os.Getenv

// NewClient builds the provider client described by cfg.
func NewClient(cfg config.LLMConfig) (ChatClient, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "openai":
		key := cfg.APIKey
		if key == "" {
			key = getenv("OPENAI_API_KEY")
		}
		return &OpenAIClient{APIBase: cfg.APIBase, APIKey: key, Model: cfg.Model, HTTPClient: httpClient}, nil
	case "anthropic":
		key := cfg.APIKey
		if key == "" {
			key = getenv("ANTHROPIC_API_KEY")
		}
		return &AnthropicClient{APIBase: cfg.APIBase, APIKey: key, Model: cfg.Model, HTTPClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// Route is a client bound to one model and its generation settings.
type Route struct {
	Client         ChatClient
	Model          string
	MaxTokens      int
	Temperature    float64
	RedactPatterns []string
}

func (r *Route) Chat(ctx context.Context, req Request) (Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = r.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = r.Temperature
	}
	if len(r.RedactPatterns) > 0 {
		req.System = Redact(req.System, r.RedactPatterns)
		msgs := make([]Message, len(req.Messages))
		for i, m := range req.Messages {
			msgs[i] = Message{Role: m.Role, Content: Redact(m.Content, r.RedactPatterns)}
		}
		req.Messages = msgs
	}
	return r.Client.Chat(ctx, req)
}

// Router picks the model for a persona tier.
type Router struct {
	Primary  *Route
	Fallback *Route
}

// NewRouter builds the primary route and, when the fallback has a key, the
// fallback route.
func NewRouter(primary, fallback config.LLMConfig) (*Router, error) {
	client, err := NewClient(primary)
	if err != nil {
		return nil, err
	}
	r := &Router{Primary: newRoute(client, primary)}
	if strings.TrimSpace(fallback.APIKey) != "" && strings.TrimSpace(fallback.Provider) != "" {
		fb, err := NewClient(fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		r.Fallback = newRoute(fb, fallback)
	}
	return r, nil
}

func newRoute(client ChatClient, cfg config.LLMConfig) *Route {
	return &Route{
		Client:         client,
		Model:          cfg.Model,
		MaxTokens:      cfg.MaxOutputTokens,
		Temperature:    cfg.Temperature,
		RedactPatterns: cfg.RedactPatterns,
	}
}

// For returns the fallback route for pro and agency tiers when one is
// configured, else the primary route.
func (r *Router) For(tier string) *Route {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "pro", "agency":
		if r.Fallback != nil {
			return r.Fallback
		}
	}
	return r.Primary
}

func Redact(input string, patterns []string) string {
	out := input
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return strings.TrimSpace(out)
}

// injectionPatterns matches common prompt injection attempts in external data.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?above\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)system\s*:\s*you`),
	regexp.MustCompile(`(?i)<<\s*SYS\s*>>`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)\[/INST\]`),
	regexp.MustCompile(`(?i)<\|im_start\|>`),
	regexp.MustCompile(`(?i)<\|im_end\|>`),
	regexp.MustCompile(`(?i)</?think>`),
}

// SanitizePromptInput cleans knowledge-base text before it is placed in a
// system prompt: control characters and injection phrases are removed.
func SanitizePromptInput(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	for _, re := range injectionPatterns {
		cleaned = re.ReplaceAllString(cleaned, "[FILTERED]")
	}
	return cleaned
}
