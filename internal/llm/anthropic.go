package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAnthropicBase = "https://api.anthropic.com"
const anthropicVersion = "2023-06-01"

type AnthropicClient struct {
	APIBase    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicClient) Chat(ctx context.Context, in Request) (Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return Response{}, errors.New("anthropic api key required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return Response{}, errors.New("anthropic model required")
	}
	if len(in.Messages) == 0 {
		return Response{}, errors.New("anthropic requires at least one message")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	reqBody := anthropicRequest{
		Model:       c.Model,
		System:      in.System,
		MaxTokens:   maxTokens(in.MaxTokens),
		Temperature: in.Temperature,
		Messages:    in.Messages,
	}
	body, err := marshalJSON(reqBody)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.APIBase, defaultAnthropicBase, "/messages"), bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	for _, block := range out.Content {
		if strings.TrimSpace(block.Text) != "" {
			return Response{Content: block.Text, TotalTokens: out.Usage.InputTokens + out.Usage.OutputTokens}, nil
		}
	}
	return Response{}, errors.New("anthropic empty response")
}
