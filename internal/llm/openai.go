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

const defaultOpenAIBase = "https://api.openai.com"

// OpenAIClient speaks the chat completions API, which local model servers
// also implement.
type OpenAIClient struct {
	APIBase    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func (c *OpenAIClient) Chat(ctx context.Context, in Request) (Response, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return Response{}, errors.New("openai api key required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return Response{}, errors.New("openai model required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	msgs := make([]Message, 0, len(in.Messages)+1)
	if strings.TrimSpace(in.System) != "" {
		msgs = append(msgs, Message{Role: "system", Content: in.System})
	}
	msgs = append(msgs, in.Messages...)
	reqBody := openAIRequest{
		Model:       c.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens(in.MaxTokens),
		Temperature: in.Temperature,
	}
	body, err := marshalJSON(reqBody)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.APIBase, defaultOpenAIBase, "/chat/completions"), bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Response{}, errors.New("openai empty response")
	}
	return Response{Content: out.Choices[0].Message.Content, TotalTokens: out.Usage.TotalTokens}, nil
}
