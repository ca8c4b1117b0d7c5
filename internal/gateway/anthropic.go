package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicURL       = "https://api.anthropic.com/v1/messages"
	anthropicMaxTokens = 1024
)

type AnthropicProvider struct {
	apiKey       string
	defaultModel string
	url          string
	client       *http.Client
}

func NewAnthropicProvider(apiKey, defaultModel string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		url:          anthropicURL,
		client:       &http.Client{Timeout: timeout},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a single user turn to the Messages API.
func (p *AnthropicProvider) Complete(ctx context.Context, m Model, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:     m.ProviderModel,
		MaxTokens: m.MaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if reqBody.Model == "" {
		reqBody.Model = p.defaultModel
	}
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = anthropicMaxTokens
	}
	if m.Temperature > 0 {
		t := m.Temperature
		reqBody.Temperature = &t
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			return "", fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response content")
	}
	return apiResp.Content[0].Text, nil
}
