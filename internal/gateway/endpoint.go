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

// EndpointProvider talks to single-purpose generation endpoints that accept
// {"text": prompt} and answer {"response": reply}.
type EndpointProvider struct {
	client *http.Client
}

func NewEndpointProvider(timeout time.Duration) *EndpointProvider {
	return &EndpointProvider{client: &http.Client{Timeout: timeout}}
}

type endpointRequest struct {
	Text string `json:"text"`
}

type endpointResponse struct {
	Response string `json:"response"`
}

func (p *EndpointProvider) Complete(ctx context.Context, m Model, prompt string) (string, error) {
	if m.Endpoint == "" {
		return "", fmt.Errorf("model %q has no endpoint", m.Name)
	}
	body, err := json.Marshal(endpointRequest{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("endpoint call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("endpoint error %d: %s", resp.StatusCode, string(respBody))
	}

	var out endpointResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return out.Response, nil
}
