// Package llm holds the language-model integration: a provider-agnostic
// completion client, a Redis-backed daily budget, and the three bounded
// prompt kinds (mapping synthesis, subject-filter synthesis, gate
// evaluation) the rest of the pipeline drives through it.
// LLM_PROVIDER/LLM_API_KEY describe an external HTTP completion endpoint,
// so the transport is a plain net/http JSON client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Usage reports token consumption for one completion, enough for the
// budget's cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the Go-side interface to a completion backend. Complete is
// synchronous: none of this pipeline's three prompt kinds need streaming.
type Provider interface {
	Complete(ctx context.Context, prompt string) (text string, usage Usage, err error)
}

// HTTPProvider POSTs a JSON completion request to any OpenAI-compatible
// style endpoint and decodes a {text, input_tokens, output_tokens} body.
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// NewHTTPProvider builds a Provider against baseURL using the given model
// parameters. A 30s timeout client is used by default; callers needing a
// different timeout should inject one via WithHTTPClient.
func NewHTTPProvider(baseURL, apiKey, model string, temperature float64, maxTokens int) *HTTPProvider {
	return &HTTPProvider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient overrides the underlying http.Client, primarily for tests.
func (p *HTTPProvider) WithHTTPClient(c *http.Client) *HTTPProvider {
	p.httpClient = c
	return p
}

// Ping reports whether the completion endpoint is reachable, used by the
// health endpoint's dependency probe. It hits baseURL's root rather than
// the completions path so a ping never consumes budget or burns tokens.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

type completionRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Prompt      string  `json:"prompt"`
}

type completionResponse struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (p *HTTPProvider) Complete(ctx context.Context, prompt string) (string, Usage, error) {
	reqBody, err := json.Marshal(completionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Prompt:      prompt,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("completion request returned status %d", resp.StatusCode)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	return out.Text, Usage{InputTokens: out.InputTokens, OutputTokens: out.OutputTokens}, nil
}
