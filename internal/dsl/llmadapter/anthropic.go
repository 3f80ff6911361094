package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// AnthropicAdapter calls the Anthropic messages API directly. It mirrors the
// teacher's internal/llm/providers/anthropic adapter: environment-driven
// construction, a client with no request-level timeout (context deadlines do
// that job instead), and a thin JSON envelope.
type AnthropicAdapter struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewAnthropicFromEnv builds an adapter from ANTHROPIC_API_KEY and the
// optional ANTHROPIC_BASE_URL / ANTHROPIC_MODEL overrides.
func NewAnthropicFromEnv() (*AnthropicAdapter, error) {
	key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil, fmt.Errorf("llmadapter: ANTHROPIC_API_KEY is required")
	}
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	model := strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL"))
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicAdapter{
		APIKey:  key,
		BaseURL: base,
		Model:   model,
		Client:  &http.Client{Timeout: 0},
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends prompt as a single user turn and returns the concatenated
// text blocks of the response.
func (a *AnthropicAdapter) Generate(ctx context.Context, prompt string) (string, error) {
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     a.Model,
		MaxTokens: 4096,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", &AdapterError{Provider: "anthropic", Message: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", &AdapterError{Provider: "anthropic", Message: "build request", Err: err}
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", a.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.Client.Do(req)
	if err != nil {
		return "", &AdapterError{Provider: "anthropic", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AdapterError{Provider: "anthropic", Message: "read response", Err: err}
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &AdapterError{Provider: "anthropic", Message: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return "", &AdapterError{Provider: "anthropic", Message: parsed.Error.Message}
	}
	if resp.StatusCode >= 300 {
		return "", &AdapterError{Provider: "anthropic", Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))}
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
