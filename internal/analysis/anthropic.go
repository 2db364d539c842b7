package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

// AnthropicBackend calls the Anthropic messages API and extracts the JSON
// object from the first text block.
type AnthropicBackend struct {
	client *anthropic.Client
	model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
	// BaseURL is optional; tests point it at a local server.
	BaseURL string
}

func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("analysis: anthropic model is required")
	}
	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	return &AnthropicBackend{client: anthropic.NewClient(cfg.APIKey, opts...), model: cfg.Model}, nil
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return Analysis{}, ErrEmptyTranscript
	}
	prompt := BuildPrompt(req)
	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(b.model),
		MaxTokens: 500,
		System:    SystemPrompt(),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return Analysis{}, ClassifyError(b.Name(), anthropicStatus(err), err)
	}
	text := firstText(resp)
	if text == "" {
		return Analysis{}, &Error{Kind: KindBadResponse, Backend: b.Name(), Retryable: true, Cause: errors.New("no text content in response")}
	}
	a, err := ParseResult([]byte(text))
	if err != nil {
		return Analysis{}, &Error{Kind: KindBadResponse, Backend: b.Name(), Retryable: true, Cause: err}
	}
	a.Backend = b.Name()
	return a, nil
}

func firstText(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

// anthropicStatus recovers an HTTP status from the SDK's error text.
func anthropicStatus(err error) int {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate_limit"):
		return 429
	case strings.Contains(lower, "overloaded"):
		return 529
	case strings.Contains(lower, "authentication_error"), strings.Contains(lower, "permission_error"):
		return 401
	case strings.Contains(lower, "invalid_request_error"):
		return 400
	case strings.Contains(lower, "api_error"):
		return 500
	}
	return 0
}
