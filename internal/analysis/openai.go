package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend calls an OpenAI-compatible chat completion endpoint in JSON mode.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

type OpenAIConfig struct {
	APIKey string
	// BaseURL is optional; set it for OpenAI-compatible gateways.
	BaseURL string
	Model   string
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("analysis: openai model is required")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cc), model: cfg.Model}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Analyze(ctx context.Context, req Request) (Analysis, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return Analysis{}, ErrEmptyTranscript
	}
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		Temperature: 0.2,
		MaxTokens:   500,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Analysis{}, ClassifyError(b.Name(), openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, &Error{Kind: KindBadResponse, Backend: b.Name(), Retryable: true, Cause: errors.New("no choices in response")}
	}
	a, err := ParseResult([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return Analysis{}, &Error{Kind: KindBadResponse, Backend: b.Name(), Retryable: true, Cause: err}
	}
	a.Backend = b.Name()
	return a, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
