package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/perbu/qest/pkg/metrics"
	"github.com/perbu/qest/pkg/qest"
)

// Request is a single prompt for a language model.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// LLM turns a prompt into text.
type LLM interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ChatModel implements LLM with the OpenAI chat completions API. With an
// Azure client configuration the model name selects the deployment.
type ChatModel struct {
	client *openai.Client
	model  string
}

// NewChatModel creates a chat model from a client configuration.
func NewChatModel(cfg openai.ClientConfig, model string) (*ChatModel, error) {
	if model == "" {
		return nil, errors.New("chat model not set")
	}
	return &ChatModel{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Complete sends the system and user prompt and returns the trimmed reply.
func (m *ChatModel) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(m.model, metrics.StatusError).Inc()
		return "", fmt.Errorf("%w: chat completion: %w", qest.ErrExternal, err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(m.model, metrics.StatusError).Inc()
		return "", fmt.Errorf("%w: chat completion returned no choices", qest.ErrExternal)
	}

	metrics.LLMRequestsTotal.WithLabelValues(m.model, metrics.StatusOK).Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
