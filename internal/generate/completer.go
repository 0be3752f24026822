package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 1024
)

var (
	// ErrEmptyCompletion indicates the model answered without any text.
	ErrEmptyCompletion = errors.New("generate: empty completion")
	// ErrMissingAPIKey indicates the completer was built without credentials.
	ErrMissingAPIKey = errors.New("generate: missing api key")
)

// Completer turns a system prompt and a user prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
	Model() string
}

// AnthropicConfig configures an AnthropicCompleter.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	// RequestOptions are appended to the client options, e.g. a base URL in tests.
	RequestOptions []option.RequestOption
}

// AnthropicCompleter calls the Anthropic Messages API.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompleter builds a completer from configuration.
func NewAnthropicCompleter(config AnthropicConfig) (*AnthropicCompleter, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, config.RequestOptions...)
	return &AnthropicCompleter{
		client:    anthropic.NewClient(options...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Model returns the configured model name.
func (completer *AnthropicCompleter) Model() string {
	return completer.model
}

// Complete sends one user message and concatenates the text blocks of the reply.
func (completer *AnthropicCompleter) Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(completer.model),
		MaxTokens: completer.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	message, err := completer.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate: anthropic messages: %w", err)
	}

	var builder strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			builder.WriteString(text.Text)
		}
	}
	result := strings.TrimSpace(builder.String())
	if result == "" {
		return "", ErrEmptyCompletion
	}
	return result, nil
}
