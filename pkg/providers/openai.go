package providers

import (
	"context"
	"fmt"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

// LLM is the chat-completion surface the service depends on. The production
// implementation talks to an OpenAI-compatible endpoint; tests substitute a
// stub.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts *GenerateOptions) (string, error)
	GenerateWithSystem(ctx context.Context, system, prompt string, opts *GenerateOptions) (string, error)
}

// GenerateOptions tunes a single completion call. A positive Timeout
// overrides the client's configured answer timeout for this call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const (
	maxAttempts    = 3
	initialBackoff = time.Second
)

// OpenAILLM implements LLM over an OpenAI-compatible chat endpoint with
// bounded retries and exponential backoff on transport errors.
type OpenAILLM struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOpenAILLM creates the chat client from config. cfg.AnswerTimeout bounds
// each call unless the caller overrides it per request.
func NewOpenAILLM(cfg config.LLMConfig, logger zerolog.Logger) *OpenAILLM {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: cfg.AnswerTimeout,
		logger:  logger,
	}
}

// Generate produces a completion for a single user prompt.
func (p *OpenAILLM) Generate(ctx context.Context, prompt string, opts *GenerateOptions) (string, error) {
	return p.GenerateWithSystem(ctx, "", prompt, opts)
}

// GenerateWithSystem produces a completion with an optional system message.
func (p *OpenAILLM) GenerateWithSystem(ctx context.Context, system, prompt string, opts *GenerateOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput)
	}

	timeout := p.timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if opts != nil {
		if opts.Temperature >= 0 {
			params.Temperature = openai.Float(opts.Temperature)
		}
		if opts.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
		}
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		completion, err := p.client.Chat.Completions.New(ctx, params)
		if err == nil {
			if len(completion.Choices) == 0 {
				return "", fmt.Errorf("%w: no choices returned", domain.ErrGenerationFailed)
			}
			return completion.Choices[0].Message.Content, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("llm call failed, retrying")
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, lastErr)
}
