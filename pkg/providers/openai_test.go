package providers

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/llmflow/graphrag/pkg/config"
	"github.com/llmflow/graphrag/pkg/domain"
)

// The port is reserved, so every attempt fails immediately. Without the
// deadline the retry backoff alone would sleep for seconds.
const unreachableBaseURL = "http://127.0.0.1:1"

func TestGenerateHonorsConfiguredTimeout(t *testing.T) {
	llm := NewOpenAILLM(config.LLMConfig{
		BaseURL:       unreachableBaseURL,
		APIKey:        "test",
		Model:         "test-model",
		AnswerTimeout: 50 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	_, err := llm.Generate(context.Background(), "ping", nil)

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Less(t, time.Since(start), time.Second, "the deadline cuts the retry backoff short")
}

func TestGenerateOptionTimeoutOverridesConfig(t *testing.T) {
	llm := NewOpenAILLM(config.LLMConfig{
		BaseURL:       unreachableBaseURL,
		APIKey:        "test",
		Model:         "test-model",
		AnswerTimeout: time.Hour,
	}, zerolog.Nop())

	start := time.Now()
	_, err := llm.Generate(context.Background(), "ping",
		&GenerateOptions{Timeout: 50 * time.Millisecond})

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmbedHonorsConfiguredTimeout(t *testing.T) {
	e := NewOpenAIEmbedder(config.EmbeddingConfig{
		BaseURL:   unreachableBaseURL,
		APIKey:    "test",
		Model:     "embed",
		Dimension: 4,
		Timeout:   50 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	_, err := e.Embed(context.Background(), []string{"text"})

	assert.ErrorIs(t, err, domain.ErrEmbeddingFailed)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	llm := NewOpenAILLM(config.LLMConfig{BaseURL: unreachableBaseURL, APIKey: "test"}, zerolog.Nop())
	_, err := llm.Generate(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
