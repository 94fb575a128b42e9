// Package enrich implements the parallel enrichment engine: LLM
// classification of ingested documents, derived tagging, redaction drafts,
// embedding generation, and job progress tracking.
package enrich

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/evidify/evidify-cli/config"
	apperrors "github.com/evidify/evidify-cli/pkg/errors"
)

const (
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"

	// EmbeddingDimensions is the fixed width of stored vectors.
	EmbeddingDimensions = 1536

	chatTemperature = 0.3
	chatMaxTokens   = 700
)

// LLMClient is the external model dependency. The openai-backed
// implementation is safe for concurrent use and is shared across workers.
type LLMClient interface {
	// Complete sends a system + user prompt pair and returns the text reply.
	Complete(ctx context.Context, system, user string) (string, error)

	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIClient wraps a langchaingo OpenAI-compatible model endpoint.
type OpenAIClient struct {
	llm            *openai.LLM
	embeddingModel string
}

// NewOpenAIClient builds the client from enrichment configuration. The API
// key is read from the environment variable named by api_key_env; it is never
// stored in configuration files.
func NewOpenAIClient(cfg config.EnrichmentConfig) (*OpenAIClient, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", apperrors.ErrConfig, keyEnv)
	}

	model := cfg.Model
	if model == "" {
		model = defaultChatModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	opts := []openai.Option{
		openai.WithToken(key),
		openai.WithModel(model),
		openai.WithEmbeddingModel(embeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: initializing LLM client: %v", apperrors.ErrConfig, err)
	}

	return &OpenAIClient{llm: llm, embeddingModel: embeddingModel}, nil
}

// EmbeddingModel returns the model name recorded alongside stored vectors.
func (c *OpenAIClient) EmbeddingModel() string { return c.embeddingModel }

// Complete implements LLMClient with the engine's retry policy: transient
// failures are retried with exponential backoff (base 2s, cap 10s, 3
// attempts).
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	var reply string
	operation := func() error {
		resp, err := c.llm.GenerateContent(ctx, messages,
			llms.WithTemperature(chatTemperature),
			llms.WithMaxTokens(chatMaxTokens))
		if err != nil {
			if isRateLimited(err) {
				return fmt.Errorf("%w: %v", apperrors.ErrRateLimit, err)
			}
			return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%w: empty response", apperrors.ErrLLMParse))
		}
		reply = resp.Choices[0].Content
		return nil
	}

	if err := backoff.Retry(operation, retryPolicy(ctx)); err != nil {
		return "", err
	}
	return reply, nil
}

// Embed implements LLMClient.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	operation := func() error {
		out, err := c.llm.CreateEmbedding(ctx, texts)
		if err != nil {
			if isRateLimited(err) {
				return fmt.Errorf("%w: %v", apperrors.ErrRateLimit, err)
			}
			return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
		}
		vectors = out
		return nil
	}

	if err := backoff.Retry(operation, retryPolicy(ctx)); err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			apperrors.ErrLLMParse, len(texts), len(vectors))
	}
	return vectors, nil
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests")
}
