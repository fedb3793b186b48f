package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/medcode-agent/backend/pkg/circuitbreaker"
	"github.com/medcode-agent/backend/pkg/logger"
	"github.com/medcode-agent/backend/pkg/retry"
)

// ErrReasoning marks a failed reasoning invocation: the model call errored
// or its reply did not conform to the requested output schema.
var ErrReasoning = errors.New("reasoning failure")

type Client struct {
	client         *openai.Client
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// InvokeRequest is one structured reasoning invocation. Model selects the
// role-specific model, Instructions carry the stage rules and Payload the
// input the stage reasons over.
type InvokeRequest struct {
	Model        string
	Instructions string
	Payload      string
	MaxTokens    int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates token usage across stage invocations.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

func NewClient(apiKey, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	timeout := time.Duration(timeoutSec) * time.Second
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// Invoke runs one reasoning invocation in JSON mode and decodes the reply
// into out. Transport errors are retried behind the breaker; a reply that
// cannot be decoded into out is a schema violation and fails immediately.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest, out interface{}) (Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Payload,
		},
	}

	var usage Usage
	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       req.Model,
					Messages:    messages,
					Temperature: c.temperature,
					MaxTokens:   maxTokens,
					ResponseFormat: &openai.ChatCompletionResponseFormat{
						Type: openai.ChatCompletionResponseFormatTypeJSONObject,
					},
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			usage = Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
			content = resp.Choices[0].Message.Content

			logger.Debug("Reasoning invocation completed",
				zap.String("model", req.Model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			return nil
		})
	})

	if err != nil {
		return usage, fmt.Errorf("%w: %v", ErrReasoning, err)
	}

	if err := json.Unmarshal([]byte(stripCodeFence(content)), out); err != nil {
		return usage, fmt.Errorf("%w: schema-non-conforming output: %v", ErrReasoning, err)
	}

	return usage, nil
}

// GenerateBatchEmbeddings embeds all texts in a single round trip. The same
// model embeds queries and catalog entries so retrieval stays reproducible.
func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embeddings [][]float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: texts,
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			if len(resp.Data) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
			}

			embeddings = make([][]float32, len(resp.Data))
			for i, data := range resp.Data {
				vec := make([]float32, len(data.Embedding))
				copy(vec, data.Embedding)
				embeddings[i] = vec
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

// EmbeddingModel reports the model identifier used for cache keying.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}
