package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pitch-perfect/backend/internal/metrics"
	"github.com/pitch-perfect/backend/pkg/circuitbreaker"
	"github.com/pitch-perfect/backend/pkg/logger"
	"github.com/pitch-perfect/backend/pkg/retry"
)

// Client is the single handle to the external AI service. It is built once by
// the composition root and shared by every request; it holds no per-request state.
type Client struct {
	client               *openai.Client
	defaultModel         string
	embeddingModel       string
	transcriptionModel   string
	temperature          float32
	maxTokens            int
	timeout              time.Duration
	transcriptionTimeout time.Duration
	cb                   *circuitbreaker.CircuitBreaker
	retryConfig          retry.Config
}

type Config struct {
	APIKey               string
	BaseURL              string
	DefaultModel         string
	EmbeddingModel       string
	TranscriptionModel   string
	Temperature          float32
	MaxTokens            int
	Timeout              time.Duration
	TranscriptionTimeout time.Duration
	HTTPClient           *http.Client
	Retry                *retry.Config
}

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.TranscriptionTimeout == 0 {
		cfg.TranscriptionTimeout = 3 * time.Minute
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        countsAgainstBreaker,
		OnStateChange: func(name string, _ circuitbreaker.State, to circuitbreaker.State) {
			metrics.LLMBreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		ShouldRetry:    isTransient,
		Logger:         logger.GetLogger(),
	}
	if cfg.Retry != nil {
		retryConfig = *cfg.Retry
		if retryConfig.ShouldRetry == nil {
			retryConfig.ShouldRetry = isTransient
		}
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.DefaultModel),
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.String("transcription_model", cfg.TranscriptionModel),
	)

	return &Client{
		client:               openai.NewClientWithConfig(clientConfig),
		defaultModel:         cfg.DefaultModel,
		embeddingModel:       cfg.EmbeddingModel,
		transcriptionModel:   cfg.TranscriptionModel,
		temperature:          cfg.Temperature,
		maxTokens:            cfg.MaxTokens,
		timeout:              cfg.Timeout,
		transcriptionTimeout: cfg.TranscriptionTimeout,
		cb:                   cb,
		retryConfig:          retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryFor("completion"), func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.String("model", model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content := ""
			if len(resp.Choices) > 0 {
				content = resp.Choices[0].Message.Content
			}

			result = &CompletionResponse{
				Content: content,
				Model:   model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

// Transcribe sends an audio file to the speech-to-text endpoint and returns
// plain text. It is deliberately not retried: the caller decides.
func (c *Client) Transcribe(ctx context.Context, filePath, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.transcriptionTimeout)
	defer cancel()

	var text string

	err := c.cb.Execute(ctx, func() error {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    c.transcriptionModel,
			FilePath: filePath,
			Language: language,
			Format:   openai.AudioResponseFormatText,
		})
		if err != nil {
			return fmt.Errorf("failed to transcribe audio: %w", err)
		}

		text = resp.Text
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Debug("Audio transcribed",
		zap.String("model", c.transcriptionModel),
		zap.Int("text_length", len(text)),
	)

	return text, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embedding, err := retry.DoWithResult(ctx, c.retryFor("embedding"), func() ([]float32, error) {
		var out []float32
		err := c.cb.Execute(ctx, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return errors.New("embedding response contained no data")
			}

			out = make([]float32, len(resp.Data[0].Embedding))
			copy(out, resp.Data[0].Embedding)

			metrics.LLMTokensUsed.WithLabelValues(c.embeddingModel, "embedding").Add(float64(resp.Usage.TotalTokens))
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

func (c *Client) retryFor(operation string) retry.Config {
	cfg := c.retryConfig
	cfg.OnRetry = func(int, error) {
		metrics.LLMRetries.WithLabelValues(operation).Inc()
	}
	return cfg
}

// isTransient reports whether a failed call is worth repeating: rate limits,
// server errors and transport failures are; other 4xx responses are not.
func isTransient(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}

	status := statusCode(err)
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func countsAgainstBreaker(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	status := statusCode(err)
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return false
	}
	return true
}

func statusCode(err error) int {
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
