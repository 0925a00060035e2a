package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/logger"
	"github.com/spigell/hirebot/internal/utils"
	"go.uber.org/zap"
)

const (
	providerName        = "openai"
	defaultModel        = "llama-3.3-70b-versatile"
	defaultBaseURL      = "https://api.groq.com/openai/v1"
	defaultMaxLogLength = 200
)

// wait blocks between retries and returns early when ctx ends.
var wait = utils.WaitFor

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// Config describes an OpenAI-compatible chat completions endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	MaxRetries   int
	Temperature  float64
	MaxLogLength int
}

// Client implements ai.Responder on top of any OpenAI-compatible API (OpenAI, Groq, vLLM).
type Client struct {
	api         chatCompleter
	model       string
	maxRetries  int
	temperature float32
	maxLogLen   int
	logger      *zap.Logger
}

// New creates a Client. BaseURL defaults to Groq.
func New(cfg Config, log *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultBaseURL
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	return &Client{
		api:         goopenai.NewClientWithConfig(clientCfg),
		model:       model,
		maxRetries:  cfg.MaxRetries,
		temperature: float32(cfg.Temperature),
		maxLogLen:   maxLogLen,
		logger:      logger.WithCommonFields(log, providerName, model),
	}, nil
}

// Respond implements ai.Responder.
func (c *Client) Respond(ctx context.Context, req ai.Request) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: prompt})

	completion := goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}
	if req.Shape == ai.ShapeJSON {
		completion.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	log := c.log().With(zap.String("task", req.Task), zap.Stringer("shape", req.Shape))
	log.Debug("chat completion request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLen)),
	)

	policy := ai.RetryPolicy{
		MaxAttempts: c.maxRetries,
		Wait:        waitFor,
	}

	out, err := ai.Retry(ctx, policy, log, func(ctx context.Context) (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, completion)
		if err != nil {
			return "", fmt.Errorf("create chat completion: %w", classify(err))
		}

		for _, choice := range resp.Choices {
			if text := strings.TrimSpace(choice.Message.Content); text != "" {
				return text, nil
			}
		}
		return "", ai.ErrEmptyResponse
	})
	if err != nil {
		return "", err
	}

	log.Debug("chat completion response",
		zap.Int("response_length", utf8.RuneCountInString(out)),
		zap.String("response_preview", utils.TruncateForLog(out, c.maxLogLen)),
	)
	return out, nil
}

// Provider implements ai.Responder.
func (c *Client) Provider() string {
	return providerName
}

// Model implements ai.Responder.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) log() *zap.Logger {
	if c.logger == nil {
		return zap.NewNop()
	}
	return c.logger
}

func waitFor(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wait(ctx, d)
}

func classify(err error) error {
	status := 0

	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return err
	}

	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &ai.TransientError{Err: err}
	default:
		return err
	}
}
