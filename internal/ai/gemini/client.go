package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/logger"
	"github.com/spigell/hirebot/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	providerName        = "gemini"
	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200

	// BackendGeminiAPI talks to generativelanguage.googleapis.com with an API key.
	BackendGeminiAPI = "gemini-api"
	// BackendVertexAI talks to Vertex AI with application default credentials.
	BackendVertexAI = "vertex"
)

var (
	// wait blocks between retries and returns early when ctx ends.
	wait = utils.WaitFor

	retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*s`)
)

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (g genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	return g.chats.Create(ctx, model, config, history)
}

// Config describes how to reach Gemini.
type Config struct {
	APIKey   string
	Model    string
	Backend  string
	Project  string
	Location string

	MaxRetries   int
	Temperature  float64
	MaxLogLength int
}

// Generator wraps the Google GenAI client and implements ai.Responder.
type Generator struct {
	chats       chatCreator
	model       string
	maxRetries  int
	temperature *float32
	maxLogLen   int
	logger      *zap.Logger
}

// NewGenerator creates a Generator for the configured backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	clientCfg := &genai.ClientConfig{}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendGeminiAPI:
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("gemini api key is required")
		}
		clientCfg.APIKey = apiKey
		clientCfg.Backend = genai.BackendGeminiAPI
	case BackendVertexAI:
		if strings.TrimSpace(cfg.Project) == "" || strings.TrimSpace(cfg.Location) == "" {
			return nil, errors.New("vertex backend requires project and location")
		}
		clientCfg.Project = cfg.Project
		clientCfg.Location = cfg.Location
		clientCfg.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("unsupported gemini backend: %s", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	g := &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		maxRetries: cfg.MaxRetries,
		maxLogLen:  maxLogLen,
		logger:     logger.WithCommonFields(log, providerName, model),
	}
	if cfg.Temperature > 0 {
		g.temperature = genai.Ptr(float32(cfg.Temperature))
	}

	return g, nil
}

// GenerateContent sends message with the given system instruction and returns the text answer.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	return g.generate(ctx, system, message, nil)
}

// Respond implements ai.Responder. JSON requests switch the model into JSON output mode.
func (g *Generator) Respond(ctx context.Context, req ai.Request) (string, error) {
	var extra *genai.GenerateContentConfig
	if req.Shape == ai.ShapeJSON {
		extra = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	log := g.log().With(zap.String("task", req.Task), zap.Stringer("shape", req.Shape))
	log.Debug("gemini request",
		zap.Int("prompt_length", utf8.RuneCountInString(req.Prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(req.Prompt, g.maxLogLen)),
	)

	out, err := g.generate(ctx, req.System, req.Prompt, extra)
	if err != nil {
		return "", err
	}

	log.Debug("gemini response",
		zap.Int("response_length", utf8.RuneCountInString(out)),
		zap.String("response_preview", utils.TruncateForLog(out, g.maxLogLen)),
	)
	return out, nil
}

func (g *Generator) generate(ctx context.Context, system, message string, extra *genai.GenerateContentConfig) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("prompt must not be empty")
	}

	config := &genai.GenerateContentConfig{}
	if extra != nil {
		*config = *extra
	}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if g.temperature != nil {
		config.Temperature = g.temperature
	}

	policy := ai.RetryPolicy{
		MaxAttempts: g.maxRetries,
		Wait:        waitFor,
	}

	return ai.Retry(ctx, policy, g.log(), func(ctx context.Context) (string, error) {
		chat, err := g.chats.Create(ctx, g.model, config, nil)
		if err != nil {
			return "", fmt.Errorf("create chat: %w", classify(err))
		}

		resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
		if err != nil {
			return "", fmt.Errorf("send message: %w", classify(err))
		}

		return responseText(resp)
	})
}

// Provider implements ai.Responder.
func (g *Generator) Provider() string {
	return providerName
}

// Model implements ai.Responder.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func (g *Generator) log() *zap.Logger {
	if g.logger == nil {
		return zap.NewNop()
	}
	return g.logger
}

func waitFor(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wait(ctx, d)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ai.ErrEmptyResponse
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", ai.ErrEmptyResponse
	}

	return output, nil
}

// classify marks retryable API failures as ai.TransientError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return err
		}
		apiErr = *ptr
	}

	switch apiErr.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &ai.TransientError{Err: err, RetryAfter: retryAfter(apiErr.Message)}
	default:
		return err
	}
}

func retryAfter(message string) time.Duration {
	match := retryAfterPattern.FindStringSubmatch(message)
	if len(match) != 2 {
		return 0
	}

	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
