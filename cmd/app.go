package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/ai/gemini"
	"github.com/spigell/hirebot/internal/ai/mock"
	"github.com/spigell/hirebot/internal/ai/openai"
	"github.com/spigell/hirebot/internal/artifacts"
	"github.com/spigell/hirebot/internal/extract"
	"github.com/spigell/hirebot/internal/logger"
	"github.com/spigell/hirebot/internal/screening"
	"github.com/spigell/hirebot/internal/secrets"
	"github.com/spigell/hirebot/internal/store"
	"github.com/spigell/hirebot/internal/workers"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
	providerMock   = "mock"
)

// setup builds the logger and reads the configuration. Both are required by every command.
func setup() (*zap.Logger, *Config) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil || config.Server == nil || config.Screening == nil || config.Uploads == nil ||
		config.Storage == nil || config.Extractor == nil || config.AI == nil {
		logger.Fatal("config is incomplete")
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	return logger, config
}

// redacted returns a copy of the config without inline secrets.
func redacted(cfg *Config) *Config {
	out := *cfg
	if cfg.AI != nil {
		aiCfg := *cfg.AI
		if aiCfg.Gemini != nil && aiCfg.Gemini.APIKey != "" {
			g := *aiCfg.Gemini
			g.APIKey = "<redacted>"
			aiCfg.Gemini = &g
		}
		if aiCfg.OpenAI != nil && aiCfg.OpenAI.APIKey != "" {
			o := *aiCfg.OpenAI
			o.APIKey = "<redacted>"
			aiCfg.OpenAI = &o
		}
		out.AI = &aiCfg
	}
	if cfg.Storage != nil && cfg.Storage.Postgres != nil && cfg.Storage.Postgres.DSN != "" {
		st := *cfg.Storage
		pg := *st.Postgres
		pg.DSN = "<redacted>"
		st.Postgres = &pg
		out.Storage = &st
	}
	return &out
}

// newResponder creates the language model client for the configured provider.
func newResponder(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (ai.Responder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", providerGemini:
		g := cfg.Gemini
		if g == nil {
			g = &GeminiConfig{}
		}

		var apiKey string
		if !strings.EqualFold(g.Backend, gemini.BackendVertexAI) {
			key, err := secrets.Load(secrets.Source{
				Name:  "gemini api key",
				File:  g.APIKeyFile,
				Env:   "GEMINI_API_KEY",
				Value: g.APIKey,
			})
			if err != nil {
				return nil, err
			}
			apiKey = key
		}

		return gemini.NewGenerator(ctx, gemini.Config{
			APIKey:       apiKey,
			Model:        g.Model,
			Backend:      g.Backend,
			Project:      g.Project,
			Location:     g.Location,
			MaxRetries:   cfg.MaxRetries,
			Temperature:  cfg.Temperature,
			MaxLogLength: cfg.MaxLogLength,
		}, logger)
	case providerOpenAI:
		o := cfg.OpenAI
		if o == nil {
			o = &OpenAIConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			File:  o.APIKeyFile,
			Env:   openAIKeyEnv(o.BaseURL),
			Value: o.APIKey,
		})
		if err != nil {
			return nil, err
		}

		return openai.New(openai.Config{
			APIKey:       apiKey,
			BaseURL:      o.BaseURL,
			Model:        o.Model,
			MaxRetries:   cfg.MaxRetries,
			Temperature:  cfg.Temperature,
			MaxLogLength: cfg.MaxLogLength,
		}, logger)
	case providerMock:
		logger.Warn("using the mock responder, answers are canned")
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// openAIKeyEnv picks the conventional key variable for the endpoint.
func openAIKeyEnv(baseURL string) string {
	if baseURL == "" || strings.Contains(baseURL, "groq.com") {
		return "GROQ_API_KEY"
	}
	return "OPENAI_API_KEY"
}

// components are the long-lived parts shared by serve, interview and export.
type components struct {
	service *screening.Service
	store   screening.Store
	pool    *workers.Pool

	closeStore func() error
}

type componentOptions struct {
	// noExpiry keeps sessions until they are deleted explicitly.
	noExpiry bool
	// storage overrides the configured backend when not empty.
	storage string
	// withoutModel skips responder creation, used by read-only commands.
	withoutModel bool
}

func newComponents(ctx context.Context, cfg *Config, logger *zap.Logger, opts componentOptions) (*components, error) {
	var responder ai.Responder = mock.New()
	if !opts.withoutModel {
		r, err := newResponder(ctx, cfg.AI, logger)
		if err != nil {
			return nil, fmt.Errorf("creating a language model client: %w", err)
		}
		responder = r
	}

	uploads, err := artifacts.New(cfg.Uploads.Dir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("preparing the uploads directory: %w", err)
	}

	storeCfg := store.Config{Backend: cfg.Storage.Backend}
	if opts.storage != "" {
		storeCfg.Backend = opts.storage
	}
	if cfg.Storage.SQLite != nil {
		storeCfg.SQLite.Path = cfg.Storage.SQLite.Path
	}
	if cfg.Storage.Postgres != nil {
		storeCfg.Postgres.DSN = cfg.Storage.Postgres.DSN
		storeCfg.Postgres.MaxConns = cfg.Storage.Postgres.MaxConns
	}

	sessions, closeStore, err := store.Open(ctx, storeCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening the session store: %w", err)
	}

	pool := workers.New(logger,
		workers.WithWorkers(cfg.Screening.MaxConcurrency),
		workers.WithQueueSize(cfg.Screening.MaxQueue),
	)

	idle := cfg.Screening.IdleTimeout
	if opts.noExpiry {
		idle = 0
	}

	svc, err := screening.NewService(screening.Config{
		QuestionCount:  cfg.Screening.QuestionCount,
		AgentName:      cfg.Screening.AgentName,
		HRManagerName:  cfg.Screening.HRManagerName,
		ModelTimeout:   cfg.Screening.ModelTimeout,
		ExtractTimeout: cfg.Screening.ExtractTimeout,
		IdleTimeout:    idle,
		SweepInterval:  cfg.Screening.SweepInterval,
		MaxLogLength:   cfg.AI.MaxLogLength,
	}, screening.Deps{
		Store:     sessions,
		Responder: responder,
		Extractor: extract.New(extract.Config{Binary: cfg.Extractor.Binary, MaxPages: cfg.Extractor.MaxPages}, logger),
		Artifacts: uploads,
		Pool:      pool,
		Logger:    logger,
	})
	if err != nil {
		pool.Shutdown(ctx)
		return nil, errors.Join(fmt.Errorf("creating the screening service: %w", err), closeStore())
	}

	logger.Info("screening service is ready",
		zap.String("storage", storeCfg.Backend),
		zap.String("ai_provider", responder.Provider()),
		zap.String("ai_model", responder.Model()),
	)

	return &components{service: svc, store: sessions, pool: pool, closeStore: closeStore}, nil
}

// close drains the worker pool and releases the store.
func (c *components) close(ctx context.Context, logger *zap.Logger) {
	c.pool.Shutdown(ctx)
	if err := c.closeStore(); err != nil {
		logger.Error("closing the session store", zap.Error(err))
	}
}
