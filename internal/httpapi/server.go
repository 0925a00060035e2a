// Package httpapi exposes the screening service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/spigell/hirebot/internal/screening"
	"go.uber.org/zap"
)

const defaultMaxUploadBytes = 10 << 20

// Screener is the subset of screening.Service the API drives.
type Screener interface {
	Start(ctx context.Context, candidateName string) (*screening.StartResult, error)
	IngestResume(ctx context.Context, id string, upload screening.ResumeUpload) (*screening.Session, error)
	Questions(ctx context.Context, id string) (screening.QuestionSet, error)
	SubmitAnswers(ctx context.Context, id string, answers map[string]string) (*screening.Outcome, error)
	Status(ctx context.Context, id string) (screening.Summary, error)
	List(ctx context.Context) ([]screening.Summary, error)
	Delete(ctx context.Context, id string) error
	ActiveSessions(ctx context.Context) (int, error)
}

// Exporter renders the session report.
type Exporter interface {
	XLSX(ctx context.Context) ([]byte, error)
}

// Config tunes request handling.
type Config struct {
	MaxUploadBytes int64
	Now            func() time.Time
}

// Server routes HTTP requests to the screening service.
type Server struct {
	svc      Screener
	exporter Exporter
	cfg      Config
	logger   *zap.Logger
}

// New builds the API server. exporter may be nil, which disables the export route.
func New(svc Screener, exporter Exporter, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Server{svc: svc, exporter: exporter, cfg: cfg, logger: logger}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleWelcome)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /sessions/start", s.handleStart)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/export", s.handleExport)
	mux.HandleFunc("POST /sessions/{id}/upload-resume", s.handleUploadResume)
	mux.HandleFunc("GET /sessions/{id}/tech-questions", s.handleQuestions)
	mux.HandleFunc("POST /sessions/{id}/submit-answers", s.handleSubmitAnswers)
	mux.HandleFunc("GET /sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)

	return chain(mux,
		s.withRequestID,
		s.withAccessLog,
		s.withRecover,
		withCORS,
	)
}
