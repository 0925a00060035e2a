package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/extract"
	"github.com/spigell/hirebot/internal/logger"
	"github.com/spigell/hirebot/internal/workers"
	"go.uber.org/zap"
)

const (
	maxNameLength = 200

	defaultQuestionCount  = 3
	defaultAgentName      = "Janus"
	defaultHRManagerName  = "Radhika"
	defaultModelTimeout   = 2 * time.Minute
	defaultExtractTimeout = 30 * time.Second
	defaultMaxLogLength   = 200
	defaultSweepInterval  = 10 * time.Minute
)

// Extractor is the document extractor used by resume ingestion.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Result, error)
}

// ArtifactStore keeps uploaded resumes for the lifetime of their session.
type ArtifactStore interface {
	Save(sessionID, filename string, r io.Reader) (string, error)
	Remove(path string) error
}

// Dispatcher runs stage work off the caller's goroutine.
// The channel returned by Submit yields the job's result once the job has returned.
type Dispatcher interface {
	Submit(ctx context.Context, job workers.Job) (<-chan error, error)
}

// Config tunes the screening pipeline.
type Config struct {
	QuestionCount  int
	AgentName      string
	HRManagerName  string
	ModelTimeout   time.Duration
	ExtractTimeout time.Duration
	// IdleTimeout removes sessions untouched for that long. Zero disables expiry.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxLogLength  int
}

// Deps holds the collaborators of a Service. Pool, Now and NewID are optional.
type Deps struct {
	Store     Store
	Responder ai.Responder
	Extractor Extractor
	Artifacts ArtifactStore
	Pool      Dispatcher
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Service is the session state machine shared by the CLI and the HTTP API.
type Service struct {
	cfg       Config
	store     Store
	responder ai.Responder
	extractor Extractor
	artifacts ArtifactStore
	pool      Dispatcher
	logger    *zap.Logger
	locks     *keyedLock
	now       func() time.Time
	newID     func() string
}

// NewService validates the configuration and wires the collaborators.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session store is required")
	case deps.Responder == nil:
		return nil, errors.New("language model responder is required")
	case deps.Extractor == nil:
		return nil, errors.New("document extractor is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	}

	if cfg.QuestionCount == 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	if cfg.QuestionCount < 0 {
		return nil, fmt.Errorf("question count must be positive, got %d", cfg.QuestionCount)
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = defaultAgentName
	}
	if strings.TrimSpace(cfg.HRManagerName) == "" {
		cfg.HRManagerName = defaultHRManagerName
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if cfg.MaxLogLength <= 0 {
		cfg.MaxLogLength = defaultMaxLogLength
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}

	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		responder: deps.Responder,
		extractor: deps.Extractor,
		artifacts: deps.Artifacts,
		pool:      deps.Pool,
		logger:    logger.WithFields(deps.Logger),
		locks:     newKeyedLock(),
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}

	return s, nil
}

// StartResult is returned by Start.
type StartResult struct {
	Session  *Session
	Greeting string
}

// Start creates a session for the candidate and runs the greeting stage.
func (s *Service) Start(ctx context.Context, candidateName string) (*StartResult, error) {
	name := strings.TrimSpace(candidateName)
	greeting, err := s.greet(name)
	if err != nil {
		s.logger.Info("rejected session start", zap.Error(err))
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:            s.newID(),
		CandidateName: name,
		Step:          StepCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sess.Greeting = greeting
	if err := sess.advance(StepResumeUpload, now); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.sessionLogger(sess).Info("session started")
	return &StartResult{Session: sess.Clone(), Greeting: greeting}, nil
}

// IngestResume stores and parses the candidate's resume, moving the session to tech_questions.
func (s *Service) IngestResume(ctx context.Context, id string, upload ResumeUpload) (*Session, error) {
	const stage = StageResumeIngestion

	unlock, sess, err := s.acquire(ctx, id, stage)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkStage(sess, stage); err != nil {
		return nil, s.fail(sess, err)
	}

	var res ingestion
	err = s.dispatch(ctx, sess, stage, func(ctx context.Context) error {
		var err error
		res, err = s.ingest(ctx, sess, upload)
		return err
	})
	if err != nil {
		return nil, s.fail(sess, err)
	}

	updated, err := s.store.Update(ctx, id, func(cur *Session) error {
		if err := checkStage(cur, stage); err != nil {
			return err
		}
		cur.ResumePath = res.path
		cur.ResumeText = res.text
		cur.ResumeFields = res.fields
		return cur.advance(StepTechQuestions, s.now())
	})
	if err != nil {
		s.removeArtifact(s.sessionLogger(sess), res.path)
		return nil, s.fail(sess, err)
	}

	s.sessionLogger(updated).Info("resume ingested", zap.Int("skills", len(updated.ResumeFields.Skills)))
	return updated, nil
}

// Questions returns the session's technical questions, generating them on first use.
func (s *Service) Questions(ctx context.Context, id string) (QuestionSet, error) {
	const stage = StageQuestionGeneration

	unlock, sess, err := s.acquire(ctx, id, stage)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if sess.Completed() {
		return nil, s.fail(sess, stageErrf(stage, id, ErrInvalidState, "session is completed"))
	}
	if len(sess.Questions) > 0 {
		return sess.Questions, nil
	}
	if err := checkStage(sess, stage); err != nil {
		return nil, s.fail(sess, err)
	}

	var questions QuestionSet
	err = s.dispatch(ctx, sess, stage, func(ctx context.Context) error {
		var err error
		questions, err = s.generateQuestions(ctx, sess)
		return err
	})
	if err != nil {
		return nil, s.fail(sess, err)
	}

	updated, err := s.store.Update(ctx, id, func(cur *Session) error {
		if err := checkStage(cur, stage); err != nil {
			return err
		}
		cur.Questions = questions
		return cur.advance(StepAnsweringQuestions, s.now())
	})
	if err != nil {
		return nil, s.fail(sess, err)
	}

	return updated.Questions, nil
}

// Outcome is the result of a completed screening.
type Outcome struct {
	Session           *Session
	Evaluation        string
	CompletionMessage string
}

// SubmitAnswers validates the answers, evaluates them and completes the session.
// Answers and evaluation are stored together, so a failed evaluation leaves the session
// in answering_questions and the same answers may be submitted again.
func (s *Service) SubmitAnswers(ctx context.Context, id string, answers map[string]string) (*Outcome, error) {
	const stage = StageAnswerCollection

	unlock, sess, err := s.acquire(ctx, id, stage)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkStage(sess, stage); err != nil {
		return nil, s.fail(sess, err)
	}

	collected, err := s.collectAnswers(sess, answers)
	if err != nil {
		return nil, s.fail(sess, err)
	}

	var evaluation string
	err = s.dispatch(ctx, sess, StageEvaluation, func(ctx context.Context) error {
		var err error
		evaluation, err = s.evaluate(ctx, sess, collected)
		return err
	})
	if err != nil {
		return nil, s.fail(sess, err)
	}

	updated, err := s.store.Update(ctx, id, func(cur *Session) error {
		if err := checkStage(cur, stage); err != nil {
			return err
		}
		now := s.now()
		cur.Answers = collected
		if err := cur.advance(StepEvaluation, now); err != nil {
			return err
		}
		cur.EvaluationText = evaluation
		return cur.advance(StepCompleted, now)
	})
	if err != nil {
		return nil, s.fail(sess, err)
	}

	s.sessionLogger(updated).Info("screening completed")
	return &Outcome{
		Session:           updated,
		Evaluation:        evaluation,
		CompletionMessage: s.sendoff(updated),
	}, nil
}

// Sendoff renders the closing message for a completed session.
func (s *Service) Sendoff(ctx context.Context, id string) (string, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	if !sess.Completed() {
		return "", stageErrf(StageSendoff, id, ErrPreconditionFailed, "session is at step %s", sess.Step)
	}
	return s.sendoff(sess), nil
}

// Get returns a copy of the session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.get(ctx, id)
}

// Status returns the session summary.
func (s *Service) Status(ctx context.Context, id string) (Summary, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	return sess.Summary(), nil
}

// List returns all session summaries.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	return s.store.List(ctx)
}

// Delete removes the session and its uploaded resume. It waits for a running stage to finish.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	return s.delete(ctx, id, "deleted")
}

func (s *Service) delete(ctx context.Context, id, reason string) error {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}

	log := s.sessionLogger(removed)
	s.removeArtifact(log, removed.ResumePath)
	log.Info("session removed", zap.String("reason", reason))
	return nil
}

// acquire takes the session lock and loads the session.
func (s *Service) acquire(ctx context.Context, id string, stage Stage) (func(), *Session, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, nil, stageErr(stage, id, ErrBusy, err)
	}

	sess, err := s.get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return unlock, sess, nil
}

func (s *Service) get(ctx context.Context, id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrNotFound)
	}
	return s.store.Get(ctx, id)
}

// dispatch runs job on the worker pool when one is configured.
// It returns only after the job has returned, even when ctx ends earlier, so the session
// lock held by the caller covers the whole stage. Stages bound their collaborator calls with ctx.
func (s *Service) dispatch(ctx context.Context, sess *Session, stage Stage, job workers.Job) error {
	if s.pool == nil {
		return job(ctx)
	}

	done, err := s.pool.Submit(ctx, job)
	if err != nil {
		if errors.Is(err, workers.ErrSaturated) || errors.Is(err, workers.ErrClosed) {
			return stageErr(stage, sess.ID, ErrBusy, err)
		}
		return err
	}

	err = <-done
	if err != nil && KindOf(err) == nil && ctx.Err() != nil {
		return stageErr(stage, sess.ID, ErrTransientUpstream, err)
	}
	return err
}

// fail logs err with the session context and returns it unchanged.
func (s *Service) fail(sess *Session, err error) error {
	log := s.sessionLogger(sess)

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		log = log.With(zap.String("stage", string(stageErr.Stage)))
	}

	switch KindOf(err) {
	case ErrUpstreamFormat, ErrUpstream, ErrTransientUpstream, ErrBusy:
		log.Error("stage failed", zap.Error(err))
	default:
		log.Info("stage rejected", zap.Error(err))
	}
	return err
}

func (s *Service) removeArtifact(log *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := s.artifacts.Remove(path); err != nil {
		log.Warn("removing resume artifact", zap.String("path", path), zap.Error(err))
	}
}

func (s *Service) sessionLogger(sess *Session) *zap.Logger {
	if sess == nil {
		return s.logger
	}
	return logger.WithSession(s.logger, sess.ID, string(sess.Step))
}

// ActiveSessions counts sessions that have not completed yet.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	summaries, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	active := 0
	for _, summary := range summaries {
		if summary.Status == StatusActive {
			active++
		}
	}
	return active, nil
}

// Sweep deletes sessions idle for longer than IdleTimeout and returns how many were removed.
// Sessions with a stage in flight are skipped until the next sweep.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.cfg.IdleTimeout <= 0 {
		return 0, nil
	}

	summaries, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := now.Add(-s.cfg.IdleTimeout)
	removed := 0
	for _, summary := range summaries {
		if !summary.UpdatedAt.Before(cutoff) {
			continue
		}

		unlock, ok := s.locks.TryLock(summary.ID)
		if !ok {
			continue
		}

		err := s.sweepOne(ctx, summary.ID, cutoff)
		unlock()
		switch {
		case errors.Is(err, errStillActive), errors.Is(err, ErrNotFound):
		case err != nil:
			return removed, err
		default:
			removed++
		}
	}

	return removed, nil
}

var errStillActive = errors.New("session was updated")

func (s *Service) sweepOne(ctx context.Context, id string, cutoff time.Time) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.UpdatedAt.Before(cutoff) {
		return errStillActive
	}
	return s.delete(ctx, id, "idle")
}

// RunSweeper calls Sweep every SweepInterval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context) {
	if s.cfg.IdleTimeout <= 0 {
		s.logger.Debug("idle session sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.Sweep(ctx, s.now())
			if err != nil {
				s.logger.Warn("sweeping idle sessions", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("idle sessions removed", zap.Int("count", removed))
			}
		}
	}
}
