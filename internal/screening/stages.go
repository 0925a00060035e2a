package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/artifacts"
	"github.com/spigell/hirebot/internal/extract"
	"github.com/spigell/hirebot/internal/utils"
	"go.uber.org/zap"
)

// Stage names one pipeline stage function.
type Stage string

const (
	StageGreeting           Stage = "greeting"
	StageResumeIngestion    Stage = "resume_ingestion"
	StageQuestionGeneration Stage = "question_generation"
	StageAnswerCollection   Stage = "answer_collection"
	StageEvaluation         Stage = "evaluation"
	StageSendoff            Stage = "sendoff"
)

// StageInfo describes which step a stage starts from and where it leaves the session.
type StageInfo struct {
	Stage Stage
	From  Step
	To    Step
}

var pipeline = []StageInfo{
	{Stage: StageGreeting, From: StepCreated, To: StepResumeUpload},
	{Stage: StageResumeIngestion, From: StepResumeUpload, To: StepTechQuestions},
	{Stage: StageQuestionGeneration, From: StepTechQuestions, To: StepAnsweringQuestions},
	{Stage: StageAnswerCollection, From: StepAnsweringQuestions, To: StepEvaluation},
	{Stage: StageEvaluation, From: StepEvaluation, To: StepCompleted},
	{Stage: StageSendoff, From: StepCompleted, To: StepCompleted},
}

// Pipeline returns the stages in execution order.
func Pipeline() []StageInfo {
	return append([]StageInfo(nil), pipeline...)
}

func stageInfo(stage Stage) StageInfo {
	for _, info := range pipeline {
		if info.Stage == stage {
			return info
		}
	}
	return StageInfo{Stage: stage}
}

// checkStage rejects a stage unless the session sits exactly on the stage's starting step.
func checkStage(s *Session, stage Stage) error {
	if s.Completed() {
		return stageErrf(stage, s.ID, ErrInvalidState, "session is completed")
	}

	info := stageInfo(stage)
	if s.Step == info.From {
		return nil
	}

	early := s.Step.Index() < info.From.Index()
	switch {
	case stage == StageResumeIngestion && !early:
		return stageErrf(stage, s.ID, ErrPreconditionFailed, "resume was already processed")
	case stage == StageQuestionGeneration && early:
		return stageErrf(stage, s.ID, ErrPreconditionFailed, "resume must be uploaded first")
	case stage == StageAnswerCollection && early:
		return stageErrf(stage, s.ID, ErrPreconditionFailed, "technical questions not generated yet")
	default:
		return stageErrf(stage, s.ID, ErrPreconditionFailed, "session is at step %s, %s starts at %s", s.Step, stage, info.From)
	}
}

// ResumeUpload is a resume file handed to the ingestion stage.
type ResumeUpload struct {
	Filename string
	Body     io.Reader
}

type ingestion struct {
	path   string
	text   string
	fields *ResumeFields
}

// greet renders the greeting for a new candidate.
func (s *Service) greet(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", stageErrf(StageGreeting, "", ErrValidation, "candidate name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", stageErrf(StageGreeting, "", ErrValidation, "candidate name is longer than %d characters", maxNameLength)
	}

	return render(greetingTemplate, map[string]string{
		"CANDIDATE_NAME":  name,
		"AGENT_NAME":      s.cfg.AgentName,
		"HR_MANAGER_NAME": s.cfg.HRManagerName,
	}), nil
}

// ingest stores the upload, extracts its text and asks the model for structured fields.
// The artifact is removed again when any step fails.
func (s *Service) ingest(ctx context.Context, sess *Session, upload ResumeUpload) (res ingestion, err error) {
	const stage = StageResumeIngestion
	log := s.sessionLogger(sess).With(zap.String("stage", string(stage)))

	if !strings.EqualFold(filepath.Ext(upload.Filename), ".pdf") {
		return res, stageErrf(stage, sess.ID, ErrValidation, "only PDF files are allowed, got %q", upload.Filename)
	}
	if upload.Body == nil {
		return res, stageErrf(stage, sess.ID, ErrValidation, "resume file is empty")
	}

	path, err := s.artifacts.Save(sess.ID, upload.Filename, upload.Body)
	if err != nil {
		if errors.Is(err, artifacts.ErrTooLarge) {
			return res, stageErr(stage, sess.ID, ErrValidation, err)
		}
		return res, stageErr(stage, sess.ID, ErrUpstream, err)
	}
	defer func() {
		if err != nil {
			s.removeArtifact(log, path)
		}
	}()

	extractCtx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()

	doc, err := s.extractor.Extract(extractCtx, path)
	if err != nil {
		return res, stageErr(stage, sess.ID, classifyExtractErr(err), err)
	}
	log.Info("resume text extracted", zap.Int("pages", doc.Pages), zap.Int("length", utf8.RuneCountInString(doc.Text)))

	prompt := render(resumeFieldsTemplate, map[string]string{"RESUME_TEXT": doc.Text})
	raw, err := s.respond(ctx, ai.Request{
		Task:   ai.TaskResumeFields,
		System: resumeParserSystem,
		Prompt: prompt,
		Shape:  ai.ShapeJSON,
	})
	if err != nil {
		return res, stageErr(stage, sess.ID, classifyModelErr(err), err)
	}

	fields, err := parseResumeFields(raw)
	if err != nil {
		log.Warn("unexpected resume fields output",
			zap.Error(err),
			zap.String("raw_preview", utils.TruncateForLog(raw, s.cfg.MaxLogLength)),
		)
		return res, stageErr(stage, sess.ID, ErrUpstreamFormat, err)
	}

	return ingestion{path: path, text: doc.Text, fields: fields}, nil
}

// generateQuestions asks the model for exactly QuestionCount questions based on the resume.
func (s *Service) generateQuestions(ctx context.Context, sess *Session) (QuestionSet, error) {
	const stage = StageQuestionGeneration
	log := s.sessionLogger(sess).With(zap.String("stage", string(stage)))

	if sess.ResumeFields.IsEmpty() {
		return nil, stageErrf(stage, sess.ID, ErrPreconditionFailed, "resume fields are empty")
	}

	fieldsJSON, err := json.MarshalIndent(sess.ResumeFields, "", "  ")
	if err != nil {
		return nil, stageErr(stage, sess.ID, ErrUpstream, fmt.Errorf("marshal resume fields: %w", err))
	}

	stack := techStack(fieldsJSON)
	stackLine := strings.Join(stack, ", ")
	if stackLine == "" {
		stackLine = "not listed, infer it from the resume fields"
	}

	n := s.cfg.QuestionCount
	raw, err := s.respond(ctx, ai.Request{
		Task:   ai.TaskTechQuestions,
		System: questionerSystem,
		Prompt: render(techQuestionsTemplate, map[string]string{
			"COUNT":       strconv.Itoa(n),
			"TECH_STACK":  stackLine,
			"RESUME_JSON": string(fieldsJSON),
		}),
		Shape:   ai.ShapeJSON,
		Entries: n,
	})
	if err != nil {
		return nil, stageErr(stage, sess.ID, classifyModelErr(err), err)
	}

	questions, total, err := parseQuestions(raw, n)
	if err != nil {
		log.Warn("unexpected questions output",
			zap.Error(err),
			zap.String("raw_preview", utils.TruncateForLog(raw, s.cfg.MaxLogLength)),
		)
		return nil, stageErr(stage, sess.ID, ErrUpstreamFormat, err)
	}
	if total > n {
		log.Info("model returned extra questions, keeping the first ones", zap.Int("returned", total), zap.Int("kept", n))
	}

	log.Info("questions generated", zap.Strings("tech_stack", stack), zap.Strings("ids", questions.IDs()))
	return questions, nil
}

// collectAnswers requires an entry for every question identifier. Empty answers are allowed.
func (s *Service) collectAnswers(sess *Session, answers map[string]string) (map[string]string, error) {
	const stage = StageAnswerCollection

	var unknown []string
	for id := range answers {
		if _, ok := sess.Questions.Lookup(id); !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, stageErrf(stage, sess.ID, ErrValidation, "answers for unknown question ids: %s", strings.Join(unknown, ", "))
	}

	collected := make(map[string]string, len(sess.Questions))
	var missing []string
	for _, q := range sess.Questions {
		answer, ok := answers[q.ID]
		if !ok {
			missing = append(missing, q.ID)
			continue
		}
		collected[q.ID] = strings.TrimSpace(answer)
	}
	if len(missing) > 0 {
		return nil, stageErrf(stage, sess.ID, ErrIncompleteInput, "missing answers for: %s", strings.Join(missing, ", "))
	}

	return collected, nil
}

type qaPair struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// evaluate asks the model for a free-text critique of the answers.
func (s *Service) evaluate(ctx context.Context, sess *Session, answers map[string]string) (string, error) {
	const stage = StageEvaluation

	pairs := make([]qaPair, 0, len(sess.Questions))
	for _, q := range sess.Questions {
		pairs = append(pairs, qaPair{ID: q.ID, Question: q.Text, Answer: answers[q.ID]})
	}

	qa, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return "", stageErr(stage, sess.ID, ErrUpstream, fmt.Errorf("marshal answers: %w", err))
	}

	raw, err := s.respond(ctx, ai.Request{
		Task:   ai.TaskEvaluation,
		System: evaluatorSystem,
		Prompt: render(evaluationTemplate, map[string]string{"QA_JSON": string(qa)}),
		Shape:  ai.ShapeText,
	})
	if err != nil {
		return "", stageErr(stage, sess.ID, classifyModelErr(err), err)
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return "", stageErrf(stage, sess.ID, ErrUpstreamFormat, "empty evaluation")
	}
	return text, nil
}

// sendoff renders the closing message.
func (s *Service) sendoff(sess *Session) string {
	return render(sendoffTemplate, map[string]string{"CANDIDATE_NAME": sess.CandidateName})
}

// respond calls the language model bounded by the model timeout.
func (s *Service) respond(ctx context.Context, req ai.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()
	return s.responder.Respond(ctx, req)
}

func classifyModelErr(err error) error {
	switch {
	case ai.IsTransient(err):
		return ErrTransientUpstream
	case errors.Is(err, ai.ErrEmptyResponse):
		return ErrUpstreamFormat
	default:
		return ErrUpstream
	}
}

func classifyExtractErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTransientUpstream
	case errors.Is(err, extract.ErrNotPDF), errors.Is(err, extract.ErrNoText), errors.Is(err, os.ErrNotExist):
		return ErrValidation
	default:
		return ErrUpstream
	}
}
