package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spigell/hirebot/internal/screening"
	"github.com/spigell/hirebot/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var errExit = errors.New("exit requested")

// askAnswer reads one answer to a technical question.
var askAnswer = func() (string, error) {
	return runPrompt(promptui.Prompt{Label: "Answer"})
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 1).
	Width(88)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run a screening interview in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		interview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(interviewCmd)

	interviewCmd.Flags().StringP("name", "n", "", "candidate name, asked interactively when empty")
	interviewCmd.Flags().StringP("resume", "r", "", "path to the resume PDF, asked interactively when empty")
	interviewCmd.Flags().StringP("transcript", "t", "", "write the interview transcript to this YAML file")
}

// Transcript is the YAML record of a finished terminal interview.
type Transcript struct {
	SessionID  string               `yaml:"session_id"`
	Candidate  string               `yaml:"candidate"`
	StartedAt  time.Time            `yaml:"started_at"`
	FinishedAt time.Time            `yaml:"finished_at"`
	Greeting   string               `yaml:"greeting"`
	Resume     TranscriptResume     `yaml:"resume"`
	Questions  []TranscriptQuestion `yaml:"questions"`
	Evaluation string               `yaml:"evaluation"`
	Sendoff    string               `yaml:"sendoff"`
}

type TranscriptResume struct {
	File     string   `yaml:"file"`
	FullName string   `yaml:"full_name,omitempty"`
	Email    string   `yaml:"email,omitempty"`
	Skills   []string `yaml:"skills,omitempty"`
}

type TranscriptQuestion struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

func interview(cmd *cobra.Command) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, config := setup()
	logger.Info("starting the hirebot interview", zap.String("version", version))

	// Terminal sessions live only as long as the process.
	parts, err := newComponents(ctx, config, logger, componentOptions{noExpiry: true, storage: store.BackendMemory})
	if err != nil {
		logger.Fatal("wiring the application", zap.Error(err))
	}
	defer parts.close(context.Background(), logger)

	name, _ := cmd.Flags().GetString("name")
	resume, _ := cmd.Flags().GetString("resume")
	transcriptPath, _ := cmd.Flags().GetString("transcript")

	t, err := runInterview(ctx, parts.service, logger, name, resume)
	if errors.Is(err, errExit) {
		logger.Info("interview aborted")
		return
	}
	if err != nil {
		// deferred close does not run after Fatal
		parts.close(context.Background(), logger)
		logger.Fatal("interview failed", zap.Error(err))
	}

	if transcriptPath != "" {
		if err := writeTranscript(transcriptPath, t); err != nil {
			logger.Error("writing the transcript", zap.Error(err), zap.String("path", transcriptPath))
			return
		}
		logger.Info("transcript saved", zap.String("path", transcriptPath))
	}
}

func runInterview(ctx context.Context, svc *screening.Service, logger *zap.Logger, name, resume string) (*Transcript, error) {
	if strings.TrimSpace(name) == "" {
		prompt := promptui.Prompt{
			Label: "Your name",
			Validate: func(input string) error {
				if strings.TrimSpace(input) == "" {
					return errors.New("name must not be empty")
				}
				return nil
			},
		}
		v, err := runPrompt(prompt)
		if err != nil {
			return nil, err
		}
		name = v
	}

	started, err := svc.Start(ctx, name)
	if err != nil {
		return nil, err
	}
	id := started.Session.ID
	// The session and its stored resume live only as long as the interview.
	defer func() {
		if err := svc.Delete(context.Background(), id); err != nil && !errors.Is(err, screening.ErrNotFound) {
			logger.Warn("removing the interview session", zap.String("session_id", id), zap.Error(err))
		}
	}()
	fmt.Println(boxStyle.Render(started.Greeting))

	t := &Transcript{
		SessionID: id,
		Candidate: started.Session.CandidateName,
		StartedAt: started.Session.CreatedAt,
		Greeting:  started.Greeting,
	}

	if strings.TrimSpace(resume) == "" {
		v, err := runPrompt(promptui.Prompt{Label: "Path to your resume (PDF)", Validate: validateResumePath})
		if err != nil {
			return nil, err
		}
		resume = v
	} else if err := validateResumePath(resume); err != nil {
		return nil, err
	}
	resume = strings.TrimSpace(resume)

	fields, err := uploadResume(ctx, svc, logger, id, resume)
	if err != nil {
		return nil, err
	}
	t.Resume = TranscriptResume{File: filepath.Base(resume), FullName: fields.FullName, Email: fields.Email, Skills: fields.Skills}

	logger.Info("preparing technical questions", zap.String("session_id", id))
	questions, err := svc.Questions(ctx, id)
	if err != nil {
		return nil, err
	}

	fmt.Println(titleStyle.Render("Please answer the following technical questions:"))
	answers := make(map[string]string, len(questions))
	for i, q := range questions {
		fmt.Println(questionStyle.Render(fmt.Sprintf("%d. %s", i+1, q.Text)))
		v, err := askAnswer()
		if err != nil {
			return nil, err
		}
		answers[q.ID] = v
		t.Questions = append(t.Questions, TranscriptQuestion{ID: q.ID, Question: q.Text, Answer: strings.TrimSpace(v)})
	}

	logger.Info("evaluating the answers", zap.String("session_id", id))
	outcome, err := svc.SubmitAnswers(ctx, id, answers)
	if err != nil {
		return nil, err
	}

	fmt.Println(titleStyle.Render("Evaluation"))
	fmt.Println(boxStyle.Render(outcome.Evaluation))
	fmt.Println(boxStyle.Render(outcome.CompletionMessage))

	t.Evaluation = outcome.Evaluation
	t.Sendoff = outcome.CompletionMessage
	t.FinishedAt = outcome.Session.UpdatedAt

	return t, nil
}

func uploadResume(ctx context.Context, svc *screening.Service, logger *zap.Logger, id, path string) (*screening.ResumeFields, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening the resume: %w", err)
	}
	defer f.Close()

	logger.Info("reading the resume", zap.String("session_id", id), zap.String("file", filepath.Base(path)))
	sess, err := svc.IngestResume(ctx, id, screening.ResumeUpload{Filename: filepath.Base(path), Body: f})
	if err != nil {
		return nil, err
	}
	return sess.ResumeFields, nil
}

func validateResumePath(input string) error {
	path := strings.TrimSpace(input)
	if path == "" {
		return errors.New("path must not be empty")
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return errors.New("only PDF files are allowed")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// runPrompt maps interrupts to errExit.
func runPrompt(p promptui.Prompt) (string, error) {
	v, err := p.Run()
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return "", errExit
	}
	if err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return v, nil
}

func writeTranscript(path string, t *Transcript) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
