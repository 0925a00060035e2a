// Package export renders screening sessions as an XLSX workbook.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/hirebot/internal/screening"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	SessionsSheet = "Sessions"
	AnswersSheet  = "Answers"
)

var sessionHeaders = []string{
	"Session ID",
	"Candidate",
	"Step",
	"Status",
	"Created",
	"Updated",
	"Email",
	"Skills",
	"Questions",
	"Answers",
	"Evaluation",
}

var answerHeaders = []string{"Session ID", "Candidate", "Question ID", "Question", "Answer"}

// Source lists sessions and loads their details.
type Source interface {
	List(ctx context.Context) ([]screening.Summary, error)
	Get(ctx context.Context, id string) (*screening.Session, error)
}

// Exporter builds workbooks from a Source.
type Exporter struct {
	source Source
	logger *zap.Logger
}

func New(source Source, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, logger: logger}
}

// XLSX returns the workbook bytes. Sessions deleted while exporting are skipped.
func (e *Exporter) XLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	summaries, err := e.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*screening.Session, 0, len(summaries))
	for _, summary := range summaries {
		sess, err := e.source.Get(ctx, summary.ID)
		if errors.Is(err, screening.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", summary.ID, err)
		}
		sessions = append(sessions, sess)
	}

	data, err := Workbook(sessions)
	if err != nil {
		return nil, err
	}

	e.logger.Info("sessions exported",
		zap.Int("sessions", len(sessions)),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return data, nil
}

// Workbook renders sessions into an XLSX file with one sheet for sessions and one for answers.
func Workbook(sessions []*screening.Session) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SessionsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(AnswersSheet); err != nil {
		return nil, err
	}
	index, _ := f.GetSheetIndex(SessionsSheet)
	f.SetActiveSheet(index)

	if err := writeRow(f, SessionsSheet, 1, toAny(sessionHeaders)); err != nil {
		return nil, err
	}
	if err := writeRow(f, AnswersSheet, 1, toAny(answerHeaders)); err != nil {
		return nil, err
	}

	answerRow := 2
	for i, sess := range sessions {
		summary := sess.Summary()
		var email, skills string
		if sess.ResumeFields != nil {
			email = sess.ResumeFields.Email
			skills = strings.Join(sess.ResumeFields.Skills, ", ")
		}

		row := []any{
			sess.ID,
			sess.CandidateName,
			string(sess.Step),
			string(summary.Status),
			sess.CreatedAt.UTC().Format(time.RFC3339),
			sess.UpdatedAt.UTC().Format(time.RFC3339),
			email,
			skills,
			summary.Questions,
			summary.Answers,
			sess.EvaluationText,
		}
		if err := writeRow(f, SessionsSheet, i+2, row); err != nil {
			return nil, err
		}

		for _, q := range sess.Questions {
			answer, ok := sess.Answers[q.ID]
			if !ok {
				continue
			}
			if err := writeRow(f, AnswersSheet, answerRow, []any{sess.ID, sess.CandidateName, q.ID, q.Text, answer}); err != nil {
				return nil, err
			}
			answerRow++
		}
	}

	_ = f.SetColWidth(SessionsSheet, "A", "A", 38)
	_ = f.SetColWidth(SessionsSheet, "K", "K", 80)
	_ = f.SetColWidth(AnswersSheet, "D", "E", 60)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
