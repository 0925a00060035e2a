package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Shape hints the responder about the expected output format.
type Shape int

const (
	// ShapeText asks for free-form text.
	ShapeText Shape = iota
	// ShapeJSON asks for a single JSON object.
	ShapeJSON
)

func (s Shape) String() string {
	if s == ShapeJSON {
		return "json"
	}
	return "text"
}

// Tasks issued by the screening pipeline.
const (
	TaskResumeFields  = "resume_fields"
	TaskTechQuestions = "tech_questions"
	TaskEvaluation    = "evaluation"
)

// Request is a single prompt sent to a language model.
type Request struct {
	// Task is a short label used in logs and by the mock responder, e.g. "tech_questions".
	Task   string
	System string
	Prompt string
	Shape  Shape
	// Entries is the expected number of top-level keys for ShapeJSON mappings. Zero means unknown.
	Entries int
}

// Responder turns a prompt into model output.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

var (
	// ErrTransient marks failures that may succeed when retried (timeouts, rate limits, 5xx).
	ErrTransient = errors.New("transient upstream error")
	// ErrEmptyResponse is returned when the model produced no text at all.
	ErrEmptyResponse = errors.New("model returned empty response")
)

// TransientError wraps a retryable provider failure.
type TransientError struct {
	Err error
	// RetryAfter is the provider-requested delay, zero when unknown.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
