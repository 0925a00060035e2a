package screening

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing caller input (empty name, non-PDF upload).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown or deleted session identifier.
	ErrNotFound = errors.New("session not found")
	// ErrPreconditionFailed marks a stage requested out of order.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidState marks a mutation attempted on a completed session.
	ErrInvalidState = errors.New("invalid state")
	// ErrUpstreamFormat marks model output that does not have the expected shape.
	ErrUpstreamFormat = errors.New("upstream format error")
	// ErrTransientUpstream marks a collaborator timeout or rate limit that survived retries.
	ErrTransientUpstream = errors.New("transient upstream error")
	// ErrIncompleteInput marks an answer submission missing question identifiers.
	ErrIncompleteInput = errors.New("incomplete input")
	// ErrBusy marks a request rejected because every worker is taken.
	ErrBusy = errors.New("screening service is busy")
	// ErrUpstream marks any other collaborator failure.
	ErrUpstream = errors.New("upstream failure")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrPreconditionFailed,
	ErrInvalidState,
	ErrUpstreamFormat,
	ErrTransientUpstream,
	ErrIncompleteInput,
	ErrBusy,
	ErrUpstream,
}

// StageError describes a failed stage. errors.Is matches both Kind and the cause.
type StageError struct {
	Stage     Stage
	SessionID string
	Kind      error
	Err       error
}

func (e *StageError) Error() string {
	msg := string(e.Stage)
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session %s)", e.SessionID)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, sessionID string, kind, err error) error {
	return &StageError{Stage: stage, SessionID: sessionID, Kind: kind, Err: err}
}

func stageErrf(stage Stage, sessionID string, kind error, format string, args ...any) error {
	return stageErr(stage, sessionID, kind, fmt.Errorf(format, args...))
}

// KindOf returns the taxonomy sentinel matching err, or nil when err is unclassified.
func KindOf(err error) error {
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Kind != nil {
		return stageErr.Kind
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
