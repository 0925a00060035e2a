// Package mock provides a deterministic responder for local runs without model credentials.
package mock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spigell/hirebot/internal/ai"
)

var sampleQuestions = []string{
	"What problem does an index solve in a relational database?",
	"How would you find a memory leak in a long running service?",
	"Explain the difference between a process and a thread.",
	"When would you choose a message queue over a direct HTTP call?",
	"How do you make a deployment safe to roll back?",
}

// Responder answers every task with canned output.
type Responder struct{}

// New returns a mock Responder.
func New() *Responder {
	return &Responder{}
}

func (r *Responder) Respond(_ context.Context, req ai.Request) (string, error) {
	switch req.Task {
	case ai.TaskResumeFields:
		return `{
  "full_name": "Sample Candidate",
  "email": "candidate@example.com",
  "phone": "",
  "linkedin": "",
  "github": "",
  "portfolio_website": "",
  "location": "",
  "education": [],
  "work_experience": [],
  "skills": ["Go", "SQL"],
  "certifications": [],
  "projects": [],
  "languages": ["English"]
}`, nil
	case ai.TaskTechQuestions:
		count := req.Entries
		if count <= 0 {
			count = 3
		}

		// Encode by hand so that the key order is stable.
		out := []byte("{")
		for i := 0; i < count; i++ {
			if i > 0 {
				out = append(out, ',')
			}
			text, _ := json.Marshal(sampleQuestions[i%len(sampleQuestions)])
			out = append(out, fmt.Sprintf("%q:%s", fmt.Sprintf("q%d", i+1), text)...)
		}
		return string(append(out, '}')), nil
	case ai.TaskEvaluation:
		return "### Analysis\nAnswers were recorded by the mock responder.\n\n### Scores\nTotal Score: 0 out of 0", nil
	default:
		return "", fmt.Errorf("mock responder: unknown task %q", req.Task)
	}
}

func (r *Responder) Provider() string { return "mock" }

func (r *Responder) Model() string { return "mock" }
