package screening

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Step is a position in the screening pipeline.
type Step string

const (
	StepCreated            Step = "created"
	StepResumeUpload       Step = "resume_upload"
	StepTechQuestions      Step = "tech_questions"
	StepAnsweringQuestions Step = "answering_questions"
	StepEvaluation         Step = "evaluation"
	StepCompleted          Step = "completed"
)

var stepOrder = []Step{
	StepCreated,
	StepResumeUpload,
	StepTechQuestions,
	StepAnsweringQuestions,
	StepEvaluation,
	StepCompleted,
}

// Steps returns the pipeline steps in order.
func Steps() []Step {
	return append([]Step(nil), stepOrder...)
}

// Index returns the position of s in the pipeline, or -1 for unknown steps.
func (s Step) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Next returns the step that follows s.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return "", false
	}
	return stepOrder[i+1], true
}

func (s Step) String() string {
	return string(s)
}

// ParseStep converts a stored step name.
func ParseStep(v string) (Step, error) {
	step := Step(strings.TrimSpace(v))
	if !step.Valid() {
		return "", fmt.Errorf("unknown step %q", v)
	}
	return step, nil
}

// Education is one entry of the education history.
type Education struct {
	Degree       string `json:"degree"`
	FieldOfStudy string `json:"field_of_study"`
	University   string `json:"university"`
	StartYear    string `json:"start_year"`
	EndYear      string `json:"end_year"`
}

// WorkExperience is one entry of the employment history.
type WorkExperience struct {
	JobTitle    string `json:"job_title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Description string `json:"description"`
}

// Project is a project listed on the resume.
type Project struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
}

// ResumeFields is the structured view of a resume produced by the language model.
// Missing values are empty strings or empty lists, never null.
type ResumeFields struct {
	FullName         string           `json:"full_name"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	LinkedIn         string           `json:"linkedin"`
	GitHub           string           `json:"github"`
	PortfolioWebsite string           `json:"portfolio_website"`
	Location         string           `json:"location"`
	Education        []Education      `json:"education"`
	WorkExperience   []WorkExperience `json:"work_experience"`
	Skills           []string         `json:"skills"`
	Certifications   []string         `json:"certifications"`
	Projects         []Project        `json:"projects"`
	Languages        []string         `json:"languages"`
}

func (f *ResumeFields) normalize() {
	if f.Education == nil {
		f.Education = []Education{}
	}
	if f.WorkExperience == nil {
		f.WorkExperience = []WorkExperience{}
	}
	f.Skills = compactStrings(f.Skills)
	f.Certifications = compactStrings(f.Certifications)
	f.Languages = compactStrings(f.Languages)
	if f.Projects == nil {
		f.Projects = []Project{}
	}
	for i := range f.Projects {
		f.Projects[i].Technologies = compactStrings(f.Projects[i].Technologies)
	}
}

// compactStrings trims entries and drops empty ones. The result is never nil.
func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsEmpty reports whether no field carries a value.
func (f *ResumeFields) IsEmpty() bool {
	if f == nil {
		return true
	}
	scalars := f.FullName + f.Email + f.Phone + f.LinkedIn + f.GitHub + f.PortfolioWebsite + f.Location
	return strings.TrimSpace(scalars) == "" &&
		len(f.Education) == 0 && len(f.WorkExperience) == 0 &&
		len(f.Skills) == 0 && len(f.Certifications) == 0 &&
		len(f.Projects) == 0 && len(f.Languages) == 0
}

func (f *ResumeFields) clone() *ResumeFields {
	if f == nil {
		return nil
	}
	c := *f
	c.Education = append([]Education(nil), f.Education...)
	c.WorkExperience = append([]WorkExperience(nil), f.WorkExperience...)
	c.Skills = append([]string(nil), f.Skills...)
	c.Certifications = append([]string(nil), f.Certifications...)
	c.Languages = append([]string(nil), f.Languages...)
	c.Projects = make([]Project, len(f.Projects))
	for i, p := range f.Projects {
		p.Technologies = append([]string(nil), p.Technologies...)
		c.Projects[i] = p
	}
	c.normalize()
	return &c
}

// Question is a single generated technical question.
type Question struct {
	ID   string
	Text string
}

// QuestionSet keeps questions in the order the model returned them.
// It encodes to and from a JSON object whose key order is preserved.
type QuestionSet []Question

// IDs returns the question identifiers in order.
func (q QuestionSet) IDs() []string {
	ids := make([]string, len(q))
	for i, question := range q {
		ids[i] = question.ID
	}
	return ids
}

// Lookup finds a question by identifier.
func (q QuestionSet) Lookup(id string) (Question, bool) {
	for _, question := range q {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

func (q QuestionSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, question := range q {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(question.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(question.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (q *QuestionSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*q = nil
		return nil
	}

	entries, err := decodeOrderedObject(data)
	if err != nil {
		return err
	}

	set := make(QuestionSet, 0, len(entries))
	for _, entry := range entries {
		var text string
		if err := json.Unmarshal(entry.Value, &text); err != nil {
			return fmt.Errorf("question %q: %w", entry.Key, err)
		}
		set = append(set, Question{ID: entry.Key, Text: text})
	}
	*q = set
	return nil
}

type orderedEntry struct {
	Key   string
	Value json.RawMessage
}

// decodeOrderedObject decodes a single JSON object keeping its key order.
func decodeOrderedObject(data []byte) ([]orderedEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var entries []orderedEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		entries = append(entries, orderedEntry{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}

	return entries, nil
}

// Transition records a step change.
type Transition struct {
	From Step      `json:"from"`
	To   Step      `json:"to"`
	At   time.Time `json:"at"`
}

// Session is one candidate's screening attempt.
type Session struct {
	ID             string            `json:"id"`
	CandidateName  string            `json:"candidate_name"`
	Step           Step              `json:"current_step"`
	Greeting       string            `json:"greeting,omitempty"`
	ResumePath     string            `json:"resume_path,omitempty"`
	ResumeText     string            `json:"resume_text,omitempty"`
	ResumeFields   *ResumeFields     `json:"resume_fields,omitempty"`
	Questions      QuestionSet       `json:"questions,omitempty"`
	Answers        map[string]string `json:"answers,omitempty"`
	EvaluationText string            `json:"evaluation_text,omitempty"`
	History        []Transition      `json:"history,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ResumeFields = s.ResumeFields.clone()
	c.Questions = append(QuestionSet(nil), s.Questions...)
	if s.Answers != nil {
		c.Answers = make(map[string]string, len(s.Answers))
		for k, v := range s.Answers {
			c.Answers[k] = v
		}
	}
	c.History = append([]Transition(nil), s.History...)
	return &c
}

// Completed reports whether the session reached its terminal step.
func (s *Session) Completed() bool {
	return s.Step == StepCompleted
}

// advance moves the session to the immediate successor step.
func (s *Session) advance(to Step, at time.Time) error {
	next, ok := s.Step.Next()
	if !ok || next != to {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.Step, to)
	}

	s.History = append(s.History, Transition{From: s.Step, To: to, At: at})
	s.Step = to
	s.UpdatedAt = at
	return nil
}

// Validate checks the record invariants.
func (s *Session) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: empty session id", ErrValidation)
	case strings.TrimSpace(s.CandidateName) == "":
		return fmt.Errorf("%w: empty candidate name", ErrValidation)
	case !s.Step.Valid():
		return fmt.Errorf("%w: unknown step %q", ErrInvalidState, s.Step)
	case (s.ResumeText == "") != (s.ResumeFields == nil):
		return fmt.Errorf("%w: resume text and fields must be set together", ErrInvalidState)
	case len(s.Questions) > 0 && s.ResumeFields == nil:
		return fmt.Errorf("%w: questions without resume fields", ErrInvalidState)
	case (s.EvaluationText != "") != (len(s.Questions) > 0 && s.answered()):
		return fmt.Errorf("%w: evaluation must exist exactly when every question is answered", ErrInvalidState)
	}
	return nil
}

func (s *Session) answered() bool {
	for _, q := range s.Questions {
		if _, ok := s.Answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

// Status is the coarse lifecycle flag reported to callers.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Summary is the listing view of a session.
type Summary struct {
	ID            string    `json:"session_id"`
	CandidateName string    `json:"candidate_name"`
	Step          Step      `json:"current_step"`
	Status        Status    `json:"status"`
	Questions     int       `json:"questions"`
	Answers       int       `json:"answers"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summary builds the listing view of s.
func (s *Session) Summary() Summary {
	status := StatusActive
	if s.Completed() {
		status = StatusCompleted
	}
	return Summary{
		ID:            s.ID,
		CandidateName: s.CandidateName,
		Step:          s.Step,
		Status:        status,
		Questions:     len(s.Questions),
		Answers:       len(s.Answers),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
