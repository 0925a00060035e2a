package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/hirebot/internal/screening"
)

const multipartMemory = 1 << 20

type startRequest struct {
	CandidateName string `json:"candidate_name"`
	// UserName is accepted for clients of the first API version.
	UserName string `json:"user_name,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Greeting  string `json:"greeting"`
	Message   string `json:"message"`
}

type uploadResponse struct {
	SessionID    string                  `json:"session_id"`
	Message      string                  `json:"message"`
	ResumeFields *screening.ResumeFields `json:"resume_fields"`
}

type questionsResponse struct {
	SessionID string                `json:"session_id"`
	Questions screening.QuestionSet `json:"questions"`
}

type answersRequest struct {
	Answers map[string]string `json:"answers"`
}

type evaluationResponse struct {
	SessionID         string `json:"session_id"`
	Evaluation        string `json:"evaluation"`
	CompletionMessage string `json:"completion_message"`
}

type messageResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: "Welcome to Hirebot API", Status: "active"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active, err := s.svc.ActiveSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Timestamp:      s.cfg.Now().UTC().Format(time.RFC3339),
		ActiveSessions: active,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}

	name := req.CandidateName
	if strings.TrimSpace(name) == "" {
		name = req.UserName
	}

	res, err := s.svc.Start(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: res.Session.ID,
		Greeting:  res.Greeting,
		Message:   "Session started successfully. Please upload your resume next.",
	})
}

func (s *Server) handleUploadResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartMemory)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large",
				"resume is too large", fmt.Sprintf("limit is %d bytes", s.cfg.MaxUploadBytes))
			return
		}
		writeError(w, r, http.StatusBadRequest, "validation_error", "invalid request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	sess, err := s.svc.IngestResume(r.Context(), id, screening.ResumeUpload{Filename: header.Filename, Body: file})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		SessionID:    sess.ID,
		Message:      "Resume uploaded and parsed successfully. Ready for technical questions.",
		ResumeFields: sess.ResumeFields,
	})
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	questions, err := s.svc.Questions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questionsResponse{SessionID: id, Questions: questions})
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req answersRequest
	if !s.decode(w, r, &req) {
		return
	}

	out, err := s.svc.SubmitAnswers(r.Context(), id, req.Answers)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluationResponse{
		SessionID:         id,
		Evaluation:        out.Evaluation,
		CompletionMessage: out.CompletionMessage,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.svc.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []screening.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		http.NotFound(w, r)
		return
	}

	data, err := s.exporter.XLSX(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	name := fmt.Sprintf("hirebot-sessions-%s.xlsx", s.cfg.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Session deleted successfully"})
}

// decode reads a JSON body and answers 400 itself when the body is malformed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, multipartMemory))
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "invalid JSON body", err.Error())
		return false
	}
	return true
}
