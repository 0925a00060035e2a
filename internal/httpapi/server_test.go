package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spigell/hirebot/internal/ai"
	"github.com/spigell/hirebot/internal/ai/mock"
	"github.com/spigell/hirebot/internal/artifacts"
	"github.com/spigell/hirebot/internal/export"
	"github.com/spigell/hirebot/internal/extract"
	"github.com/spigell/hirebot/internal/screening"
	"github.com/spigell/hirebot/internal/store/memory"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, path string) (extract.Result, error) {
	if err := extract.CheckPDF(path); err != nil {
		return extract.Result{}, err
	}
	return extract.Result{Text: "Ada Lovelace, Go developer", Pages: 1}, nil
}

type testAPI struct {
	server *httptest.Server
	logs   *observer.ObservedLogs
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	uploads, err := artifacts.New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}

	svc, err := screening.NewService(screening.Config{QuestionCount: 3}, screening.Deps{
		Store:     memory.New(),
		Responder: mock.New(),
		Extractor: textExtractor{},
		Artifacts: uploads,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	api := New(svc, export.New(svc, nil), Config{MaxUploadBytes: 1 << 20}, zap.New(core))
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testAPI{server: server, logs: logs}
}

func (a *testAPI) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, body)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) json(t *testing.T, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	}
	return a.do(t, method, path, body, "application/json")
}

func (a *testAPI) upload(t *testing.T, id, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(content)
	_ = mw.Close()
	return a.do(t, http.MethodPost, "/sessions/"+id+"/upload-resume", &buf, mw.FormDataContentType())
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func TestScreeningFlowOverHTTP(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	resp := api.json(t, http.MethodPost, "/sessions/start", map[string]string{"candidate_name": "Ada Lovelace"})
	expectStatus(t, resp, http.StatusCreated)
	started := decodeBody[startResponse](t, resp)
	if started.SessionID == "" || !strings.Contains(started.Greeting, "Ada Lovelace") {
		t.Fatalf("unexpected start response %+v", started)
	}
	id := started.SessionID

	resp = api.upload(t, id, "cv.pdf", []byte("%PDF-1.7 body"))
	expectStatus(t, resp, http.StatusOK)
	uploaded := decodeBody[uploadResponse](t, resp)
	if uploaded.ResumeFields == nil || len(uploaded.ResumeFields.Skills) == 0 {
		t.Fatalf("resume fields missing: %+v", uploaded)
	}

	resp = api.do(t, http.MethodGet, "/sessions/"+id+"/tech-questions", nil, "")
	expectStatus(t, resp, http.StatusOK)
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), `"questions":{"q1":`) {
		t.Fatalf("questions not an ordered object: %s", raw)
	}
	var questions questionsResponse
	if err := json.Unmarshal(raw, &questions); err != nil {
		t.Fatalf("decode questions: %v", err)
	}

	answers := map[string]string{}
	for _, q := range questions.Questions {
		answers[q.ID] = "my answer"
	}
	resp = api.json(t, http.MethodPost, "/sessions/"+id+"/submit-answers", answersRequest{Answers: answers})
	expectStatus(t, resp, http.StatusOK)
	evaluated := decodeBody[evaluationResponse](t, resp)
	if evaluated.Evaluation == "" || !strings.Contains(evaluated.CompletionMessage, "Ada Lovelace") {
		t.Fatalf("unexpected evaluation %+v", evaluated)
	}

	resp = api.do(t, http.MethodGet, "/sessions/"+id+"/status", nil, "")
	expectStatus(t, resp, http.StatusOK)
	status := decodeBody[screening.Summary](t, resp)
	if status.Status != screening.StatusCompleted || status.Step != screening.StepCompleted {
		t.Fatalf("unexpected status %+v", status)
	}

	resp = api.json(t, http.MethodPost, "/sessions/"+id+"/submit-answers", answersRequest{Answers: answers})
	expectStatus(t, resp, http.StatusConflict)

	resp = api.do(t, http.MethodGet, "/sessions/export", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("unexpected export content type %q", ct)
	}

	resp = api.do(t, http.MethodDelete, "/sessions/"+id, nil, "")
	expectStatus(t, resp, http.StatusOK)
	resp = api.do(t, http.MethodGet, "/sessions/"+id+"/status", nil, "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestRequestErrors(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	resp := api.json(t, http.MethodPost, "/sessions/start", map[string]string{"candidate_name": " "})
	expectStatus(t, resp, http.StatusBadRequest)
	body := decodeBody[errorResponse](t, resp)
	if body.Code != "validation_error" || body.RequestID == "" || body.RequestID != resp.Header.Get(requestIDHeader) {
		t.Fatalf("unexpected error body %+v", body)
	}

	resp = api.do(t, http.MethodPost, "/sessions/start", strings.NewReader("{"), "application/json")
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.json(t, http.MethodPost, "/sessions/start", map[string]string{"user_name": "Grace"})
	expectStatus(t, resp, http.StatusCreated)
	id := decodeBody[startResponse](t, resp).SessionID

	resp = api.do(t, http.MethodGet, "/sessions/"+id+"/tech-questions", nil, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decodeBody[errorResponse](t, resp).Code; got != "precondition_failed" {
		t.Fatalf("unexpected code %q", got)
	}

	resp = api.upload(t, id, "cv.docx", []byte("%PDF-"))
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.upload(t, id, "cv.pdf", []byte("not a pdf at all"))
	expectStatus(t, resp, http.StatusBadRequest)

	resp = api.upload(t, "missing", "cv.pdf", []byte("%PDF-1.7"))
	expectStatus(t, resp, http.StatusNotFound)

	resp = api.upload(t, id, "cv.pdf", []byte("%PDF-1.7"))
	expectStatus(t, resp, http.StatusOK)
	resp = api.do(t, http.MethodGet, "/sessions/"+id+"/tech-questions", nil, "")
	expectStatus(t, resp, http.StatusOK)

	resp = api.json(t, http.MethodPost, "/sessions/"+id+"/submit-answers", answersRequest{Answers: map[string]string{"q1": "only one"}})
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decodeBody[errorResponse](t, resp); got.Code != "incomplete_input" || !strings.Contains(got.Detail, "q2") {
		t.Fatalf("unexpected incomplete body %+v", got)
	}

	resp = api.do(t, http.MethodDelete, "/sessions/missing", nil, "")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestWelcomeHealthAndList(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[messageResponse](t, resp); got.Status != "active" {
		t.Fatalf("unexpected welcome %+v", got)
	}

	resp = api.do(t, http.MethodGet, "/sessions", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[[]screening.Summary](t, resp); got == nil || len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}

	api.json(t, http.MethodPost, "/sessions/start", map[string]string{"candidate_name": "Ada"})
	api.json(t, http.MethodPost, "/sessions/start", map[string]string{"candidate_name": "Grace"})

	resp = api.do(t, http.MethodGet, "/health", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[healthResponse](t, resp); got.Status != "healthy" || got.ActiveSessions != 2 {
		t.Fatalf("unexpected health %+v", got)
	}

	resp = api.do(t, http.MethodGet, "/sessions", nil, "")
	list := decodeBody[[]screening.Summary](t, resp)
	if len(list) != 2 || list[0].CandidateName != "Ada" || list[1].CandidateName != "Grace" {
		t.Fatalf("unexpected list %+v", list)
	}

	resp = api.do(t, http.MethodGet, "/nope", nil, "")
	expectStatus(t, resp, http.StatusNotFound)

	if api.logs.FilterMessage("request served").Len() == 0 {
		t.Fatal("access log missing")
	}
}

type failingScreener struct {
	Screener
	err error
}

func (f failingScreener) Questions(context.Context, string) (screening.QuestionSet, error) {
	return nil, f.err
}

func (f failingScreener) Status(context.Context, string) (screening.Summary, error) {
	panic("boom")
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	rateLimited := &screening.StageError{
		Stage: screening.StageQuestionGeneration,
		Kind:  screening.ErrTransientUpstream,
		Err:   &ai.TransientError{Err: errors.New("quota"), RetryAfter: 1500 * time.Millisecond},
	}

	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{name: "precondition", err: fmt.Errorf("wrap: %w", screening.ErrPreconditionFailed), status: http.StatusBadRequest, code: "precondition_failed"},
		{name: "not found", err: screening.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "completed", err: screening.ErrInvalidState, status: http.StatusConflict, code: "invalid_state"},
		{name: "format", err: screening.ErrUpstreamFormat, status: http.StatusBadGateway, code: "upstream_format"},
		{name: "rate limited", err: rateLimited, status: http.StatusServiceUnavailable, code: "upstream_unavailable", retryAfter: "2"},
		{name: "busy", err: screening.ErrBusy, status: http.StatusServiceUnavailable, code: "busy", retryAfter: "5"},
		{name: "unknown", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := New(failingScreener{err: tt.err}, nil, Config{}, nil)
			rec := httptest.NewRecorder()
			api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/x/tech-questions", nil))

			if rec.Code != tt.status {
				t.Fatalf("status %d, want %d", rec.Code, tt.status)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.code {
				t.Fatalf("code %q, want %q", body.Code, tt.code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Fatalf("Retry-After %q, want %q", got, tt.retryAfter)
			}
			if tt.status == http.StatusInternalServerError && body.Detail != "" {
				t.Fatalf("internal error detail leaked: %q", body.Detail)
			}
		})
	}
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	t.Parallel()

	api := New(failingScreener{}, nil, Config{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/x/status", nil)
	req.Header.Set(requestIDHeader, "req-1")
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
	if got := rec.Header().Get(requestIDHeader); got != "req-1" {
		t.Fatalf("request id not propagated: %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	api := New(failingScreener{}, nil, Config{}, nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/sessions/start", nil))

	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}
}
