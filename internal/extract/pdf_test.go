package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type stubRunner struct {
	stdout []byte
	stderr []byte
	err    error

	name string
	args []string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.name = name
	s.args = args
	return s.stdout, s.stderr, s.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newTestExtractor(runner Runner, cfg Config) *PDFExtractor {
	e := New(cfg, zap.NewNop())
	e.runner = runner
	return e
}

func TestExtractReturnsText(t *testing.T) {
	runner := &stubRunner{stdout: []byte("Ada Lovelace\nSkills: Python\fPage two\n")}
	e := newTestExtractor(runner, Config{MaxPages: 2})

	path := writeFile(t, "resume.pdf", "%PDF-1.7\n...")
	res, err := e.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Pages != 2 {
		t.Fatalf("expected 2 pages, got %d", res.Pages)
	}
	if !strings.HasPrefix(res.Text, "Ada Lovelace") {
		t.Fatalf("unexpected text %q", res.Text)
	}

	if runner.name != "pdftotext" {
		t.Fatalf("expected default binary, got %q", runner.name)
	}
	joined := strings.Join(runner.args, " ")
	if !strings.Contains(joined, "-l 2") || !strings.HasSuffix(joined, path+" -") {
		t.Fatalf("unexpected args %q", joined)
	}
}

func TestExtractRejectsNonPDF(t *testing.T) {
	runner := &stubRunner{}
	e := newTestExtractor(runner, Config{})

	path := writeFile(t, "resume.pdf", "just text")
	if _, err := e.Extract(context.Background(), path); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	if runner.name != "" {
		t.Fatalf("runner must not be called for non-PDF input")
	}
}

func TestExtractMissingFile(t *testing.T) {
	e := newTestExtractor(&stubRunner{}, Config{})

	_, err := e.Extract(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}

func TestExtractEmptyText(t *testing.T) {
	e := newTestExtractor(&stubRunner{stdout: []byte("\f\n  \f")}, Config{})

	path := writeFile(t, "scan.pdf", "%PDF-1.4")
	if _, err := e.Extract(context.Background(), path); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestExtractRunnerFailure(t *testing.T) {
	e := newTestExtractor(&stubRunner{stderr: []byte("Syntax Error: broken xref"), err: errors.New("exit status 1")}, Config{})

	path := writeFile(t, "broken.pdf", "%PDF-1.4")
	_, err := e.Extract(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "broken xref") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestCheckHeaderShortInput(t *testing.T) {
	if err := CheckHeader(strings.NewReader("%P")); !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}
