// Package extract turns uploaded PDF resumes into plain text with poppler's pdftotext.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

const defaultBinary = "pdftotext"

var (
	// ErrNotPDF is returned when the file does not carry the PDF magic header.
	ErrNotPDF = errors.New("file is not a PDF document")
	// ErrNoText is returned when the PDF contains no extractable text (e.g. a scanned image).
	ErrNoText = errors.New("no text could be extracted from the PDF")
)

var pdfMagic = []byte("%PDF-")

// Config controls the pdftotext invocation.
type Config struct {
	// Binary is the pdftotext executable name or path.
	Binary string
	// MaxPages limits extraction to the first pages. Zero means all pages.
	MaxPages int
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text  string
	Pages int
}

// PDFExtractor extracts text from single-document PDF files.
type PDFExtractor struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// New creates a PDFExtractor that shells out to pdftotext.
func New(cfg Config, logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = defaultBinary
	}
	return &PDFExtractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// Extract validates the file at path and returns its text.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (Result, error) {
	if err := CheckPDF(path); err != nil {
		return Result{}, err
	}

	args := []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}
	if e.cfg.MaxPages > 0 {
		args = append(args, "-l", fmt.Sprintf("%d", e.cfg.MaxPages))
	}
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	args = append(args, path, "-")

	out, errb, err := e.runner.Run(ctx, e.cfg.Binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("pdftotext: %w", ctxErr)
		}
		if stderr := strings.TrimSpace(string(errb)); stderr != "" {
			return Result{}, fmt.Errorf("pdftotext: %w: %s", err, stderr)
		}
		return Result{}, fmt.Errorf("pdftotext: %w", err)
	}

	text := strings.TrimSpace(string(out))
	if strings.Trim(text, "\f \n\t") == "" {
		return Result{}, ErrNoText
	}

	// A form-feed \f is used as page separator by default.
	pages := 1 + strings.Count(text, "\f")
	e.logger.Debug("pdf text extracted",
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("bytes", len(text)),
	)

	return Result{Text: text, Pages: pages}, nil
}

// CheckPDF fails unless path is a readable regular file starting with the PDF header.
func CheckPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open resume: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat resume: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, ErrNotPDF)
	}

	return CheckHeader(f)
}

// CheckHeader fails unless r starts with the PDF header.
func CheckHeader(r io.Reader) error {
	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrNotPDF
		}
		return fmt.Errorf("read resume header: %w", err)
	}

	if !bytes.Equal(header, pdfMagic) {
		return ErrNotPDF
	}
	return nil
}
