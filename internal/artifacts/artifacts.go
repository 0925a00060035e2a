// Package artifacts keeps session-scoped uploaded files on disk.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Store writes uploads as {session_id}_{filename} under a single directory.
type Store struct {
	dir      string
	maxBytes int64
}

// New creates the upload directory when missing. maxBytes <= 0 disables the size check.
func New(dir string, maxBytes int64) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir %q: %w", dir, err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies r into a session-scoped file and returns its path. Partial files are removed on failure.
func (s *Store) Save(sessionID, filename string, r io.Reader) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New("session id is required")
	}

	path := filepath.Join(s.dir, sessionID+"_"+SanitizeFilename(filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("write artifact: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("close artifact: %w", closeErr)
	case s.maxBytes > 0 && n > s.maxBytes:
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes)
	}

	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Remove deletes the artifact at path. Missing files are not an error.
func (s *Store) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if !s.owns(path) {
		return fmt.Errorf("artifact %q is outside of %q", path, s.dir)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

func (s *Store) owns(path string) bool {
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == dir
}

// SanitizeFilename strips directories and characters that do not belong in a file name.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0:
			return -1
		case r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)

	if name == "" || name == "." || name == ".." {
		return "resume.pdf"
	}
	return name
}
