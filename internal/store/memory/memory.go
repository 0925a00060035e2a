// Package memory keeps sessions in process memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spigell/hirebot/internal/screening"
)

// Store is a concurrency safe in-memory screening.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*screening.Session
}

func New() *Store {
	return &Store{sessions: make(map[string]*screening.Session)}
}

func (s *Store) Create(_ context.Context, sess *screening.Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*screening.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// Update runs fn on a copy and swaps it in only when fn and validation succeed.
func (s *Store) Update(_ context.Context, id string, fn func(*screening.Session) error) (*screening.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) (*screening.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", screening.ErrNotFound, id)
	}
	delete(s.sessions, id)
	return sess, nil
}

func (s *Store) List(_ context.Context) ([]screening.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]screening.Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
