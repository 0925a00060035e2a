package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spigell/hirebot/internal/screening"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "hirebot.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func session(id string, created time.Time) *screening.Session {
	return &screening.Session{
		ID:            id,
		CandidateName: "Ada",
		Step:          screening.StepResumeUpload,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestStoreRoundTripsSession(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	created := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Create(ctx, session("a", created)); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := store.Update(ctx, "a", func(s *screening.Session) error {
		s.ResumeText = "cv"
		s.ResumeFields = &screening.ResumeFields{Skills: []string{"Go"}}
		s.Questions = screening.QuestionSet{{ID: "z", Text: "Z?"}, {ID: "a", Text: "A?"}}
		s.Step = screening.StepAnsweringQuestions
		s.UpdatedAt = created.Add(time.Minute)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Questions, updated.Questions) || got.Questions[0].ID != "z" {
		t.Fatalf("question order lost: %+v", got.Questions)
	}
	if got.Step != screening.StepAnsweringQuestions || !got.UpdatedAt.Equal(created.Add(time.Minute)) {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestStoreUpdateRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.Create(ctx, session("a", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(ctx, "a", func(s *screening.Session) error {
		s.CandidateName = "half"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	got, _ := store.Get(ctx, "a")
	if got.CandidateName != "Ada" {
		t.Fatalf("failed update persisted: %+v", got)
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"b", "a", "c"} {
		if err := store.Create(ctx, session(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	removed, err := store.Delete(ctx, "a")
	if err != nil || removed.ID != "a" {
		t.Fatalf("delete: %+v, %v", removed, err)
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, screening.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Delete(ctx, "a"); !errors.Is(err, screening.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "c" {
		t.Fatalf("unexpected list %+v", list)
	}
}
