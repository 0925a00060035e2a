package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spigell/hirebot/internal/screening"
)

func newSession(id string, created time.Time) *screening.Session {
	return &screening.Session{
		ID:            id,
		CandidateName: "Ada",
		Step:          screening.StepResumeUpload,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestStoreCopiesOnReadAndWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	sess := newSession("a", time.Now())
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	sess.CandidateName = "changed by caller"
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CandidateName != "Ada" {
		t.Fatalf("stored record aliased caller memory: %q", got.CandidateName)
	}

	got.CandidateName = "changed again"
	again, _ := store.Get(ctx, "a")
	if again.CandidateName != "Ada" {
		t.Fatalf("returned record aliased store memory: %q", again.CandidateName)
	}
}

func TestStoreRejectsDuplicateCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	if err := store.Create(ctx, newSession("a", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newSession("a", time.Now())); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func TestStoreUpdateIsAllOrNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	if err := store.Create(ctx, newSession("a", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	_, err := store.Update(ctx, "a", func(s *screening.Session) error {
		s.CandidateName = "half written"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	_, err = store.Update(ctx, "a", func(s *screening.Session) error {
		s.ResumeText = "text without fields"
		return nil
	})
	if !errors.Is(err, screening.ErrInvalidState) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	got, _ := store.Get(ctx, "a")
	if got.CandidateName != "Ada" || got.ResumeText != "" {
		t.Fatalf("failed updates leaked into the store: %+v", got)
	}
}

func TestStoreMissingSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, screening.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Update(ctx, "nope", func(*screening.Session) error { return nil }); !errors.Is(err, screening.ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Delete(ctx, "nope"); !errors.Is(err, screening.ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
}

func TestStoreListOrdersByCreation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		if err := store.Create(ctx, newSession(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	if want := []string{"c", "a", "b"}; len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Fatalf("unexpected order %v", ids)
	}
}
