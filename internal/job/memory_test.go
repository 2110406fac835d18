package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New(KindResize, "still.png")

	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID || saved.Kind != KindResize {
		t.Errorf("unexpected job %+v", saved)
	}
}

func TestMemoryRepository_StoresSnapshots(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New(KindConcat)

	_ = repo.Save(ctx, job)
	job.UpdateProgress(10, 100, 10)

	saved, _ := repo.FindByID(ctx, job.ID)
	if saved.Progress != 0 {
		t.Errorf("expected stored snapshot to be unaffected, got progress %v", saved.Progress)
	}

	saved.Status = StatusFailed
	again, _ := repo.FindByID(ctx, job.ID)
	if again.Status != StatusInQueue {
		t.Errorf("expected stored job to be unaffected by reads, got %s", again.Status)
	}
}

func TestMemoryRepository_SaveCancelledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := repo.Save(ctx, New(KindResize)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	if _, err := repo.FindByID(context.Background(), "missing"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListOrdered(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		job := NewWithID(id, KindResize)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_ = repo.Save(ctx, job)
	}

	jobs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []string
	for _, j := range jobs {
		got = append(got, j.ID)
	}
	if len(got) != 3 || got[0] != "c" || got[1] != "a" || got[2] != "b" {
		t.Errorf("expected creation order [c a b], got %v", got)
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New(KindResize)
	_ = repo.Save(ctx, job)

	if err := repo.Delete(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, job.ID); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, job.ID); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
