package queue_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/podscrub/internal/queue"
)

func TestSlot_AcquireRelease(t *testing.T) {
	t.Parallel()

	s := queue.NewSlot()
	if err := s.Acquire("show", "ep1"); err != nil {
		t.Fatalf("Acquire on free slot: %v", err)
	}

	holder, held := s.Holder()
	if !held || holder.PodcastSlug != "show" || holder.EpisodeID != "ep1" {
		t.Errorf("holder = %+v, held=%v", holder, held)
	}

	if err := s.Acquire("other", "ep2"); !errors.Is(err, queue.ErrBusy) {
		t.Errorf("second acquire = %v, want ErrBusy", err)
	}
	// Re-entry for the same episode is refused too.
	if err := s.Acquire("show", "ep1"); !errors.Is(err, queue.ErrBusy) {
		t.Errorf("same-episode re-entry = %v, want ErrBusy", err)
	}

	s.Release()
	if _, held := s.Holder(); held {
		t.Error("slot still held after release")
	}
	// Release is idempotent.
	s.Release()
	if err := s.Acquire("other", "ep2"); err != nil {
		t.Errorf("acquire after double release: %v", err)
	}
}
