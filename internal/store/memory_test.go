package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/podscrub/internal/store"
)

func seedEpisode(t *testing.T, s store.Store, slug, id string) *store.Episode {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetPodcast(ctx, slug); errors.Is(err, store.ErrNotFound) {
		if err := s.CreatePodcast(ctx, &store.Podcast{Slug: slug, SourceURL: "https://example.com/feed.xml"}); err != nil {
			t.Fatalf("CreatePodcast: %v", err)
		}
	}
	e := &store.Episode{
		PodcastSlug: slug,
		EpisodeID:   id,
		OriginalURL: "https://example.com/" + id + ".mp3",
		Title:       "Episode " + id,
		PublishedAt: time.Now(),
	}
	if err := s.UpsertEpisode(ctx, e); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	return e
}

func TestUpsertEpisode_RefreshKeepsProcessingState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	e := seedEpisode(t, s, "show", "ep1")

	e.Status = store.StatusProcessed
	e.AdsRemoved = 3
	if err := s.SaveEpisode(ctx, e); err != nil {
		t.Fatalf("SaveEpisode: %v", err)
	}

	// A feed refresh re-upserts the same enclosure with a changed title.
	refresh := &store.Episode{
		PodcastSlug: "show",
		EpisodeID:   "ep1",
		OriginalURL: e.OriginalURL,
		Title:       "Episode ep1 (remastered)",
	}
	if err := s.UpsertEpisode(ctx, refresh); err != nil {
		t.Fatalf("UpsertEpisode refresh: %v", err)
	}

	got, err := s.GetEpisode(ctx, "show", "ep1")
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if got.Status != store.StatusProcessed || got.AdsRemoved != 3 {
		t.Errorf("processing state lost on refresh: status=%s ads=%d", got.Status, got.AdsRemoved)
	}
	if got.Title != "Episode ep1 (remastered)" {
		t.Errorf("title not refreshed: %q", got.Title)
	}
}

func TestDeletePodcast_Cascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	seedEpisode(t, s, "show", "ep1")
	if err := s.SaveEpisodeDetails(ctx, &store.EpisodeDetails{PodcastSlug: "show", EpisodeID: "ep1", TranscriptText: "hello"}); err != nil {
		t.Fatalf("SaveEpisodeDetails: %v", err)
	}
	if err := s.UpsertQueueEntry(ctx, &store.QueueEntry{PodcastSlug: "show", EpisodeID: "ep1"}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}

	if err := s.DeletePodcast(ctx, "show"); err != nil {
		t.Fatalf("DeletePodcast: %v", err)
	}
	if _, err := s.GetEpisode(ctx, "show", "ep1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("episode survived cascade: %v", err)
	}
	if _, err := s.GetEpisodeDetails(ctx, "show", "ep1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("details survived cascade: %v", err)
	}
	if entries, _ := s.ListQueueEntries(ctx, ""); len(entries) != 0 {
		t.Errorf("queue entries survived cascade: %v", entries)
	}
}

func TestSeedDefaultSettings_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()

	if err := s.SeedDefaultSettings(ctx); err != nil {
		t.Fatalf("SeedDefaultSettings: %v", err)
	}
	if err := s.SetSetting(ctx, "llm_model", "custom-model"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SeedDefaultSettings(ctx); err != nil {
		t.Fatalf("SeedDefaultSettings again: %v", err)
	}

	got, err := s.GetSetting(ctx, "llm_model")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got.Value != "custom-model" || got.IsDefault {
		t.Errorf("user setting overwritten by reseed: %+v", got)
	}
	if rm, err := s.GetSetting(ctx, "retention_minutes"); err != nil || !rm.IsDefault {
		t.Errorf("seeded setting missing or not default: %+v err=%v", rm, err)
	}
}

func TestIncrementTotalTimeSaved_Monotone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()

	for _, delta := range []float64{60, -30, 0, 90.5} {
		if err := s.IncrementTotalTimeSaved(ctx, delta); err != nil {
			t.Fatalf("IncrementTotalTimeSaved(%v): %v", delta, err)
		}
	}
	total, err := s.TotalTimeSaved(ctx)
	if err != nil {
		t.Fatalf("TotalTimeSaved: %v", err)
	}
	if total != 150.5 {
		t.Errorf("total = %v, want 150.5 (negative and zero deltas ignored)", total)
	}
}

func TestNextQueued_OldestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertQueueEntry(ctx, &store.QueueEntry{PodcastSlug: "show", EpisodeID: id}); err != nil {
			t.Fatalf("UpsertQueueEntry: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	// Failing "a" takes it out of contention.
	if err := s.UpsertQueueEntry(ctx, &store.QueueEntry{
		PodcastSlug: "show", EpisodeID: "a", Status: store.QueueStatusFailed, Attempts: 1,
	}); err != nil {
		t.Fatalf("UpsertQueueEntry fail: %v", err)
	}

	next, err := s.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if next.EpisodeID != "b" {
		t.Errorf("NextQueued = %q, want oldest queued %q", next.EpisodeID, "b")
	}
}

// Confirming an ad must delete an overlapping false-positive record, and the
// other way round; partial overlap under half the shorter span is kept and
// "adjust" never deletes anything.
func TestDeleteConflictingCorrections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := store.NewMemory()
	seedEpisode(t, s, "show", "ep1")

	add := func(action string, start, end float64) {
		t.Helper()
		if err := s.AddCorrection(ctx, &store.AdCorrection{
			PodcastSlug: "show", EpisodeID: "ep1", Action: action, Start: start, End: end,
		}); err != nil {
			t.Fatalf("AddCorrection: %v", err)
		}
	}

	add(store.CorrectionFalsePositive, 100, 160) // fully inside the confirm span
	add(store.CorrectionFalsePositive, 150, 400) // overlap 10s of shorter 60s: kept
	add(store.CorrectionConfirmed, 500, 560)     // opposite direction target

	removed, err := s.DeleteConflictingCorrections(ctx, "show", "ep1", store.CorrectionConfirmed, 90, 170)
	if err != nil {
		t.Fatalf("DeleteConflictingCorrections: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	fps, _ := s.ListCorrections(ctx, "show", "ep1", store.CorrectionFalsePositive)
	if len(fps) != 1 || fps[0].Start != 150 {
		t.Errorf("wrong false_positive survived: %+v", fps)
	}

	removed, err = s.DeleteConflictingCorrections(ctx, "show", "ep1", store.CorrectionFalsePositive, 520, 580)
	if err != nil {
		t.Fatalf("DeleteConflictingCorrections reverse: %v", err)
	}
	if removed != 1 {
		t.Errorf("reverse removed = %d, want 1", removed)
	}

	removed, err = s.DeleteConflictingCorrections(ctx, "show", "ep1", store.CorrectionAdjust, 0, 10000)
	if err != nil {
		t.Fatalf("DeleteConflictingCorrections adjust: %v", err)
	}
	if removed != 0 {
		t.Errorf("adjust removed %d records, want 0", removed)
	}
}

// Retention counts from creation, not from processing, and applies to every
// status: a pending episode created long ago is swept alongside processed
// ones.
func TestCleanupOld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	now := time.Now()
	current := now.Add(-48 * time.Hour)
	s := store.NewMemory(store.WithClock(func() time.Time { return current }))

	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.mp3")
	if err := os.WriteFile(oldFile, make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Both created 48h ago; one finished processing, one never left pending.
	old := seedEpisode(t, s, "show", "old")
	old.Status = store.StatusProcessed
	old.ProcessedAt = now.Add(-time.Hour)
	old.ProcessedFile = oldFile
	if err := s.SaveEpisode(ctx, old); err != nil {
		t.Fatalf("SaveEpisode old: %v", err)
	}
	seedEpisode(t, s, "show", "stuck") // stays pending

	current = now
	fresh := seedEpisode(t, s, "show", "fresh")
	fresh.Status = store.StatusProcessed
	fresh.ProcessedAt = now
	if err := s.SaveEpisode(ctx, fresh); err != nil {
		t.Fatalf("SaveEpisode fresh: %v", err)
	}

	res, err := s.CleanupOld(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if res.Episodes != 2 || res.BytesFreed != 2048 {
		t.Errorf("CleanupOld = %+v, want 2 episodes / 2048 bytes", res)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Errorf("processed file not removed: %v", err)
	}
	if _, err := s.GetEpisode(ctx, "show", "stuck"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale pending episode survived the sweep: %v", err)
	}
	if _, err := s.GetEpisode(ctx, "show", "fresh"); err != nil {
		t.Errorf("fresh episode swept: %v", err)
	}
}
