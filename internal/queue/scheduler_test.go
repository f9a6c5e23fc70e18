package queue_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/podscrub/internal/config"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/queue"
	"github.com/MrWong99/podscrub/internal/store"
)

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxRetries:      3,
		RetryWaits:      []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute},
		MaxAge:          48 * time.Hour,
		RefreshInterval: 15 * time.Minute,
		Retention:       24 * time.Hour,
	}
}

type noopProcessor struct{}

func (noopProcessor) ProcessEpisode(context.Context, store.QueueEntry) error { return nil }

func seedFailedEntry(t *testing.T, s store.Store, id string, attempts, retryCount int, epStatus store.EpisodeStatus) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetPodcast(ctx, "show"); err != nil {
		if err := s.CreatePodcast(ctx, &store.Podcast{Slug: "show", SourceURL: "https://example.com/feed"}); err != nil {
			t.Fatalf("CreatePodcast: %v", err)
		}
	}
	e := &store.Episode{PodcastSlug: "show", EpisodeID: id, OriginalURL: "https://example.com/" + id}
	if err := s.UpsertEpisode(ctx, e); err != nil {
		t.Fatalf("UpsertEpisode: %v", err)
	}
	e.Status = epStatus
	e.RetryCount = retryCount
	if err := s.SaveEpisode(ctx, e); err != nil {
		t.Fatalf("SaveEpisode: %v", err)
	}
	if err := s.UpsertQueueEntry(ctx, &store.QueueEntry{
		PodcastSlug: "show", EpisodeID: id, Status: store.QueueStatusFailed, Attempts: attempts,
	}); err != nil {
		t.Fatalf("UpsertQueueEntry: %v", err)
	}
}

func queuedIDs(t *testing.T, s store.Store) map[string]bool {
	t.Helper()
	entries, err := s.ListQueueEntries(context.Background(), store.QueueStatusQueued)
	if err != nil {
		t.Fatalf("ListQueueEntries: %v", err)
	}
	ids := map[string]bool{}
	for _, e := range entries {
		ids[e.EpisodeID] = true
	}
	return ids
}

func TestResetFailed_Backoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()

	seedFailedEntry(t, st, "one-attempt", 1, 1, store.StatusFailed)
	seedFailedEntry(t, st, "two-attempts", 2, 2, store.StatusFailed)
	seedFailedEntry(t, st, "three-attempts", 3, 2, store.StatusFailed)
	seedFailedEntry(t, st, "permanent", 1, 1, store.StatusPermanentlyFailed)
	seedFailedEntry(t, st, "out-of-retries", 1, 3, store.StatusFailed)

	clock := &config.FakeClock{Current: time.Now()}
	sched := queue.NewScheduler(st, queue.NewSlot(), schedulerConfig(), noopProcessor{},
		queue.WithClock(clock))

	// No wait has elapsed yet.
	if n, err := sched.ResetFailed(ctx); err != nil || n != 0 {
		t.Fatalf("immediate reset = %d, %v; want 0", n, err)
	}

	// After 6 minutes only the one-attempt entry's 5m wait has elapsed.
	clock.Advance(6 * time.Minute)
	if n, err := sched.ResetFailed(ctx); err != nil || n != 1 {
		t.Fatalf("reset at 6m = %d, %v; want 1", n, err)
	}
	ids := queuedIDs(t, st)
	if !ids["one-attempt"] || ids["permanent"] || ids["out-of-retries"] {
		t.Errorf("queued after 6m = %v", ids)
	}

	// At 20 minutes the two-attempt entry's 15m wait has elapsed.
	clock.Advance(14 * time.Minute)
	if n, err := sched.ResetFailed(ctx); err != nil || n != 1 {
		t.Fatalf("reset at 20m = %d, %v; want 1", n, err)
	}
	if ids := queuedIDs(t, st); !ids["two-attempts"] {
		t.Errorf("two-attempts not reset at 20m: %v", ids)
	}

	// At 50 minutes the three-attempt entry's 45m wait has elapsed; the
	// permanently-failed and out-of-retries entries stay failed forever.
	clock.Advance(30 * time.Minute)
	if n, err := sched.ResetFailed(ctx); err != nil || n != 1 {
		t.Fatalf("reset at 50m = %d, %v; want 1", n, err)
	}
	ids = queuedIDs(t, st)
	if !ids["three-attempts"] {
		t.Errorf("three-attempts not reset at 50m: %v", ids)
	}
	if ids["permanent"] || ids["out-of-retries"] {
		t.Errorf("blocked entries were reset: %v", ids)
	}
}

func TestResetFailed_MaxAge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	seedFailedEntry(t, st, "stale", 1, 1, store.StatusFailed)

	cfg := schedulerConfig()
	cfg.MaxAge = time.Minute
	clock := &config.FakeClock{Current: time.Now().Add(10 * time.Minute)}
	sched := queue.NewScheduler(st, queue.NewSlot(), cfg, noopProcessor{}, queue.WithClock(clock))

	if n, err := sched.ResetFailed(ctx); err != nil || n != 0 {
		t.Errorf("entry beyond max age reset: n=%d err=%v", n, err)
	}
}

func TestEnqueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	sched := queue.NewScheduler(st, queue.NewSlot(), schedulerConfig(), noopProcessor{})

	if err := sched.Enqueue(ctx, "show", "ep1", "https://example.com/ep1.mp3", "Episode 1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	next, err := st.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if next.EpisodeID != "ep1" || next.Status != store.QueueStatusQueued {
		t.Errorf("entry = %+v", next)
	}
}

func queueDepthValue(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "podscrub.queue.depth" {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("depth metric is not a sum")
			}
			if len(sum.DataPoints) != 1 {
				t.Fatalf("depth data points = %d, want 1", len(sum.DataPoints))
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatal("queue depth metric not found")
	return 0
}

// The depth gauge always reads the current number of queued entries: each
// publish adds only the delta since the last one, so draining entries moves
// the gauge back down.
func TestEnqueue_ReportsQueueDepth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	sched := queue.NewScheduler(st, queue.NewSlot(), schedulerConfig(), noopProcessor{},
		queue.WithMetrics(metrics))

	for _, id := range []string{"ep1", "ep2", "ep3"} {
		if err := sched.Enqueue(ctx, "show", id, "https://example.com/"+id+".mp3", "Episode "+id); err != nil {
			t.Fatalf("Enqueue %s: %v", id, err)
		}
	}
	if got := queueDepthValue(t, reader); got != 3 {
		t.Errorf("depth after three enqueues = %d, want 3", got)
	}

	// Two entries finish; the next publish reports the shrunken queue.
	for _, id := range []string{"ep1", "ep2"} {
		if err := st.UpsertQueueEntry(ctx, &store.QueueEntry{
			PodcastSlug: "show", EpisodeID: id, Status: store.QueueStatusDone,
		}); err != nil {
			t.Fatalf("UpsertQueueEntry %s: %v", id, err)
		}
	}
	if err := sched.Enqueue(ctx, "show", "ep4", "https://example.com/ep4.mp3", "Episode 4"); err != nil {
		t.Fatalf("Enqueue ep4: %v", err)
	}
	if got := queueDepthValue(t, reader); got != 2 {
		t.Errorf("depth after drain = %d, want 2", got)
	}
}
