package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/podscrub/internal/config"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
)

// pollInterval is how often the scheduler looks for queued work.
const pollInterval = 5 * time.Second

// Processor runs the per-episode pipeline for one queue entry. The scheduler
// holds the slot around the call.
type Processor interface {
	ProcessEpisode(ctx context.Context, entry store.QueueEntry) error
}

// Refresher re-fetches all subscribed feeds and enqueues new episodes.
type Refresher interface {
	RefreshAll(ctx context.Context)
}

// Scheduler drives the processing queue: one loop executes queued entries
// through the single slot, another refreshes feeds and sweeps retention.
type Scheduler struct {
	store     store.Store
	slot      *Slot
	clock     config.Clock
	cfg       config.SchedulerConfig
	processor Processor
	refresher Refresher
	bus       *status.Bus
	metrics   *observe.Metrics
	log       *slog.Logger

	// lastDepth holds the queue depth last reported to the gauge, so each
	// publish adds only the delta. Both loops publish.
	lastDepth atomic.Int64
}

// NewScheduler wires a Scheduler. clock may be nil for the system clock;
// refresher and bus may be nil.
func NewScheduler(st store.Store, slot *Slot, cfg config.SchedulerConfig, processor Processor, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:     st,
		slot:      slot,
		clock:     config.SystemClock{},
		cfg:       cfg,
		processor: processor,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the time source, used by tests.
func WithClock(c config.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithRefresher sets the feed refresher run by the background loop.
func WithRefresher(r Refresher) SchedulerOption {
	return func(s *Scheduler) { s.refresher = r }
}

// WithStatusBus publishes queue snapshots to the bus.
func WithStatusBus(b *status.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = b }
}

// WithMetrics keeps the queue-depth gauge current.
func WithMetrics(m *observe.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = log }
}

// Run starts both loops and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.processLoop(ctx) })
	if s.refresher != nil {
		g.Go(func() error { return s.refreshLoop(ctx) })
	}
	return g.Wait()
}

func (s *Scheduler) processLoop(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick resets eligible failed entries, then runs the oldest queued one.
func (s *Scheduler) tick(ctx context.Context) {
	if n, err := s.ResetFailed(ctx); err != nil {
		s.log.Error("resetting failed queue entries", "err", err)
	} else if n > 0 {
		s.log.Info("reset failed queue entries", "count", n)
	}

	entry, err := s.store.NextQueued(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("selecting next queue entry", "err", err)
		}
		return
	}

	if err := s.slot.Acquire(entry.PodcastSlug, entry.EpisodeID); err != nil {
		return // busy; the entry stays queued
	}
	defer s.slot.Release()

	s.publishQueue(ctx)
	if err := s.processor.ProcessEpisode(ctx, *entry); err != nil {
		s.handleFailure(ctx, entry, err)
	} else {
		entry.Status = store.QueueStatusDone
		if err := s.store.UpsertQueueEntry(ctx, entry); err != nil {
			s.log.Error("marking queue entry done", "err", err)
		}
	}
	s.publishQueue(ctx)
}

func (s *Scheduler) handleFailure(ctx context.Context, entry *store.QueueEntry, procErr error) {
	s.log.Error("episode processing failed",
		"podcast", entry.PodcastSlug, "episode", entry.EpisodeID, "err", procErr)

	entry.Status = store.QueueStatusFailed
	entry.Attempts++
	if err := s.store.UpsertQueueEntry(ctx, entry); err != nil {
		s.log.Error("marking queue entry failed", "err", err)
	}

	ep, err := s.store.GetEpisode(ctx, entry.PodcastSlug, entry.EpisodeID)
	if err != nil {
		return
	}
	ep.RetryCount++
	ep.Status = store.StatusFailed
	ep.ErrorMessage = procErr.Error()
	if ep.RetryCount >= s.cfg.MaxRetries {
		ep.Status = store.StatusPermanentlyFailed
	}
	if err := s.store.SaveEpisode(ctx, ep); err != nil {
		s.log.Error("recording episode failure", "err", err)
	}
}

// ResetFailed re-queues failed entries whose backoff has elapsed. An entry
// with attempts n must wait 5, 15, or 45 minutes (n = 1, 2, >= 3) since its
// last update. Entries older than the configured max age, or whose episode
// is permanently failed or out of retries, are never reset.
func (s *Scheduler) ResetFailed(ctx context.Context) (int, error) {
	entries, err := s.store.ListQueueEntries(ctx, store.QueueStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("queue: list failed entries: %w", err)
	}

	now := s.clock.Now()
	reset := 0
	for _, entry := range entries {
		if now.Sub(entry.CreatedAt) > s.cfg.MaxAge {
			continue
		}
		if now.Sub(entry.UpdatedAt) < s.retryWait(entry.Attempts) {
			continue
		}
		ep, err := s.store.GetEpisode(ctx, entry.PodcastSlug, entry.EpisodeID)
		if err == nil {
			if ep.Status == store.StatusPermanentlyFailed || ep.RetryCount >= s.cfg.MaxRetries {
				continue
			}
		}
		entry.Status = store.QueueStatusQueued
		if err := s.store.UpsertQueueEntry(ctx, &entry); err != nil {
			return reset, fmt.Errorf("queue: reset entry %s/%s: %w", entry.PodcastSlug, entry.EpisodeID, err)
		}
		reset++
	}
	return reset, nil
}

func (s *Scheduler) retryWait(attempts int) time.Duration {
	waits := s.cfg.RetryWaits
	if len(waits) < 3 {
		waits = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}
	}
	switch {
	case attempts <= 1:
		return waits[0]
	case attempts == 2:
		return waits[1]
	default:
		return waits[2]
	}
}

func (s *Scheduler) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresher.RefreshAll(ctx)
			res, err := s.store.CleanupOld(ctx, s.cfg.Retention)
			if err != nil {
				s.log.Error("retention cleanup", "err", err)
			} else if res.Episodes > 0 {
				s.log.Info("retention cleanup",
					"episodes", res.Episodes, "bytes_freed", res.BytesFreed)
			}
			s.publishQueue(ctx)
		}
	}
}

// publishQueue pushes the queued entries to the status bus and the
// queue-depth gauge.
func (s *Scheduler) publishQueue(ctx context.Context) {
	if s.bus == nil && s.metrics == nil {
		return
	}
	entries, err := s.store.ListQueueEntries(ctx, store.QueueStatusQueued)
	if err != nil {
		return
	}
	if s.metrics != nil {
		depth := int64(len(entries))
		s.metrics.QueueDepth.Add(ctx, depth-s.lastDepth.Swap(depth))
	}
	if s.bus == nil {
		return
	}
	items := make([]status.QueueItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, status.QueueItem{
			PodcastSlug: e.PodcastSlug,
			EpisodeID:   e.EpisodeID,
			Title:       e.Title,
			Status:      e.Status,
			Attempts:    e.Attempts,
		})
	}
	s.bus.SetQueue(items)
}

// Enqueue adds an episode to the queue in state queued.
func (s *Scheduler) Enqueue(ctx context.Context, slug, episodeID, url, title string) error {
	entry := &store.QueueEntry{
		PodcastSlug: slug,
		EpisodeID:   episodeID,
		OriginalURL: url,
		Title:       title,
		Status:      store.QueueStatusQueued,
	}
	if err := s.store.UpsertQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("queue: enqueue %s/%s: %w", slug, episodeID, err)
	}
	s.publishQueue(ctx)
	return nil
}
