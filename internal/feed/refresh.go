package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
)

// Enqueuer adds a new episode to the processing queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, slug, episodeID, url, title string) error
}

// Service runs the subscription side: it refreshes every stored podcast and
// enqueues episodes it has not seen before.
type Service struct {
	store    store.Store
	client   *Client
	enqueuer Enqueuer
	bus      *status.Bus
	metrics  *observe.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStatusBus records refresh outcomes on the bus.
func WithStatusBus(b *status.Bus) ServiceOption {
	return func(s *Service) { s.bus = b }
}

// WithMetrics counts per-feed refresh outcomes.
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithNow replaces the time source. Intended for tests.
func WithNow(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a refresh service. enqueuer may be nil, in which case new
// episodes are stored but not queued.
func NewService(st store.Store, client *Client, enqueuer Enqueuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		client:   client,
		enqueuer: enqueuer,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RefreshAll refreshes every stored podcast. Per-feed failures are logged
// and recorded on the status bus; they never abort the sweep.
func (s *Service) RefreshAll(ctx context.Context) {
	podcasts, err := s.store.ListPodcasts(ctx)
	if err != nil {
		s.log.Error("listing podcasts for refresh", "err", err)
		return
	}
	for _, pod := range podcasts {
		added, err := s.RefreshPodcast(ctx, &pod)
		refresh := status.Refresh{PodcastSlug: pod.Slug, NewEpisodes: added, At: s.now()}
		outcome := "success"
		if err != nil {
			s.log.Warn("feed refresh failed", "podcast", pod.Slug, "err", err)
			refresh.Error = err.Error()
			outcome = "failed"
		}
		if s.bus != nil {
			s.bus.RecordRefresh(refresh)
		}
		if s.metrics != nil {
			s.metrics.RecordFeedRefresh(ctx, pod.Slug, outcome)
		}
	}
}

// RefreshPodcast conditionally fetches one feed, upserts its episodes, and
// enqueues the ones not seen before. Returns the number of new episodes.
func (s *Service) RefreshPodcast(ctx context.Context, pod *store.Podcast) (int, error) {
	res, err := s.client.Fetch(ctx, pod.SourceURL, pod.ETag, pod.LastModified)
	if err != nil {
		return 0, err
	}

	pod.LastCheckedAt = s.now()
	if res.NotModified {
		if err := s.store.UpdatePodcast(ctx, pod); err != nil {
			return 0, fmt.Errorf("feed: record check time: %w", err)
		}
		s.log.Debug("feed not modified", "podcast", pod.Slug)
		return 0, nil
	}

	parsed, err := Parse(res.Body)
	if err != nil {
		return 0, err
	}

	pod.ETag = res.ETag
	pod.LastModified = res.LastModified
	if parsed.Title != "" {
		pod.Title = parsed.Title
	}
	if parsed.Description != "" {
		pod.Description = parsed.Description
	}
	if parsed.ArtworkURL != "" {
		pod.ArtworkURL = parsed.ArtworkURL
	}
	if err := s.store.UpdatePodcast(ctx, pod); err != nil {
		return 0, fmt.Errorf("feed: update podcast: %w", err)
	}

	added := 0
	for _, ep := range parsed.Episodes {
		_, getErr := s.store.GetEpisode(ctx, pod.Slug, ep.ID)
		isNew := errors.Is(getErr, store.ErrNotFound)
		if getErr != nil && !isNew {
			return added, fmt.Errorf("feed: look up episode: %w", getErr)
		}

		if err := s.store.UpsertEpisode(ctx, &store.Episode{
			PodcastSlug: pod.Slug,
			EpisodeID:   ep.ID,
			OriginalURL: ep.AudioURL,
			Title:       ep.Title,
			Description: ep.Description,
			PublishedAt: ep.PublishedAt,
			Status:      store.StatusPending,
		}); err != nil {
			return added, fmt.Errorf("feed: upsert episode: %w", err)
		}

		if isNew {
			added++
			if s.enqueuer != nil {
				if err := s.enqueuer.Enqueue(ctx, pod.Slug, ep.ID, ep.AudioURL, ep.Title); err != nil {
					return added, fmt.Errorf("feed: enqueue episode: %w", err)
				}
			}
		}
	}

	if added > 0 {
		s.log.Info("feed refreshed", "podcast", pod.Slug, "new_episodes", added)
	}
	return added, nil
}
