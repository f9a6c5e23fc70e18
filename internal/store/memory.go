package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/podscrub/internal/ads"
)

// Memory is an in-process Store. State is lost on exit; it backs development
// runs without Postgres and the unit tests.
type Memory struct {
	mu sync.RWMutex

	clock func() time.Time

	podcasts    map[string]Podcast
	episodes    map[string]Episode        // key: slug + "/" + episodeID
	details     map[string]EpisodeDetails // same key
	settings    map[string]Setting
	queue       map[string]QueueEntry // same key
	corrections []AdCorrection
	nextCorrID  int64
	timeSaved   float64
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.clock = now }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:      time.Now,
		podcasts:   map[string]Podcast{},
		episodes:   map[string]Episode{},
		details:    map[string]EpisodeDetails{},
		settings:   map[string]Setting{},
		queue:      map[string]QueueEntry{},
		nextCorrID: 1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func episodeKey(slug, episodeID string) string { return slug + "/" + episodeID }

func (m *Memory) CreatePodcast(_ context.Context, p *Podcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.podcasts[p.Slug]; ok {
		return fmt.Errorf("store: podcast %q already exists", p.Slug)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.clock()
	}
	m.podcasts[p.Slug] = *p
	return nil
}

func (m *Memory) GetPodcast(_ context.Context, slug string) (*Podcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.podcasts[slug]
	if !ok {
		return nil, fmt.Errorf("store: podcast %q: %w", slug, ErrNotFound)
	}
	return &p, nil
}

func (m *Memory) ListPodcasts(_ context.Context) ([]Podcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Podcast, 0, len(m.podcasts))
	for _, p := range m.podcasts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *Memory) UpdatePodcast(_ context.Context, p *Podcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.podcasts[p.Slug]; !ok {
		return fmt.Errorf("store: podcast %q: %w", p.Slug, ErrNotFound)
	}
	m.podcasts[p.Slug] = *p
	return nil
}

func (m *Memory) DeletePodcast(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.podcasts, slug)
	for key, e := range m.episodes {
		if e.PodcastSlug == slug {
			delete(m.episodes, key)
			delete(m.details, key)
			delete(m.queue, key)
		}
	}
	kept := m.corrections[:0]
	for _, c := range m.corrections {
		if c.PodcastSlug != slug {
			kept = append(kept, c)
		}
	}
	m.corrections = kept
	return nil
}

func (m *Memory) UpsertEpisode(_ context.Context, e *Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := episodeKey(e.PodcastSlug, e.EpisodeID)
	now := m.clock()
	if prev, ok := m.episodes[key]; ok {
		prev.OriginalURL = e.OriginalURL
		prev.Title = e.Title
		prev.Description = e.Description
		prev.PublishedAt = e.PublishedAt
		prev.UpdatedAt = now
		m.episodes[key] = prev
		*e = prev
		return nil
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	m.episodes[key] = *e
	return nil
}

func (m *Memory) GetEpisode(_ context.Context, slug, episodeID string) (*Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.episodes[episodeKey(slug, episodeID)]
	if !ok {
		return nil, fmt.Errorf("store: episode %s/%s: %w", slug, episodeID, ErrNotFound)
	}
	return &e, nil
}

func (m *Memory) ListEpisodes(_ context.Context, slug string) ([]Episode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Episode
	for _, e := range m.episodes {
		if e.PodcastSlug == slug {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

func (m *Memory) SaveEpisode(_ context.Context, e *Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := episodeKey(e.PodcastSlug, e.EpisodeID)
	prev, ok := m.episodes[key]
	if !ok {
		return fmt.Errorf("store: episode %s/%s: %w", e.PodcastSlug, e.EpisodeID, ErrNotFound)
	}
	e.CreatedAt = prev.CreatedAt
	e.UpdatedAt = m.clock()
	m.episodes[key] = *e
	return nil
}

func (m *Memory) GetEpisodeDetails(_ context.Context, slug, episodeID string) (*EpisodeDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[episodeKey(slug, episodeID)]
	if !ok {
		return nil, fmt.Errorf("store: details %s/%s: %w", slug, episodeID, ErrNotFound)
	}
	return &d, nil
}

func (m *Memory) SaveEpisodeDetails(_ context.Context, d *EpisodeDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.details[episodeKey(d.PodcastSlug, d.EpisodeID)] = *d
	return nil
}

func (m *Memory) ClearEpisodeDetails(_ context.Context, slug, episodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.details, episodeKey(slug, episodeID))
	return nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (*Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, fmt.Errorf("store: setting %q: %w", key, ErrNotFound)
	}
	return &s, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = Setting{Key: key, Value: value, IsDefault: false}
	return nil
}

func (m *Memory) ListSettings(_ context.Context) ([]Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) SeedDefaultSettings(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range DefaultSettings {
		if _, ok := m.settings[key]; !ok {
			m.settings[key] = Setting{Key: key, Value: value, IsDefault: true}
		}
	}
	return nil
}

func (m *Memory) IncrementTotalTimeSaved(_ context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeSaved += seconds
	return nil
}

func (m *Memory) TotalTimeSaved(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeSaved, nil
}

func (m *Memory) UpsertQueueEntry(_ context.Context, q *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := episodeKey(q.PodcastSlug, q.EpisodeID)
	now := m.clock()
	if prev, ok := m.queue[key]; ok {
		prev.Status = q.Status
		prev.Attempts = q.Attempts
		prev.UpdatedAt = now
		m.queue[key] = prev
		*q = prev
		return nil
	}
	if q.Status == "" {
		q.Status = QueueStatusQueued
	}
	q.CreatedAt = now
	q.UpdatedAt = now
	m.queue[key] = *q
	return nil
}

func (m *Memory) NextQueued(_ context.Context) (*QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *QueueEntry
	for _, q := range m.queue {
		if q.Status != QueueStatusQueued {
			continue
		}
		q := q
		if best == nil || q.CreatedAt.Before(best.CreatedAt) {
			best = &q
		}
	}
	if best == nil {
		return nil, fmt.Errorf("store: queue empty: %w", ErrNotFound)
	}
	return best, nil
}

func (m *Memory) ListQueueEntries(_ context.Context, status string) ([]QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []QueueEntry
	for _, q := range m.queue {
		if status == "" || q.Status == status {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteQueueEntry(_ context.Context, slug, episodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, episodeKey(slug, episodeID))
	return nil
}

func (m *Memory) AddCorrection(_ context.Context, c *AdCorrection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextCorrID
	m.nextCorrID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.clock()
	}
	m.corrections = append(m.corrections, *c)
	return nil
}

func (m *Memory) ListCorrections(_ context.Context, slug, episodeID, action string) ([]AdCorrection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AdCorrection
	for _, c := range m.corrections {
		if c.PodcastSlug != slug || c.EpisodeID != episodeID {
			continue
		}
		if action != "" && c.Action != action {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) DeleteConflictingCorrections(_ context.Context, slug, episodeID, action string, start, end float64) (int, error) {
	opposite, ok := conflictingAction(action)
	if !ok {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	kept := m.corrections[:0]
	for _, c := range m.corrections {
		if c.PodcastSlug == slug && c.EpisodeID == episodeID && c.Action == opposite &&
			ads.OverlapFraction(c.Start, c.End, start, end) >= 0.5 {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	m.corrections = kept
	return removed, nil
}

func (m *Memory) CleanupOld(_ context.Context, retention time.Duration) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock().Add(-retention)
	var res CleanupResult
	for key, e := range m.episodes {
		// Retention counts from creation regardless of status, so stale
		// pending and failed episodes are swept too.
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		res.Episodes++
		res.BytesFreed += removeProcessedFile(e.ProcessedFile, e.ProcessedFileSize)
		delete(m.episodes, key)
		delete(m.details, key)
		delete(m.queue, key)
	}
	return res, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// removeProcessedFile deletes the processed audio file and returns the bytes
// freed, preferring an on-disk stat over the recorded size.
func removeProcessedFile(path string, recordedSize int64) int64 {
	if path == "" {
		return 0
	}
	size := recordedSize
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	if err := os.Remove(path); err != nil {
		return 0
	}
	return size
}
