// Package status keeps an in-memory snapshot of what the pipeline is doing:
// the current job, the queue, and recent feed refreshes. The web layer reads
// it for /api/status and pushes updates to websocket clients through
// Subscribe.
package status

import (
	"log/slog"
	"sync"
	"time"
)

// Job describes the episode currently holding the processing slot.
type Job struct {
	PodcastSlug string    `json:"podcast_slug"`
	EpisodeID   string    `json:"episode_id"`
	Title       string    `json:"title"`
	Stage       string    `json:"stage"`
	StartedAt   time.Time `json:"started_at"`
}

// QueueItem is one waiting episode.
type QueueItem struct {
	PodcastSlug string `json:"podcast_slug"`
	EpisodeID   string `json:"episode_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
}

// Refresh records the outcome of one feed refresh.
type Refresh struct {
	PodcastSlug string    `json:"podcast_slug"`
	NewEpisodes int       `json:"new_episodes"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Snapshot is the full status picture at one moment.
type Snapshot struct {
	CurrentJob    *Job      `json:"current_job,omitempty"`
	QueueLength   int       `json:"queue_length"`
	Queued        []QueueItem `json:"queued"`
	FeedRefreshes []Refresh `json:"feed_refreshes"`
	LastUpdated   time.Time `json:"last_updated"`
}

// maxRefreshHistory bounds the refresh ring.
const maxRefreshHistory = 20

// Bus holds the snapshot and broadcasts changes. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	snap        Snapshot
	subscribers map[int]func(Snapshot)
	nextSubID   int
	log         *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		subscribers: map[int]func(Snapshot){},
		log:         log,
	}
}

// Get returns a copy of the current snapshot.
func (b *Bus) Get() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copySnapshot()
}

func (b *Bus) copySnapshot() Snapshot {
	snap := b.snap
	if snap.CurrentJob != nil {
		job := *snap.CurrentJob
		snap.CurrentJob = &job
	}
	snap.Queued = append([]QueueItem(nil), b.snap.Queued...)
	snap.FeedRefreshes = append([]Refresh(nil), b.snap.FeedRefreshes...)
	return snap
}

// SetCurrentJob publishes the job holding the slot; a nil job clears it.
func (b *Bus) SetCurrentJob(job *Job) {
	b.update(func(s *Snapshot) { s.CurrentJob = job })
}

// SetStage updates the stage of the current job, if any.
func (b *Bus) SetStage(stage string) {
	b.update(func(s *Snapshot) {
		if s.CurrentJob != nil {
			s.CurrentJob.Stage = stage
		}
	})
}

// SetQueue replaces the waiting-episode list.
func (b *Bus) SetQueue(items []QueueItem) {
	b.update(func(s *Snapshot) {
		s.Queued = items
		s.QueueLength = len(items)
	})
}

// RecordRefresh appends a feed-refresh outcome, keeping bounded history.
func (b *Bus) RecordRefresh(r Refresh) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b.update(func(s *Snapshot) {
		s.FeedRefreshes = append(s.FeedRefreshes, r)
		if len(s.FeedRefreshes) > maxRefreshHistory {
			s.FeedRefreshes = s.FeedRefreshes[len(s.FeedRefreshes)-maxRefreshHistory:]
		}
	})
}

// Subscribe registers cb to run on every snapshot change and returns an
// unsubscribe function. Callbacks run synchronously on the updating
// goroutine; a panicking callback is isolated and logged, never propagated
// to the producer.
func (b *Bus) Subscribe(cb func(Snapshot)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = cb
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

func (b *Bus) update(apply func(*Snapshot)) {
	b.mu.Lock()
	apply(&b.snap)
	b.snap.LastUpdated = time.Now()
	snap := b.copySnapshot()
	subs := make([]func(Snapshot), 0, len(b.subscribers))
	for _, cb := range b.subscribers {
		subs = append(subs, cb)
	}
	b.mu.Unlock()

	for _, cb := range subs {
		b.notify(cb, snap)
	}
}

func (b *Bus) notify(cb func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("status subscriber panicked", "panic", r)
		}
	}()
	cb(snap)
}
