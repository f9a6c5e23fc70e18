// Package store persists podcasts, episodes, processing artifacts, settings,
// and queue state. Two implementations exist: Postgres for production and
// Memory for development and tests. Both follow identical semantics.
package store

import (
	"context"
	"errors"
	"time"
)

// EpisodeStatus enumerates the lifecycle states of an episode.
type EpisodeStatus string

const (
	StatusPending           EpisodeStatus = "pending"
	StatusProcessing        EpisodeStatus = "processing"
	StatusProcessed         EpisodeStatus = "processed"
	StatusFailed            EpisodeStatus = "failed"
	StatusPermanentlyFailed EpisodeStatus = "permanently_failed"
)

// Queue entry states.
const (
	QueueStatusQueued = "queued"
	QueueStatusFailed = "failed"
	QueueStatusDone   = "done"
)

// Correction actions recorded from user feedback.
const (
	CorrectionConfirmed     = "confirmed"
	CorrectionFalsePositive = "false_positive"
	CorrectionAdjust        = "adjust"
)

// ErrNotFound is returned by lookups whose subject does not exist.
var ErrNotFound = errors.New("store: not found")

// Podcast is a subscribed feed. Deleting a podcast cascades to its episodes.
type Podcast struct {
	Slug          string
	SourceURL     string
	Title         string
	Description   string
	ArtworkURL    string
	ETag          string
	LastModified  string
	LastCheckedAt time.Time
	CreatedAt     time.Time
}

// Episode is one enclosure of a podcast. Unique per (PodcastSlug, EpisodeID).
type Episode struct {
	PodcastSlug       string
	EpisodeID         string
	OriginalURL       string
	Title             string
	Description       string
	PublishedAt       time.Time
	Status            EpisodeStatus
	ProcessedFile     string
	ProcessedFileSize int64
	ProcessedAt       time.Time
	OriginalDuration  float64
	NewDuration       float64
	AdsRemoved        int
	RetryCount        int
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EpisodeDetails holds the per-episode processing artifacts. Created lazily
// at first artifact write and cleared on reprocess.
type EpisodeDetails struct {
	PodcastSlug        string
	EpisodeID          string
	TranscriptText     string
	AdMarkersJSON      string
	FirstPassPrompt    string
	FirstPassResponse  string
	SecondPassPrompt   string
	SecondPassResponse string
}

// Setting is one configuration value with a default-ness marker.
type Setting struct {
	Key       string
	Value     string
	IsDefault bool
}

// QueueEntry is one scheduled processing job.
type QueueEntry struct {
	PodcastSlug string
	EpisodeID   string
	OriginalURL string
	Title       string
	Status      string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AdCorrection is a user judgement about a detected ad span.
type AdCorrection struct {
	ID          int64
	PodcastSlug string
	EpisodeID   string
	Action      string
	Start       float64
	End         float64
	CreatedAt   time.Time
}

// CleanupResult reports what a retention sweep removed.
type CleanupResult struct {
	Episodes   int
	BytesFreed int64
}

// Store is the persistence interface used by the pipeline, the scheduler,
// and the serving surfaces. Implementations must be safe for concurrent use.
type Store interface {
	// CreatePodcast inserts a podcast. Fails if the slug already exists.
	CreatePodcast(ctx context.Context, p *Podcast) error

	// GetPodcast returns the podcast with the given slug, or ErrNotFound.
	GetPodcast(ctx context.Context, slug string) (*Podcast, error)

	// ListPodcasts returns all podcasts ordered by slug.
	ListPodcasts(ctx context.Context) ([]Podcast, error)

	// UpdatePodcast replaces a podcast's mutable fields.
	UpdatePodcast(ctx context.Context, p *Podcast) error

	// DeletePodcast removes a podcast and, by cascade, its episodes, details,
	// queue entries, and corrections. Deleting a missing slug is not an error.
	DeletePodcast(ctx context.Context, slug string) error

	// UpsertEpisode creates the episode or, if it exists, refreshes its feed
	// fields (URL, title, description) without touching processing state.
	UpsertEpisode(ctx context.Context, e *Episode) error

	// GetEpisode returns one episode, or ErrNotFound.
	GetEpisode(ctx context.Context, slug, episodeID string) (*Episode, error)

	// ListEpisodes returns a podcast's episodes ordered by publish date,
	// newest first.
	ListEpisodes(ctx context.Context, slug string) ([]Episode, error)

	// SaveEpisode overwrites every mutable field of an existing episode.
	SaveEpisode(ctx context.Context, e *Episode) error

	// GetEpisodeDetails returns the details row, or ErrNotFound.
	GetEpisodeDetails(ctx context.Context, slug, episodeID string) (*EpisodeDetails, error)

	// SaveEpisodeDetails creates or replaces the details row.
	SaveEpisodeDetails(ctx context.Context, d *EpisodeDetails) error

	// ClearEpisodeDetails removes the details row if present.
	ClearEpisodeDetails(ctx context.Context, slug, episodeID string) error

	// GetSetting returns a setting, or ErrNotFound.
	GetSetting(ctx context.Context, key string) (*Setting, error)

	// SetSetting creates or replaces a setting, marking it non-default.
	SetSetting(ctx context.Context, key, value string) error

	// ListSettings returns all settings ordered by key.
	ListSettings(ctx context.Context) ([]Setting, error)

	// SeedDefaultSettings inserts the well-known default settings where no
	// value exists yet. It is idempotent and never overwrites user values.
	SeedDefaultSettings(ctx context.Context) error

	// IncrementTotalTimeSaved adds seconds to the cumulative counter.
	// Negative deltas are ignored so the counter stays monotone.
	IncrementTotalTimeSaved(ctx context.Context, seconds float64) error

	// TotalTimeSaved returns the cumulative seconds saved.
	TotalTimeSaved(ctx context.Context) (float64, error)

	// UpsertQueueEntry creates a queue entry or refreshes an existing one's
	// status, attempts, and updated_at.
	UpsertQueueEntry(ctx context.Context, q *QueueEntry) error

	// NextQueued returns the oldest entry in state queued, or ErrNotFound.
	NextQueued(ctx context.Context) (*QueueEntry, error)

	// ListQueueEntries returns entries with the given status, oldest first.
	// An empty status returns all entries.
	ListQueueEntries(ctx context.Context, status string) ([]QueueEntry, error)

	// DeleteQueueEntry removes an entry. Missing entries are not an error.
	DeleteQueueEntry(ctx context.Context, slug, episodeID string) error

	// AddCorrection records a user judgement about an ad span.
	AddCorrection(ctx context.Context, c *AdCorrection) error

	// ListCorrections returns an episode's corrections, optionally filtered
	// by action. Empty action returns all.
	ListCorrections(ctx context.Context, slug, episodeID, action string) ([]AdCorrection, error)

	// DeleteConflictingCorrections removes prior corrections of the opposite
	// action that overlap the given span by at least half of the shorter
	// span. A "confirmed" action conflicts with "false_positive" and vice
	// versa; "adjust" conflicts with nothing. Returns the number removed.
	DeleteConflictingCorrections(ctx context.Context, slug, episodeID, action string, start, end float64) (int, error)

	// CleanupOld deletes processed episodes whose processing finished before
	// now-retention, removes their processed files, and reports totals.
	CleanupOld(ctx context.Context, retention time.Duration) (CleanupResult, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// conflictingAction maps a correction action to the action it invalidates.
// Actions outside the map (notably "adjust") never conflict.
func conflictingAction(action string) (string, bool) {
	switch action {
	case CorrectionConfirmed:
		return CorrectionFalsePositive, true
	case CorrectionFalsePositive:
		return CorrectionConfirmed, true
	}
	return "", false
}

// DefaultSettings are seeded on first startup. Keys already present keep
// their stored value.
var DefaultSettings = map[string]string{
	"llm_model":          "claude-sonnet-4-5",
	"retention_minutes":  "1440",
	"preroll_detection":  "true",
	"postroll_detection": "true",
	"verification_pass":  "true",
	"marker_volume":      "0.4",
}
