package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/podscrub/internal/ads"
)

// Schema is the SQL DDL for the podscrub tables. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS podcasts (
    slug            TEXT PRIMARY KEY,
    source_url      TEXT NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    artwork_url     TEXT NOT NULL DEFAULT '',
    etag            TEXT NOT NULL DEFAULT '',
    last_modified   TEXT NOT NULL DEFAULT '',
    last_checked_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS episodes (
    podcast_slug        TEXT NOT NULL REFERENCES podcasts(slug) ON DELETE CASCADE,
    episode_id          TEXT NOT NULL,
    original_url        TEXT NOT NULL,
    title               TEXT NOT NULL DEFAULT '',
    description         TEXT NOT NULL DEFAULT '',
    published_at        TIMESTAMPTZ,
    status              TEXT NOT NULL DEFAULT 'pending',
    processed_file      TEXT NOT NULL DEFAULT '',
    processed_file_size BIGINT NOT NULL DEFAULT 0,
    processed_at        TIMESTAMPTZ,
    original_duration   DOUBLE PRECISION NOT NULL DEFAULT 0,
    new_duration        DOUBLE PRECISION NOT NULL DEFAULT 0,
    ads_removed         INTEGER NOT NULL DEFAULT 0,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    error_message       TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (podcast_slug, episode_id)
);
CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
CREATE INDEX IF NOT EXISTS idx_episodes_processed_at ON episodes(processed_at);

CREATE TABLE IF NOT EXISTS episode_details (
    podcast_slug         TEXT NOT NULL,
    episode_id           TEXT NOT NULL,
    transcript_text      TEXT NOT NULL DEFAULT '',
    ad_markers_json      TEXT NOT NULL DEFAULT '',
    first_pass_prompt    TEXT NOT NULL DEFAULT '',
    first_pass_response  TEXT NOT NULL DEFAULT '',
    second_pass_prompt   TEXT NOT NULL DEFAULT '',
    second_pass_response TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (podcast_slug, episode_id),
    FOREIGN KEY (podcast_slug, episode_id)
        REFERENCES episodes(podcast_slug, episode_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    is_default BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS cumulative_stats (
    key   TEXT PRIMARY KEY,
    value DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS queue_entries (
    podcast_slug TEXT NOT NULL,
    episode_id   TEXT NOT NULL,
    original_url TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'queued',
    attempts     INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (podcast_slug, episode_id)
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status, created_at);

CREATE TABLE IF NOT EXISTS ad_corrections (
    id           BIGSERIAL PRIMARY KEY,
    podcast_slug TEXT NOT NULL,
    episode_id   TEXT NOT NULL,
    action       TEXT NOT NULL,
    start_sec    DOUBLE PRECISION NOT NULL,
    end_sec      DOUBLE PRECISION NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ad_corrections_episode ON ad_corrections(podcast_slug, episode_id);
`

// timeSavedKey is the cumulative_stats row backing IncrementTotalTimeSaved.
const timeSavedKey = "total_time_saved"

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres is a [Store] backed by PostgreSQL.
type Postgres struct {
	db   DB
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ Store = (*Postgres)(nil)

// NewPostgres creates a [Postgres] over the given connection or pool. Call
// [Postgres.Migrate] before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pgx pool for the DSN and pings it.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: pool, pool: pool}, nil
}

// Migrate executes the [Schema] DDL, creating all tables and indexes if they
// do not already exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Postgres) CreatePodcast(ctx context.Context, p *Podcast) error {
	const query = `
		INSERT INTO podcasts (slug, source_url, title, description, artwork_url, etag, last_modified, last_checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`
	err := s.db.QueryRow(ctx, query,
		p.Slug, p.SourceURL, p.Title, p.Description, p.ArtworkURL,
		p.ETag, p.LastModified, nullTime(p.LastCheckedAt),
	).Scan(&p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("store: podcast %q already exists", p.Slug)
		}
		return fmt.Errorf("store: create podcast: %w", err)
	}
	return nil
}

func (s *Postgres) GetPodcast(ctx context.Context, slug string) (*Podcast, error) {
	const query = `
		SELECT slug, source_url, title, description, artwork_url, etag, last_modified,
		       COALESCE(last_checked_at, 'epoch'::timestamptz), created_at
		FROM podcasts WHERE slug = $1`
	var p Podcast
	err := s.db.QueryRow(ctx, query, slug).Scan(
		&p.Slug, &p.SourceURL, &p.Title, &p.Description, &p.ArtworkURL,
		&p.ETag, &p.LastModified, &p.LastCheckedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: podcast %q: %w", slug, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get podcast %q: %w", slug, err)
	}
	return &p, nil
}

func (s *Postgres) ListPodcasts(ctx context.Context) ([]Podcast, error) {
	const query = `
		SELECT slug, source_url, title, description, artwork_url, etag, last_modified,
		       COALESCE(last_checked_at, 'epoch'::timestamptz), created_at
		FROM podcasts ORDER BY slug`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list podcasts: %w", err)
	}
	defer rows.Close()

	var out []Podcast
	for rows.Next() {
		var p Podcast
		if err := rows.Scan(
			&p.Slug, &p.SourceURL, &p.Title, &p.Description, &p.ArtworkURL,
			&p.ETag, &p.LastModified, &p.LastCheckedAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list podcasts scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list podcasts: %w", err)
	}
	return out, nil
}

func (s *Postgres) UpdatePodcast(ctx context.Context, p *Podcast) error {
	const query = `
		UPDATE podcasts SET
			source_url = $2, title = $3, description = $4, artwork_url = $5,
			etag = $6, last_modified = $7, last_checked_at = $8
		WHERE slug = $1`
	tag, err := s.db.Exec(ctx, query,
		p.Slug, p.SourceURL, p.Title, p.Description, p.ArtworkURL,
		p.ETag, p.LastModified, nullTime(p.LastCheckedAt),
	)
	if err != nil {
		return fmt.Errorf("store: update podcast %q: %w", p.Slug, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: podcast %q: %w", p.Slug, ErrNotFound)
	}
	return nil
}

func (s *Postgres) DeletePodcast(ctx context.Context, slug string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM ad_corrections WHERE podcast_slug = $1`, slug); err != nil {
		return fmt.Errorf("store: delete podcast corrections %q: %w", slug, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM queue_entries WHERE podcast_slug = $1`, slug); err != nil {
		return fmt.Errorf("store: delete podcast queue %q: %w", slug, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM podcasts WHERE slug = $1`, slug); err != nil {
		return fmt.Errorf("store: delete podcast %q: %w", slug, err)
	}
	return nil
}

func (s *Postgres) UpsertEpisode(ctx context.Context, e *Episode) error {
	if e.Status == "" {
		e.Status = StatusPending
	}
	const query = `
		INSERT INTO episodes (podcast_slug, episode_id, original_url, title, description, published_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (podcast_slug, episode_id) DO UPDATE SET
			original_url = EXCLUDED.original_url,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			published_at = EXCLUDED.published_at,
			updated_at = now()
		RETURNING status, created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		e.PodcastSlug, e.EpisodeID, e.OriginalURL, e.Title, e.Description,
		nullTime(e.PublishedAt), e.Status,
	).Scan(&e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert episode %s/%s: %w", e.PodcastSlug, e.EpisodeID, err)
	}
	return nil
}

const episodeColumns = `podcast_slug, episode_id, original_url, title, description,
	COALESCE(published_at, 'epoch'::timestamptz), status, processed_file, processed_file_size,
	COALESCE(processed_at, 'epoch'::timestamptz), original_duration, new_duration,
	ads_removed, retry_count, error_message, created_at, updated_at`

func scanEpisode(row pgx.Row, e *Episode) error {
	return row.Scan(
		&e.PodcastSlug, &e.EpisodeID, &e.OriginalURL, &e.Title, &e.Description,
		&e.PublishedAt, &e.Status, &e.ProcessedFile, &e.ProcessedFileSize,
		&e.ProcessedAt, &e.OriginalDuration, &e.NewDuration,
		&e.AdsRemoved, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
}

func (s *Postgres) GetEpisode(ctx context.Context, slug, episodeID string) (*Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE podcast_slug = $1 AND episode_id = $2`
	var e Episode
	if err := scanEpisode(s.db.QueryRow(ctx, query, slug, episodeID), &e); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: episode %s/%s: %w", slug, episodeID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get episode %s/%s: %w", slug, episodeID, err)
	}
	return &e, nil
}

func (s *Postgres) ListEpisodes(ctx context.Context, slug string) ([]Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes WHERE podcast_slug = $1 ORDER BY published_at DESC NULLS LAST`
	rows, err := s.db.Query(ctx, query, slug)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes %q: %w", slug, err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var e Episode
		if err := scanEpisode(rows, &e); err != nil {
			return nil, fmt.Errorf("store: list episodes scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list episodes %q: %w", slug, err)
	}
	return out, nil
}

func (s *Postgres) SaveEpisode(ctx context.Context, e *Episode) error {
	const query = `
		UPDATE episodes SET
			original_url = $3, title = $4, description = $5, published_at = $6,
			status = $7, processed_file = $8, processed_file_size = $9,
			processed_at = $10, original_duration = $11, new_duration = $12,
			ads_removed = $13, retry_count = $14, error_message = $15,
			updated_at = now()
		WHERE podcast_slug = $1 AND episode_id = $2
		RETURNING updated_at`
	err := s.db.QueryRow(ctx, query,
		e.PodcastSlug, e.EpisodeID, e.OriginalURL, e.Title, e.Description,
		nullTime(e.PublishedAt), e.Status, e.ProcessedFile, e.ProcessedFileSize,
		nullTime(e.ProcessedAt), e.OriginalDuration, e.NewDuration,
		e.AdsRemoved, e.RetryCount, e.ErrorMessage,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: episode %s/%s: %w", e.PodcastSlug, e.EpisodeID, ErrNotFound)
		}
		return fmt.Errorf("store: save episode %s/%s: %w", e.PodcastSlug, e.EpisodeID, err)
	}
	return nil
}

func (s *Postgres) GetEpisodeDetails(ctx context.Context, slug, episodeID string) (*EpisodeDetails, error) {
	const query = `
		SELECT podcast_slug, episode_id, transcript_text, ad_markers_json,
		       first_pass_prompt, first_pass_response, second_pass_prompt, second_pass_response
		FROM episode_details WHERE podcast_slug = $1 AND episode_id = $2`
	var d EpisodeDetails
	err := s.db.QueryRow(ctx, query, slug, episodeID).Scan(
		&d.PodcastSlug, &d.EpisodeID, &d.TranscriptText, &d.AdMarkersJSON,
		&d.FirstPassPrompt, &d.FirstPassResponse, &d.SecondPassPrompt, &d.SecondPassResponse,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: details %s/%s: %w", slug, episodeID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get details %s/%s: %w", slug, episodeID, err)
	}
	return &d, nil
}

func (s *Postgres) SaveEpisodeDetails(ctx context.Context, d *EpisodeDetails) error {
	const query = `
		INSERT INTO episode_details (podcast_slug, episode_id, transcript_text, ad_markers_json,
			first_pass_prompt, first_pass_response, second_pass_prompt, second_pass_response)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (podcast_slug, episode_id) DO UPDATE SET
			transcript_text = EXCLUDED.transcript_text,
			ad_markers_json = EXCLUDED.ad_markers_json,
			first_pass_prompt = EXCLUDED.first_pass_prompt,
			first_pass_response = EXCLUDED.first_pass_response,
			second_pass_prompt = EXCLUDED.second_pass_prompt,
			second_pass_response = EXCLUDED.second_pass_response`
	_, err := s.db.Exec(ctx, query,
		d.PodcastSlug, d.EpisodeID, d.TranscriptText, d.AdMarkersJSON,
		d.FirstPassPrompt, d.FirstPassResponse, d.SecondPassPrompt, d.SecondPassResponse,
	)
	if err != nil {
		return fmt.Errorf("store: save details %s/%s: %w", d.PodcastSlug, d.EpisodeID, err)
	}
	return nil
}

func (s *Postgres) ClearEpisodeDetails(ctx context.Context, slug, episodeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM episode_details WHERE podcast_slug = $1 AND episode_id = $2`, slug, episodeID)
	if err != nil {
		return fmt.Errorf("store: clear details %s/%s: %w", slug, episodeID, err)
	}
	return nil
}

func (s *Postgres) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var st Setting
	err := s.db.QueryRow(ctx, `SELECT key, value, is_default FROM settings WHERE key = $1`, key).
		Scan(&st.Key, &st.Value, &st.IsDefault)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: setting %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get setting %q: %w", key, err)
	}
	return &st, nil
}

func (s *Postgres) SetSetting(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value, is_default) VALUES ($1, $2, FALSE)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, is_default = FALSE`
	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("store: set setting %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value, is_default FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.IsDefault); err != nil {
			return nil, fmt.Errorf("store: list settings scan: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list settings: %w", err)
	}
	return out, nil
}

func (s *Postgres) SeedDefaultSettings(ctx context.Context) error {
	const query = `
		INSERT INTO settings (key, value, is_default) VALUES ($1, $2, TRUE)
		ON CONFLICT (key) DO NOTHING`
	for key, value := range DefaultSettings {
		if _, err := s.db.Exec(ctx, query, key, value); err != nil {
			return fmt.Errorf("store: seed setting %q: %w", key, err)
		}
	}
	return nil
}

func (s *Postgres) IncrementTotalTimeSaved(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	const query = `
		INSERT INTO cumulative_stats (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = cumulative_stats.value + EXCLUDED.value`
	if _, err := s.db.Exec(ctx, query, timeSavedKey, seconds); err != nil {
		return fmt.Errorf("store: increment time saved: %w", err)
	}
	return nil
}

func (s *Postgres) TotalTimeSaved(ctx context.Context) (float64, error) {
	var v float64
	err := s.db.QueryRow(ctx, `SELECT value FROM cumulative_stats WHERE key = $1`, timeSavedKey).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("store: total time saved: %w", err)
	}
	return v, nil
}

func (s *Postgres) UpsertQueueEntry(ctx context.Context, q *QueueEntry) error {
	if q.Status == "" {
		q.Status = QueueStatusQueued
	}
	const query = `
		INSERT INTO queue_entries (podcast_slug, episode_id, original_url, title, status, attempts)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (podcast_slug, episode_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			updated_at = now()
		RETURNING original_url, title, created_at, updated_at`
	err := s.db.QueryRow(ctx, query,
		q.PodcastSlug, q.EpisodeID, q.OriginalURL, q.Title, q.Status, q.Attempts,
	).Scan(&q.OriginalURL, &q.Title, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert queue entry %s/%s: %w", q.PodcastSlug, q.EpisodeID, err)
	}
	return nil
}

const queueColumns = `podcast_slug, episode_id, original_url, title, status, attempts, created_at, updated_at`

func (s *Postgres) NextQueued(ctx context.Context) (*QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE status = $1 ORDER BY created_at LIMIT 1`
	var q QueueEntry
	err := s.db.QueryRow(ctx, query, QueueStatusQueued).Scan(
		&q.PodcastSlug, &q.EpisodeID, &q.OriginalURL, &q.Title,
		&q.Status, &q.Attempts, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: queue empty: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("store: next queued: %w", err)
	}
	return &q, nil
}

func (s *Postgres) ListQueueEntries(ctx context.Context, status string) ([]QueueEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(ctx, `SELECT `+queueColumns+` FROM queue_entries ORDER BY created_at`)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE status = $1 ORDER BY created_at`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list queue entries: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var q QueueEntry
		if err := rows.Scan(
			&q.PodcastSlug, &q.EpisodeID, &q.OriginalURL, &q.Title,
			&q.Status, &q.Attempts, &q.CreatedAt, &q.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list queue entries scan: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list queue entries: %w", err)
	}
	return out, nil
}

func (s *Postgres) DeleteQueueEntry(ctx context.Context, slug, episodeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM queue_entries WHERE podcast_slug = $1 AND episode_id = $2`, slug, episodeID)
	if err != nil {
		return fmt.Errorf("store: delete queue entry %s/%s: %w", slug, episodeID, err)
	}
	return nil
}

func (s *Postgres) AddCorrection(ctx context.Context, c *AdCorrection) error {
	const query = `
		INSERT INTO ad_corrections (podcast_slug, episode_id, action, start_sec, end_sec)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`
	err := s.db.QueryRow(ctx, query, c.PodcastSlug, c.EpisodeID, c.Action, c.Start, c.End).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: add correction: %w", err)
	}
	return nil
}

func (s *Postgres) ListCorrections(ctx context.Context, slug, episodeID, action string) ([]AdCorrection, error) {
	const base = `
		SELECT id, podcast_slug, episode_id, action, start_sec, end_sec, created_at
		FROM ad_corrections WHERE podcast_slug = $1 AND episode_id = $2`
	var (
		rows pgx.Rows
		err  error
	)
	if action == "" {
		rows, err = s.db.Query(ctx, base+` ORDER BY id`, slug, episodeID)
	} else {
		rows, err = s.db.Query(ctx, base+` AND action = $3 ORDER BY id`, slug, episodeID, action)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list corrections: %w", err)
	}
	defer rows.Close()

	var out []AdCorrection
	for rows.Next() {
		var c AdCorrection
		if err := rows.Scan(&c.ID, &c.PodcastSlug, &c.EpisodeID, &c.Action, &c.Start, &c.End, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: list corrections scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list corrections: %w", err)
	}
	return out, nil
}

func (s *Postgres) DeleteConflictingCorrections(ctx context.Context, slug, episodeID, action string, start, end float64) (int, error) {
	opposite, ok := conflictingAction(action)
	if !ok {
		return 0, nil
	}
	// The >=50%-of-shorter overlap rule is shared with the memory store, so
	// candidates are fetched and judged in Go rather than in SQL.
	candidates, err := s.ListCorrections(ctx, slug, episodeID, opposite)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range candidates {
		if ads.OverlapFraction(c.Start, c.End, start, end) < 0.5 {
			continue
		}
		if _, err := s.db.Exec(ctx, `DELETE FROM ad_corrections WHERE id = $1`, c.ID); err != nil {
			return removed, fmt.Errorf("store: delete correction %d: %w", c.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Postgres) CleanupOld(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	cutoff := time.Now().Add(-retention)
	// Retention counts from creation regardless of status, so stale pending
	// and failed episodes are swept too.
	const query = `
		SELECT podcast_slug, episode_id, processed_file, processed_file_size
		FROM episodes
		WHERE created_at < $1`
	rows, err := s.db.Query(ctx, query, cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("store: cleanup scan: %w", err)
	}

	type victim struct {
		slug, id   string
		file       string
		recordSize int64
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.slug, &v.id, &v.file, &v.recordSize); err != nil {
			rows.Close()
			return CleanupResult{}, fmt.Errorf("store: cleanup scan: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return CleanupResult{}, fmt.Errorf("store: cleanup scan: %w", err)
	}

	var res CleanupResult
	for _, v := range victims {
		res.BytesFreed += removeProcessedFile(v.file, v.recordSize)
		if _, err := s.db.Exec(ctx,
			`DELETE FROM episodes WHERE podcast_slug = $1 AND episode_id = $2`, v.slug, v.id); err != nil {
			return res, fmt.Errorf("store: cleanup delete %s/%s: %w", v.slug, v.id, err)
		}
		if _, err := s.db.Exec(ctx,
			`DELETE FROM queue_entries WHERE podcast_slug = $1 AND episode_id = $2`, v.slug, v.id); err != nil {
			return res, fmt.Errorf("store: cleanup queue %s/%s: %w", v.slug, v.id, err)
		}
		res.Episodes++
	}
	return res, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// nullTime maps the zero time to NULL so COALESCE round-trips cleanly.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
