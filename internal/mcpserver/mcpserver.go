// Package mcpserver exposes the processing queue to agent frontends over the
// Model Context Protocol. The server speaks stdio and offers three tools:
// list_podcasts, queue_status, and enqueue_episode.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
)

// Enqueuer adds an episode to the processing queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, slug, episodeID, url, title string) error
}

// Server hosts the MCP tools.
type Server struct {
	store    store.Store
	enqueuer Enqueuer
	bus      *status.Bus
	log      *slog.Logger
}

// New wires a Server. bus may be nil; queue_status then reports from the
// store only.
func New(st store.Store, enqueuer Enqueuer, bus *status.Bus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, enqueuer: enqueuer, bus: bus, log: log}
}

// Run serves MCP over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{Name: "podscrub", Version: "1.0.0"}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_podcasts",
		Description: "List all subscribed podcasts with their episode counts.",
	}, s.ListPodcasts)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "queue_status",
		Description: "Report the current processing job and the queued episodes.",
	}, s.QueueStatus)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "enqueue_episode",
		Description: "Queue one episode of a subscribed podcast for ad removal.",
	}, s.EnqueueEpisode)

	s.log.Info("mcp server listening on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// PodcastSummary is one list_podcasts row.
type PodcastSummary struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Episodes  int    `json:"episodes"`
	Processed int    `json:"processed"`
}

// ListPodcastsOutput is the list_podcasts result.
type ListPodcastsOutput struct {
	Podcasts []PodcastSummary `json:"podcasts"`
}

// ListPodcasts implements the list_podcasts tool.
func (s *Server) ListPodcasts(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListPodcastsOutput, error) {
	podcasts, err := s.store.ListPodcasts(ctx)
	if err != nil {
		return nil, ListPodcastsOutput{}, fmt.Errorf("mcpserver: list podcasts: %w", err)
	}

	out := ListPodcastsOutput{Podcasts: make([]PodcastSummary, 0, len(podcasts))}
	for _, p := range podcasts {
		row := PodcastSummary{Slug: p.Slug, Title: p.Title, SourceURL: p.SourceURL}
		episodes, err := s.store.ListEpisodes(ctx, p.Slug)
		if err != nil {
			return nil, ListPodcastsOutput{}, fmt.Errorf("mcpserver: list episodes: %w", err)
		}
		row.Episodes = len(episodes)
		for _, ep := range episodes {
			if ep.Status == store.StatusProcessed {
				row.Processed++
			}
		}
		out.Podcasts = append(out.Podcasts, row)
	}
	return nil, out, nil
}

// QueueStatusOutput is the queue_status result.
type QueueStatusOutput struct {
	CurrentJob *status.Job        `json:"current_job,omitempty"`
	Queued     []status.QueueItem `json:"queued"`
}

// QueueStatus implements the queue_status tool.
func (s *Server) QueueStatus(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, QueueStatusOutput, error) {
	out := QueueStatusOutput{}
	if s.bus != nil {
		snap := s.bus.Get()
		out.CurrentJob = snap.CurrentJob
		out.Queued = snap.Queued
	}
	if out.Queued == nil {
		entries, err := s.store.ListQueueEntries(ctx, store.QueueStatusQueued)
		if err != nil {
			return nil, QueueStatusOutput{}, fmt.Errorf("mcpserver: list queue: %w", err)
		}
		out.Queued = make([]status.QueueItem, 0, len(entries))
		for _, e := range entries {
			out.Queued = append(out.Queued, status.QueueItem{
				PodcastSlug: e.PodcastSlug,
				EpisodeID:   e.EpisodeID,
				Title:       e.Title,
				Status:      e.Status,
				Attempts:    e.Attempts,
			})
		}
	}
	return nil, out, nil
}

// EnqueueEpisodeInput names the episode to queue.
type EnqueueEpisodeInput struct {
	PodcastSlug string `json:"podcast_slug" jsonschema:"slug of the subscribed podcast"`
	EpisodeID   string `json:"episode_id" jsonschema:"stable episode identifier"`
}

// EnqueueEpisodeOutput is the enqueue_episode result.
type EnqueueEpisodeOutput struct {
	Queued bool   `json:"queued"`
	Title  string `json:"title,omitempty"`
}

// EnqueueEpisode implements the enqueue_episode tool.
func (s *Server) EnqueueEpisode(ctx context.Context, _ *mcp.CallToolRequest, in EnqueueEpisodeInput) (*mcp.CallToolResult, EnqueueEpisodeOutput, error) {
	ep, err := s.store.GetEpisode(ctx, in.PodcastSlug, in.EpisodeID)
	if err != nil {
		return nil, EnqueueEpisodeOutput{}, fmt.Errorf("mcpserver: episode %s/%s: %w", in.PodcastSlug, in.EpisodeID, err)
	}
	if err := s.enqueuer.Enqueue(ctx, ep.PodcastSlug, ep.EpisodeID, ep.OriginalURL, ep.Title); err != nil {
		return nil, EnqueueEpisodeOutput{}, fmt.Errorf("mcpserver: enqueue: %w", err)
	}
	s.log.Info("episode enqueued via mcp", "podcast", ep.PodcastSlug, "episode", ep.EpisodeID)
	return nil, EnqueueEpisodeOutput{Queued: true, Title: ep.Title}, nil
}
