// Package adscan finds advertisements in podcast transcripts with an LLM and
// post-processes the proposals: deduplication across reads, boundary
// refinement to transition phrases, same-sponsor merging, and timestamp
// re-anchoring against the transcript.
package adscan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/podscrub/internal/ads"
	"github.com/MrWong99/podscrub/pkg/provider/llm"
)

// Detection status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Detection is the result of one classifier read.
type Detection struct {
	// Ads are the parsed proposals. Empty on a malformed response.
	Ads []ads.Marker

	// RawResponse is the unparsed model output, kept for inspection.
	RawResponse string

	// Prompt is the rendered user prompt that produced the response.
	Prompt string

	// Status is "success" or "failed". A response the model garbled is still
	// a success with zero ads; only transport failures are "failed".
	Status string
}

// Request identifies the episode a transcript belongs to.
type Request struct {
	Segments     []ads.Segment
	PodcastName  string
	EpisodeTitle string

	// Description is the episode show-notes text, given to the model as
	// extra context when present.
	Description string
}

// Classifier runs ad-detection reads against an LLM provider.
type Classifier struct {
	provider    llm.Provider
	log         *slog.Logger
	template    string
	temperature float64
	maxTokens   int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPromptTemplate overrides [DefaultUserPromptTemplate].
func WithPromptTemplate(template string) Option {
	return func(c *Classifier) {
		if template != "" {
			c.template = template
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) { c.temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Classifier) { c.maxTokens = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Classifier) { c.log = log }
}

// New creates a Classifier over the given provider.
func New(provider llm.Provider, opts ...Option) *Classifier {
	c := &Classifier{
		provider:  provider,
		log:       slog.Default(),
		template:  DefaultUserPromptTemplate,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Detect runs the first-pass ad read. Markers carry stage first_pass.
func (c *Classifier) Detect(ctx context.Context, req Request) (*Detection, error) {
	return c.detect(ctx, req, firstPassSystemPrompt, ads.StageFirstPass)
}

// DetectBlind runs the "what does not belong" read used both as an optional
// parallel second pass and as the verification pass over reprocessed audio.
// Markers carry stage verification.
func (c *Classifier) DetectBlind(ctx context.Context, req Request) (*Detection, error) {
	return c.detect(ctx, req, verificationSystemPrompt, ads.StageVerification)
}

func (c *Classifier) detect(ctx context.Context, req Request, systemPrompt string, stage ads.Stage) (*Detection, error) {
	prompt := renderPrompt(c.template, req.PodcastName, req.EpisodeTitle, renderTranscript(req.Segments))
	if req.Description != "" {
		prompt = "Episode description:\n" + req.Description + "\n\n" + prompt
	}

	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return &Detection{Prompt: prompt, Status: StatusFailed},
			fmt.Errorf("adscan: completion: %w", err)
	}

	markers := parseAds(resp.Content, stage)
	if markers == nil && resp.Content != "" {
		c.log.Warn("no parseable ad array in model response",
			"stage", stage, "response_bytes", len(resp.Content))
	}
	return &Detection{
		Ads:         markers,
		RawResponse: resp.Content,
		Prompt:      prompt,
		Status:      StatusSuccess,
	}, nil
}
