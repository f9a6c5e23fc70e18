// Package pipeline orchestrates the per-episode ad-removal run: download,
// transcription, LLM classification, heuristic detectors, validation, audio
// editing, and the verification pass on the edited audio.
//
// One run is a linear state machine. Stage changes are reported to the
// status bus and their durations to the metrics layer; every stage artifact
// (transcript, prompts, raw responses, all markers including rejects) is
// persisted so a run can be inspected and partially resumed.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/podscrub/internal/ads"
	"github.com/MrWong99/podscrub/internal/adscan"
	"github.com/MrWong99/podscrub/internal/observe"
	"github.com/MrWong99/podscrub/internal/rolldetect"
	"github.com/MrWong99/podscrub/internal/status"
	"github.com/MrWong99/podscrub/internal/store"
	"github.com/MrWong99/podscrub/internal/validate"
	"github.com/MrWong99/podscrub/pkg/provider/llm"
	"github.com/MrWong99/podscrub/pkg/provider/stt"
)

// Stage names reported to the status bus.
const (
	StageProcessing   = "processing"
	StageTranscribing = "transcribing"
	StageClassifying  = "classifying"
	StageValidating   = "validating"
	StageEditing      = "editing"
	StageVerifying    = "verifying"
)

// Downloader fetches an episode enclosure to a local path.
type Downloader interface {
	DownloadAudio(ctx context.Context, url, dest string) (int64, error)
}

// AudioEditor probes durations and splices cut audio.
type AudioEditor interface {
	Probe(ctx context.Context, path string) (float64, error)
	CutAndSplice(ctx context.Context, input string, cuts []ads.Cut, output, markerPath, bitrate string) (bool, error)
}

// Detector runs the two classifier read modes.
type Detector interface {
	Detect(ctx context.Context, req adscan.Request) (*adscan.Detection, error)
	DetectBlind(ctx context.Context, req adscan.Request) (*adscan.Detection, error)
}

// Config carries the per-run tunables.
type Config struct {
	// DataDir is the root for per-podcast audio files.
	DataDir string

	// Bitrate and MarkerPath are passed through to the editor.
	Bitrate    string
	MarkerPath string

	// BlindSecondPass fuses an extra pre-edit classifier read with the first.
	BlindSecondPass bool

	// SameSponsorMaxGap is the merge window for consecutive same-sponsor ads
	// in seconds. Zero selects the detector default.
	SameSponsorMaxGap float64

	// PrerollDetection and PostrollDetection toggle the heuristic detectors.
	PrerollDetection  bool
	PostrollDetection bool

	// VerificationPass re-transcribes the edited audio and re-splices when
	// it still contains ads.
	VerificationPass bool
}

// Orchestrator drives one episode through the pipeline.
type Orchestrator struct {
	store     store.Store
	stt       stt.Provider
	detector  Detector
	editor    AudioEditor
	validator *validate.Validator
	download  Downloader
	cfg       Config
	bus       *status.Bus
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStatusBus reports job and stage changes to the bus.
func WithStatusBus(b *status.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithMetrics records stage durations and run outcomes.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New wires an Orchestrator.
func New(st store.Store, transcriber stt.Provider, detector Detector, editor AudioEditor,
	validator *validate.Validator, download Downloader, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		stt:       transcriber,
		detector:  detector,
		editor:    editor,
		validator: validator,
		download:  download,
		cfg:       cfg,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessEpisode runs the full pipeline for one queue entry. The scheduler
// holds the processing slot around this call; any error marks the episode
// failed.
func (o *Orchestrator) ProcessEpisode(ctx context.Context, entry store.QueueEntry) error {
	ep, err := o.store.GetEpisode(ctx, entry.PodcastSlug, entry.EpisodeID)
	if err != nil {
		return fmt.Errorf("pipeline: load episode: %w", err)
	}

	tally := llm.NewTally()
	ctx = llm.WithTally(ctx, tally)
	defer func() {
		usage, calls := tally.Totals()
		if calls > 0 {
			o.log.Info("llm usage",
				"podcast", ep.PodcastSlug, "episode", ep.EpisodeID,
				"calls", calls, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
			if o.metrics != nil {
				o.metrics.RecordTokens(ctx, usage.InputTokens, usage.OutputTokens)
			}
		}
	}()

	if o.bus != nil {
		o.bus.SetCurrentJob(&status.Job{
			PodcastSlug: ep.PodcastSlug,
			EpisodeID:   ep.EpisodeID,
			Title:       ep.Title,
			Stage:       StageProcessing,
			StartedAt:   time.Now(),
		})
		defer o.bus.SetCurrentJob(nil)
	}

	reprocess := ep.Status == store.StatusProcessed
	ep.Status = store.StatusProcessing
	ep.ErrorMessage = ""
	if err := o.store.SaveEpisode(ctx, ep); err != nil {
		return fmt.Errorf("pipeline: mark processing: %w", err)
	}
	if reprocess {
		if err := o.store.ClearEpisodeDetails(ctx, ep.PodcastSlug, ep.EpisodeID); err != nil {
			return fmt.Errorf("pipeline: clear stale details: %w", err)
		}
	}

	if err := o.run(ctx, ep); err != nil {
		if o.metrics != nil {
			o.metrics.RecordEpisode(ctx, "failed")
		}
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordEpisode(ctx, "success")
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, ep *store.Episode) error {
	origPath := o.originalAudioPath(ep)

	var segments []ads.Segment
	err := o.stage(ctx, StageTranscribing, func() error {
		var err error
		segments, err = o.transcribe(ctx, ep, origPath)
		return err
	})
	if err != nil {
		return err
	}

	duration, err := o.editor.Probe(ctx, origPath)
	if err != nil {
		return fmt.Errorf("pipeline: probe original: %w", err)
	}

	var markers []ads.Marker
	err = o.stage(ctx, StageClassifying, func() error {
		var err error
		markers, err = o.classify(ctx, ep, segments, duration)
		return err
	})
	if err != nil {
		return err
	}

	var kept []ads.Marker
	var allAds []ads.Marker
	err = o.stage(ctx, StageValidating, func() error {
		var err error
		allAds, kept, err = o.validateMarkers(ctx, ep, markers, segments, duration)
		return err
	})
	if err != nil {
		return err
	}

	processedPath := o.processedAudioPath(ep)
	cuts := markersToCuts(kept)
	var edited bool
	err = o.stage(ctx, StageEditing, func() error {
		var err error
		edited, err = o.editor.CutAndSplice(ctx, origPath, cuts, processedPath, o.cfg.MarkerPath, o.cfg.Bitrate)
		return err
	})
	if err != nil {
		return fmt.Errorf("pipeline: edit: %w", err)
	}

	if !edited {
		// Nothing removable: the original rendition is the processed one.
		o.log.Info("no ads removed", "podcast", ep.PodcastSlug, "episode", ep.EpisodeID)
		return o.finalize(ctx, ep, origPath, duration, duration, 0)
	}

	if o.cfg.VerificationPass {
		extra, verifyErr := o.verify(ctx, ep, processedPath, cuts, segments, duration)
		if verifyErr != nil {
			return verifyErr
		}
		if len(extra) > 0 {
			kept = append(kept, extra...)
			allAds = append(allAds, extra...)
			cuts = markersToCuts(kept)
			err = o.stage(ctx, StageEditing, func() error {
				_, err := o.editor.CutAndSplice(ctx, origPath, cuts, processedPath, o.cfg.MarkerPath, o.cfg.Bitrate)
				return err
			})
			if err != nil {
				return fmt.Errorf("pipeline: re-edit after verification: %w", err)
			}
		}
	}

	if err := o.persistMarkers(ctx, ep, allAds); err != nil {
		return err
	}

	newDuration, err := o.editor.Probe(ctx, processedPath)
	if err != nil {
		return fmt.Errorf("pipeline: probe processed: %w", err)
	}
	return o.finalize(ctx, ep, processedPath, duration, newDuration, len(cuts))
}

// stage runs one pipeline step, reporting its name and duration.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func() error) error {
	if o.bus != nil {
		o.bus.SetStage(name)
	}
	start := time.Now()
	err := fn()
	if o.metrics != nil {
		o.metrics.RecordStage(ctx, name, time.Since(start).Seconds())
	}
	return err
}

// transcribe returns the episode transcript, reusing a stored one when it
// parses. The original audio is downloaded on demand either way, because
// editing always reads it.
func (o *Orchestrator) transcribe(ctx context.Context, ep *store.Episode, origPath string) ([]ads.Segment, error) {
	if _, err := os.Stat(origPath); err != nil {
		n, err := o.download.DownloadAudio(ctx, ep.OriginalURL, origPath)
		if err != nil {
			return nil, fmt.Errorf("pipeline: download audio: %w", err)
		}
		o.log.Info("downloaded episode audio",
			"podcast", ep.PodcastSlug, "episode", ep.EpisodeID, "bytes", n)
	}

	if details, err := o.store.GetEpisodeDetails(ctx, ep.PodcastSlug, ep.EpisodeID); err == nil && details.TranscriptText != "" {
		var segments []ads.Segment
		if err := json.Unmarshal([]byte(details.TranscriptText), &segments); err == nil && len(segments) > 0 {
			o.log.Debug("reusing stored transcript",
				"podcast", ep.PodcastSlug, "episode", ep.EpisodeID, "segments", len(segments))
			return segments, nil
		}
	}

	raw, err := o.stt.Transcribe(ctx, origPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	segments := toAdsSegments(raw)

	encoded, err := json.Marshal(segments)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode transcript: %w", err)
	}
	if err := o.updateDetails(ctx, ep, func(d *store.EpisodeDetails) {
		d.TranscriptText = string(encoded)
	}); err != nil {
		return nil, err
	}
	return segments, nil
}

// classify runs the first-pass read, the optional blind read, the heuristic
// roll detectors, and boundary refinement.
func (o *Orchestrator) classify(ctx context.Context, ep *store.Episode, segments []ads.Segment, duration float64) ([]ads.Marker, error) {
	req := adscan.Request{
		Segments:     segments,
		PodcastName:  o.podcastName(ctx, ep.PodcastSlug),
		EpisodeTitle: ep.Title,
		Description:  ep.Description,
	}

	det, err := o.detector.Detect(ctx, req)
	if det != nil {
		if perr := o.updateDetails(ctx, ep, func(d *store.EpisodeDetails) {
			d.FirstPassPrompt = det.Prompt
			d.FirstPassResponse = det.RawResponse
		}); perr != nil {
			return nil, perr
		}
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: classify: %w", err)
	}
	markers := det.Ads

	if o.cfg.BlindSecondPass {
		second, err := o.detector.DetectBlind(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("pipeline: blind second pass: %w", err)
		}
		markers = adscan.MergeAndDeduplicate(markers, second.Ads)
	}

	if o.cfg.PrerollDetection {
		if m := rolldetect.DetectPreroll(segments, markers); m != nil {
			markers = append(markers, *m)
		}
	}
	if o.cfg.PostrollDetection {
		if m := rolldetect.DetectPostroll(segments, markers, duration); m != nil {
			markers = append(markers, *m)
		}
	}

	markers = adscan.ValidateAdTimestamps(markers, segments)
	markers = adscan.RefineBoundaries(markers, segments)
	markers = adscan.MergeSameSponsor(markers, o.cfg.SameSponsorMaxGap)
	return markers, nil
}

// validateMarkers validates proposals and persists the complete marker list,
// rejects included. Only non-REJECT markers flow into editing.
func (o *Orchestrator) validateMarkers(ctx context.Context, ep *store.Episode, markers []ads.Marker, segments []ads.Segment, duration float64) (all, kept []ads.Marker, err error) {
	res := o.validator.Validate(validate.Input{
		Ads:             markers,
		EpisodeDuration: duration,
		Segments:        segments,
		Description:     ep.Description,
		NotAnAdSpans:    o.notAnAdSpans(ctx, ep),
	})
	for _, w := range res.Warnings {
		o.log.Warn("validation warning",
			"podcast", ep.PodcastSlug, "episode", ep.EpisodeID, "warning", w)
	}
	if err := o.persistMarkers(ctx, ep, res.Ads); err != nil {
		return nil, nil, err
	}
	return res.Ads, res.Accepted(), nil
}

// notAnAdSpans collects user false-positive corrections for the episode.
func (o *Orchestrator) notAnAdSpans(ctx context.Context, ep *store.Episode) []ads.Cut {
	corrections, err := o.store.ListCorrections(ctx, ep.PodcastSlug, ep.EpisodeID, store.CorrectionFalsePositive)
	if err != nil {
		o.log.Warn("listing corrections", "err", err)
		return nil
	}
	spans := make([]ads.Cut, 0, len(corrections))
	for _, c := range corrections {
		spans = append(spans, ads.Cut{Start: c.Start, End: c.End})
	}
	return spans
}

func (o *Orchestrator) persistMarkers(ctx context.Context, ep *store.Episode, markers []ads.Marker) error {
	encoded, err := json.Marshal(markers)
	if err != nil {
		return fmt.Errorf("pipeline: encode markers: %w", err)
	}
	return o.updateDetails(ctx, ep, func(d *store.EpisodeDetails) {
		d.AdMarkersJSON = string(encoded)
	})
}

// finalize records durations and sizes and bumps the cumulative counter.
// Time saved only accumulates on success, and only by the amount actually
// removed.
func (o *Orchestrator) finalize(ctx context.Context, ep *store.Episode, processedPath string, originalDuration, newDuration float64, adsRemoved int) error {
	ep.Status = store.StatusProcessed
	ep.ProcessedFile = processedPath
	ep.ProcessedAt = time.Now()
	ep.OriginalDuration = originalDuration
	ep.NewDuration = newDuration
	ep.AdsRemoved = adsRemoved
	if fi, err := os.Stat(processedPath); err == nil {
		ep.ProcessedFileSize = fi.Size()
	}
	if err := o.store.SaveEpisode(ctx, ep); err != nil {
		return fmt.Errorf("pipeline: finalize episode: %w", err)
	}

	saved := originalDuration - newDuration
	if err := o.store.IncrementTotalTimeSaved(ctx, saved); err != nil {
		return fmt.Errorf("pipeline: record time saved: %w", err)
	}
	if o.metrics != nil {
		o.metrics.AdsRemoved.Add(ctx, int64(adsRemoved))
		o.metrics.TimeSaved.Add(ctx, saved)
	}

	o.log.Info("episode processed",
		"podcast", ep.PodcastSlug, "episode", ep.EpisodeID,
		"ads_removed", adsRemoved,
		"original_duration", originalDuration, "new_duration", newDuration)
	return nil
}

// updateDetails merges one mutation into the episode's details row, creating
// it on first write.
func (o *Orchestrator) updateDetails(ctx context.Context, ep *store.Episode, mutate func(*store.EpisodeDetails)) error {
	details, err := o.store.GetEpisodeDetails(ctx, ep.PodcastSlug, ep.EpisodeID)
	if err != nil {
		details = &store.EpisodeDetails{PodcastSlug: ep.PodcastSlug, EpisodeID: ep.EpisodeID}
	}
	mutate(details)
	if err := o.store.SaveEpisodeDetails(ctx, details); err != nil {
		return fmt.Errorf("pipeline: save details: %w", err)
	}
	return nil
}

func (o *Orchestrator) podcastName(ctx context.Context, slug string) string {
	pod, err := o.store.GetPodcast(ctx, slug)
	if err != nil || pod.Title == "" {
		return slug
	}
	return pod.Title
}

func (o *Orchestrator) originalAudioPath(ep *store.Episode) string {
	return filepath.Join(o.cfg.DataDir, ep.PodcastSlug, ep.EpisodeID+".orig.mp3")
}

func (o *Orchestrator) processedAudioPath(ep *store.Episode) string {
	return filepath.Join(o.cfg.DataDir, ep.PodcastSlug, ep.EpisodeID+".mp3")
}

func toAdsSegments(raw []stt.Segment) []ads.Segment {
	out := make([]ads.Segment, 0, len(raw))
	for _, s := range raw {
		out = append(out, ads.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return out
}

func markersToCuts(markers []ads.Marker) []ads.Cut {
	cuts := make([]ads.Cut, 0, len(markers))
	for _, m := range markers {
		cuts = append(cuts, ads.Cut{Start: m.Start, End: m.End})
	}
	return cuts
}
