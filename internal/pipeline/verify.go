package pipeline

import (
	"context"
	"fmt"

	"github.com/MrWong99/podscrub/internal/ads"
	"github.com/MrWong99/podscrub/internal/adscan"
	"github.com/MrWong99/podscrub/internal/store"
	"github.com/MrWong99/podscrub/internal/validate"
)

// verify re-transcribes the edited audio and runs a blind classifier read
// over it. Anything the model still flags is mapped back to original-audio
// coordinates through the pass-1 cuts and validated against the original
// transcript; accepted markers are returned for a re-splice from the
// original file.
func (o *Orchestrator) verify(ctx context.Context, ep *store.Episode, processedPath string, cuts []ads.Cut, segments []ads.Segment, duration float64) ([]ads.Marker, error) {
	var extra []ads.Marker
	err := o.stage(ctx, StageVerifying, func() error {
		raw, err := o.stt.Transcribe(ctx, processedPath)
		if err != nil {
			return fmt.Errorf("pipeline: transcribe processed audio: %w", err)
		}
		processedSegments := toAdsSegments(raw)

		det, err := o.detector.DetectBlind(ctx, adscan.Request{
			Segments:     processedSegments,
			PodcastName:  o.podcastName(ctx, ep.PodcastSlug),
			EpisodeTitle: ep.Title,
			Description:  ep.Description,
		})
		if det != nil {
			if perr := o.updateDetails(ctx, ep, func(d *store.EpisodeDetails) {
				d.SecondPassPrompt = det.Prompt
				d.SecondPassResponse = det.RawResponse
			}); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("pipeline: verification read: %w", err)
		}
		if len(det.Ads) == 0 {
			return nil
		}

		cutset := ads.NewCutSet(cuts)
		mapped := make([]ads.Marker, 0, len(det.Ads))
		for _, m := range det.Ads {
			orig := cutset.MarkerToOriginal(m)
			orig.Stage = ads.StageVerification
			mapped = append(mapped, orig)
		}

		res := o.validator.Validate(validate.Input{
			Ads:             mapped,
			EpisodeDuration: duration,
			Segments:        segments,
			Description:     ep.Description,
			NotAnAdSpans:    o.notAnAdSpans(ctx, ep),
		})
		extra = res.Accepted()
		if len(extra) > 0 {
			o.log.Info("verification found missed ads",
				"podcast", ep.PodcastSlug, "episode", ep.EpisodeID, "count", len(extra))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extra, nil
}
