package adscan

import (
	"fmt"
	"strings"

	"github.com/MrWong99/podscrub/internal/ads"
)

// firstPassSystemPrompt drives the main ad-detection read.
const firstPassSystemPrompt = `You are an expert at identifying advertisements in podcast transcripts.

You will receive a podcast transcript where every line is prefixed with its
time range in seconds: [start - end] text.

Identify every advertisement, sponsor read, and promotional segment. This
includes host-read sponsor messages, dynamically inserted ads, promotions for
other shows from the same network, and calls to action with promo codes or
URLs.

Do NOT mark as ads: the show's own intro or outro, listener questions,
genuine product discussions that are part of the content, or brief mentions
without a promotional intent.

Respond with a JSON array. Each element must be an object with:
- "start": ad start time in seconds (number)
- "end": ad end time in seconds (number)
- "confidence": your confidence from 0.0 to 1.0 (number)
- "reason": one sentence explaining why this is an ad (string)
- "sponsor": the sponsor or product name if identifiable (string, optional)
- "end_text": the last few words of the ad as spoken (string, optional)

Use the timestamps from the line prefixes. Return [] if there are no ads.`

// verificationSystemPrompt drives the second read over reprocessed audio. It
// asks what does not belong rather than what is an ad, which catches ads the
// first pass anchored badly.
const verificationSystemPrompt = `You are reviewing a podcast episode that has already had known
advertisements removed. Your task is to find anything that still does not
belong: leftover sponsor reads, truncated ad fragments, promotional segments
the first pass missed, and abrupt content that sounds dynamically inserted.

You will receive the transcript of the cleaned audio where every line is
prefixed with its time range in seconds: [start - end] text.

Be conservative: only report segments you are confident are promotional.
Content that merely discusses a product as part of the show is not an ad.

Respond with a JSON array. Each element must be an object with:
- "start": segment start time in seconds (number)
- "end": segment end time in seconds (number)
- "confidence": your confidence from 0.0 to 1.0 (number)
- "reason": one sentence explaining why this does not belong (string)
- "sponsor": the sponsor or product name if identifiable (string, optional)
- "end_text": the last few words of the segment as spoken (string, optional)

Return [] if the cleaned audio contains nothing out of place.`

// DefaultUserPromptTemplate builds the user message. Placeholders
// {{podcast_name}}, {{episode_title}}, and {{transcript}} are bound by
// [renderPrompt]; a configured override template uses the same placeholders.
const DefaultUserPromptTemplate = `Podcast: {{podcast_name}}
Episode: {{episode_title}}

Transcript:
{{transcript}}`

// renderPrompt binds the template placeholders.
func renderPrompt(template, podcast, episode, transcript string) string {
	r := strings.NewReplacer(
		"{{podcast_name}}", podcast,
		"{{episode_title}}", episode,
		"{{transcript}}", transcript,
	)
	return r.Replace(template)
}

// renderTranscript renders segments one per line as "[start - end] text",
// with millisecond precision so the model can anchor its timestamps.
func renderTranscript(segments []ads.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%.3f - %.3f] %s", s.Start, s.End, s.Text)
	}
	return b.String()
}
