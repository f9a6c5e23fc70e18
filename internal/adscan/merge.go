package adscan

import (
	"regexp"
	"sort"

	"github.com/MrWong99/podscrub/internal/ads"
)

// transitionPhrases mark the spoken start of a sponsor read. Boundary
// refinement pulls an ad's start back to the segment containing one.
var transitionPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbrought to you by\b`),
	regexp.MustCompile(`(?i)\bthis episode is sponsored by\b`),
	regexp.MustCompile(`(?i)\bthis show is sponsored by\b`),
	regexp.MustCompile(`(?i)\bsupport for this (?:show|podcast|episode) comes from\b`),
	regexp.MustCompile(`(?i)\btoday'?s sponsor\b`),
	regexp.MustCompile(`(?i)\ba (?:quick )?word from our sponsors?\b`),
	regexp.MustCompile(`(?i)\bthanks to .{1,40} for sponsoring\b`),
	regexp.MustCompile(`(?i)\blet'?s take a (?:quick )?break\b`),
}

// boundaryLookback is how far before a proposed ad start a transition phrase
// may move it.
const boundaryLookback = 30.0

// anchorSlack widens the [start, end] window when checking that an ad's
// brand keywords actually occur where the model claims.
const anchorSlack = 5.0

// MergeAndDeduplicate fuses the proposals of two pre-edit reads. Every
// returned marker is tagged with its origin: "1", "2", or "merged" when a
// pair overlaps by at least half of the shorter marker. A merged marker
// spans the union of the pair and takes the remaining fields from the
// higher-confidence proposal.
func MergeAndDeduplicate(first, second []ads.Marker) []ads.Marker {
	var out []ads.Marker
	usedSecond := make([]bool, len(second))

	for _, a := range first {
		a.Pass = "1"
		for j, b := range second {
			if usedSecond[j] {
				continue
			}
			if ads.OverlapFraction(a.Start, a.End, b.Start, b.End) < 0.5 {
				continue
			}
			usedSecond[j] = true
			winner := a
			if b.Confidence > a.Confidence {
				winner = b
			}
			winner.Start = min(a.Start, b.Start)
			winner.End = max(a.End, b.End)
			winner.Confidence = max(a.Confidence, b.Confidence)
			winner.Pass = "merged"
			a = winner
			break
		}
		out = append(out, a)
	}
	for j, b := range second {
		if !usedSecond[j] {
			b.Pass = "2"
			out = append(out, b)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// RefineBoundaries pulls each marker's start back to the closest preceding
// segment that contains a transition phrase, looking back at most 30 s. The
// marker keeps its end; a phrase inside the marker already does not move it.
func RefineBoundaries(markers []ads.Marker, segments []ads.Segment) []ads.Marker {
	out := make([]ads.Marker, len(markers))
	copy(out, markers)
	for i, m := range out {
		best := -1.0
		for _, seg := range segments {
			if seg.Start >= m.Start || seg.Start < m.Start-boundaryLookback {
				continue
			}
			if !containsTransitionPhrase(seg.Text) {
				continue
			}
			if seg.Start > best {
				best = seg.Start
			}
		}
		if best >= 0 {
			out[i].Start = best
		}
	}
	return out
}

func containsTransitionPhrase(text string) bool {
	for _, re := range transitionPhrases {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MergeSameSponsor merges consecutive markers whose extracted sponsors refer
// to the same brand and whose gap is at most maxGap seconds. The merged
// marker takes the maximum confidence. A zero maxGap selects 120 s.
func MergeSameSponsor(markers []ads.Marker, maxGap float64) []ads.Marker {
	if maxGap <= 0 {
		maxGap = 120
	}
	sorted := make([]ads.Marker, len(markers))
	copy(sorted, markers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []ads.Marker
	for _, m := range sorted {
		n := len(out)
		if n > 0 {
			prev := &out[n-1]
			if prev.Sponsor != "" && m.Sponsor != "" &&
				sponsorsMatch(prev.Sponsor, m.Sponsor) &&
				m.Start-prev.End <= maxGap {
				if m.End > prev.End {
					prev.End = m.End
				}
				prev.Confidence = max(prev.Confidence, m.Confidence)
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// ValidateAdTimestamps re-anchors markers whose sponsor keywords do not
// occur in the transcript near the claimed span. The marker keeps its
// duration and moves to the nearest segment that mentions the sponsor.
// Markers without an extractable sponsor pass through unchanged.
func ValidateAdTimestamps(markers []ads.Marker, segments []ads.Segment) []ads.Marker {
	out := make([]ads.Marker, len(markers))
	copy(out, markers)
	for i, m := range out {
		if m.Sponsor == "" {
			continue
		}
		window := ads.TextInRange(segments, m.Start-anchorSlack, m.End+anchorSlack)
		if sponsorMentioned(m.Sponsor, window) {
			continue
		}

		bestDist := -1.0
		bestStart := 0.0
		for _, seg := range segments {
			if !sponsorMentioned(m.Sponsor, seg.Text) {
				continue
			}
			dist := seg.Start - m.Start
			if dist < 0 {
				dist = -dist
			}
			if bestDist < 0 || dist < bestDist {
				bestDist = dist
				bestStart = seg.Start
			}
		}
		if bestDist < 0 {
			continue
		}
		duration := m.Duration()
		out[i].Start = bestStart
		out[i].End = bestStart + duration
	}
	return out
}
