package audioedit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/podscrub/internal/ads"
)

const (
	// coalesceGap is the maximum gap between adjacent cuts that merges them.
	coalesceGap = 1.0

	// minCutDuration is the false-positive floor; shorter cuts are dropped.
	minCutDuration = 10.0

	// minTail is the shortest remaining tail after the last cut; anything
	// shorter is discarded so the marker ends the file.
	minTail = 30.0

	fadeOutDur    = 0.5
	fadeInDur     = 0.8
	markerFadeDur = 0.5
	markerVolume  = 0.4
)

// Plan is the set of cuts that will actually be spliced, after sorting,
// coalescing, and filtering the raw ad markers.
type Plan struct {
	// Cuts are the kept cuts, sorted and non-adjacent.
	Cuts []ads.Cut

	// Dropped are cuts below the duration floor, kept for logging.
	Dropped []ads.Cut

	// TailTrimmed is true when the content after the last cut was shorter
	// than the tail floor and is discarded.
	TailTrimmed bool

	// Duration is the source audio duration.
	Duration float64
}

// Empty reports whether there is nothing to splice.
func (p Plan) Empty() bool { return len(p.Cuts) == 0 }

// TotalRemoved returns the seconds of audio the plan removes, including a
// trimmed tail.
func (p Plan) TotalRemoved() float64 {
	total := 0.0
	for _, c := range p.Cuts {
		total += c.Duration()
	}
	if p.TailTrimmed && len(p.Cuts) > 0 {
		total += p.Duration - p.Cuts[len(p.Cuts)-1].End
	}
	return total
}

// PlanCuts normalises raw cuts against the audio duration: re-sort, clamp to
// [0, duration], coalesce cuts whose gap is under 1 s, drop cuts under 10 s,
// and trim a final tail under 30 s.
func PlanCuts(cuts []ads.Cut, duration float64) Plan {
	plan := Plan{Duration: duration}

	sorted := make([]ads.Cut, 0, len(cuts))
	for _, c := range cuts {
		if c.Start < 0 {
			c.Start = 0
		}
		if c.End > duration {
			c.End = duration
		}
		if c.End <= c.Start {
			continue
		}
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var merged []ads.Cut
	for _, c := range sorted {
		if n := len(merged); n > 0 && c.Start-merged[n-1].End < coalesceGap {
			if c.End > merged[n-1].End {
				merged[n-1].End = c.End
			}
			continue
		}
		merged = append(merged, c)
	}

	for _, c := range merged {
		if c.Duration() < minCutDuration {
			plan.Dropped = append(plan.Dropped, c)
			continue
		}
		plan.Cuts = append(plan.Cuts, c)
	}

	if n := len(plan.Cuts); n > 0 && duration-plan.Cuts[n-1].End < minTail {
		plan.TailTrimmed = true
	}
	return plan
}

// part is one element of the concat sequence.
type part struct {
	marker     bool
	start, end float64 // content bounds, original time
	fadeIn     bool    // content follows a cut
	fadeOut    bool    // content precedes a cut
}

// parts lays out the alternating content/marker sequence. withMarker selects
// whether a marker tone is inserted where a cut was made.
func (p Plan) parts(withMarker bool) []part {
	var out []part
	pos := 0.0
	for _, c := range p.Cuts {
		if c.Start-pos > 0.01 {
			out = append(out, part{start: pos, end: c.Start, fadeOut: true})
		}
		if withMarker {
			out = append(out, part{marker: true})
		}
		pos = c.End
	}
	if !p.TailTrimmed && p.Duration-pos > 0.01 {
		out = append(out, part{start: pos, end: p.Duration})
	}
	// The first part never fades in and the last never fades out.
	for i := range out {
		if out[i].marker {
			continue
		}
		out[i].fadeIn = i > 0
		if i == len(out)-1 {
			out[i].fadeOut = false
		}
	}
	return out
}

// filterGraph renders the ffmpeg filter_complex for the plan. markerDuration
// is the probed length of the marker file; pass 0 when no marker is used.
func (p Plan) filterGraph(withMarker bool, markerDuration float64) (string, error) {
	seq := p.parts(withMarker)
	if len(seq) == 0 {
		return "", fmt.Errorf("audioedit: empty splice plan")
	}

	markerCount := 0
	for _, pt := range seq {
		if pt.marker {
			markerCount++
		}
	}

	var b strings.Builder
	var labels []string

	if markerCount > 0 {
		fadeOutStart := markerDuration - markerFadeDur
		if fadeOutStart < 0 {
			fadeOutStart = 0
		}
		fmt.Fprintf(&b, "[1:a]volume=%.2f,afade=t=in:st=0:d=%.1f,afade=t=out:st=%.3f:d=%.1f",
			markerVolume, markerFadeDur, fadeOutStart, markerFadeDur)
		if markerCount > 1 {
			fmt.Fprintf(&b, ",asplit=%d", markerCount)
			for i := 0; i < markerCount; i++ {
				fmt.Fprintf(&b, "[m%d]", i)
			}
		} else {
			b.WriteString("[m0]")
		}
		b.WriteString(";")
	}

	contentIdx, markerIdx := 0, 0
	for _, pt := range seq {
		if pt.marker {
			labels = append(labels, fmt.Sprintf("[m%d]", markerIdx))
			markerIdx++
			continue
		}
		label := fmt.Sprintf("[c%d]", contentIdx)
		contentIdx++
		fmt.Fprintf(&b, "[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS", pt.start, pt.end)
		if pt.fadeIn {
			fmt.Fprintf(&b, ",afade=t=in:st=0:d=%.1f", fadeInDur)
		}
		if pt.fadeOut {
			segDur := pt.end - pt.start
			st := segDur - fadeOutDur
			if st < 0 {
				st = 0
			}
			fmt.Fprintf(&b, ",afade=t=out:st=%.3f:d=%.1f", st, fadeOutDur)
		}
		b.WriteString(label)
		b.WriteString(";")
		labels = append(labels, label)
	}

	b.WriteString(strings.Join(labels, ""))
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(labels))
	return b.String(), nil
}
