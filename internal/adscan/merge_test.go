package adscan

import (
	"testing"

	"github.com/MrWong99/podscrub/internal/ads"
)

func TestMergeAndDeduplicate(t *testing.T) {
	t.Parallel()

	first := []ads.Marker{
		{Start: 30, End: 90, Confidence: 0.8, Reason: "sponsor read"},
		{Start: 500, End: 560, Confidence: 0.9},
	}
	second := []ads.Marker{
		{Start: 35, End: 95, Confidence: 0.95, Reason: "ad for NordVPN", Sponsor: "NordVPN"},
		{Start: 1000, End: 1060, Confidence: 0.7},
	}

	got := MergeAndDeduplicate(first, second)
	if len(got) != 3 {
		t.Fatalf("got %d markers, want 3: %+v", len(got), got)
	}

	merged := got[0]
	if merged.Pass != "merged" {
		t.Errorf("overlapping pair pass = %q, want merged", merged.Pass)
	}
	if merged.Start != 30 || merged.End != 95 {
		t.Errorf("merged span = [%v, %v], want union [30, 95]", merged.Start, merged.End)
	}
	if merged.Confidence != 0.95 || merged.Sponsor != "NordVPN" {
		t.Errorf("merged fields should come from the higher-confidence read: %+v", merged)
	}

	if got[1].Pass != "1" || got[1].Start != 500 {
		t.Errorf("unmatched first-read marker = %+v", got[1])
	}
	if got[2].Pass != "2" || got[2].Start != 1000 {
		t.Errorf("unmatched second-read marker = %+v", got[2])
	}
}

func TestMergeAndDeduplicate_SmallOverlapKeptSeparate(t *testing.T) {
	t.Parallel()

	// 10s overlap of a 60s marker is under half the shorter span.
	got := MergeAndDeduplicate(
		[]ads.Marker{{Start: 30, End: 90, Confidence: 0.8}},
		[]ads.Marker{{Start: 80, End: 140, Confidence: 0.9}},
	)
	if len(got) != 2 {
		t.Fatalf("got %d markers, want 2 separate: %+v", len(got), got)
	}
	if got[0].Pass != "1" || got[1].Pass != "2" {
		t.Errorf("pass tags = %q, %q", got[0].Pass, got[1].Pass)
	}
}

func TestRefineBoundaries(t *testing.T) {
	t.Parallel()

	segments := []ads.Segment{
		{Start: 0, End: 50, Text: "welcome back to the show"},
		{Start: 80, End: 95, Text: "this episode is sponsored by BetterHelp"},
		{Start: 95, End: 160, Text: "BetterHelp offers online therapy"},
	}
	markers := []ads.Marker{{Start: 95, End: 160, Confidence: 0.9}}

	got := RefineBoundaries(markers, segments)
	if got[0].Start != 80 {
		t.Errorf("start = %v, want pulled back to 80", got[0].Start)
	}
	if got[0].End != 160 {
		t.Errorf("end moved: %v", got[0].End)
	}
	// The original slice is untouched.
	if markers[0].Start != 95 {
		t.Errorf("input mutated: %+v", markers[0])
	}
}

func TestRefineBoundaries_LookbackWindow(t *testing.T) {
	t.Parallel()

	// The transition phrase is 40s before the start, beyond the 30s window.
	segments := []ads.Segment{
		{Start: 60, End: 70, Text: "brought to you by NordVPN"},
	}
	got := RefineBoundaries([]ads.Marker{{Start: 100, End: 160}}, segments)
	if got[0].Start != 100 {
		t.Errorf("start = %v, want unchanged 100", got[0].Start)
	}
}

func TestMergeSameSponsor(t *testing.T) {
	t.Parallel()

	markers := []ads.Marker{
		{Start: 100, End: 160, Confidence: 0.8, Sponsor: "BetterHelp"},
		{Start: 220, End: 280, Confidence: 0.9, Sponsor: "Better Help"}, // 60s gap, same brand
		{Start: 900, End: 960, Confidence: 0.7, Sponsor: "BetterHelp"},  // 620s gap: separate
		{Start: 1200, End: 1260, Confidence: 0.8, Sponsor: "NordVPN"},
	}

	got := MergeSameSponsor(markers, 120)
	if len(got) != 3 {
		t.Fatalf("got %d markers, want 3: %+v", len(got), got)
	}
	if got[0].Start != 100 || got[0].End != 280 {
		t.Errorf("merged span = [%v, %v], want [100, 280]", got[0].Start, got[0].End)
	}
	if got[0].Confidence != 0.9 {
		t.Errorf("merged confidence = %v, want max 0.9", got[0].Confidence)
	}
}

func TestValidateAdTimestamps_ReanchorsMisplacedAd(t *testing.T) {
	t.Parallel()

	segments := []ads.Segment{
		{Start: 0, End: 100, Text: "regular conversation about cooking"},
		{Start: 100, End: 200, Text: "more cooking talk"},
		{Start: 600, End: 640, Text: "this segment is about BetterHelp online therapy"},
	}
	markers := []ads.Marker{
		{Start: 100, End: 160, Confidence: 0.9, Sponsor: "BetterHelp"},
		{Start: 100, End: 160, Confidence: 0.9}, // no sponsor: untouched
	}

	got := ValidateAdTimestamps(markers, segments)
	if got[0].Start != 600 || got[0].End != 660 {
		t.Errorf("re-anchored span = [%v, %v], want [600, 660]", got[0].Start, got[0].End)
	}
	if got[1].Start != 100 {
		t.Errorf("sponsorless marker moved: %+v", got[1])
	}
}

func TestValidateAdTimestamps_KeepsWellAnchoredAd(t *testing.T) {
	t.Parallel()

	segments := []ads.Segment{
		{Start: 95, End: 165, Text: "go to betterhelp.com slash podcast for ten percent off"},
	}
	got := ValidateAdTimestamps([]ads.Marker{
		{Start: 100, End: 160, Sponsor: "BetterHelp"},
	}, segments)
	if got[0].Start != 100 || got[0].End != 160 {
		t.Errorf("well-anchored marker moved: %+v", got[0])
	}
}
