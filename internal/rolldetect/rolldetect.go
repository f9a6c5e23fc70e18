// Package rolldetect finds pre-roll and post-roll advertisements with fixed
// regex heuristics. It complements the LLM classifier: dynamically inserted
// roll ads follow strong textual conventions (promo codes, URLs, calls to
// action) that cheap pattern matching catches reliably.
package rolldetect

import (
	"regexp"

	"github.com/MrWong99/podscrub/internal/ads"
)

const (
	// minPatternMatches distinct ad-indicator regexes must match before a
	// region is declared a roll ad.
	minPatternMatches = 2

	// maxCoveredFraction is the coverage by existing ads above which a
	// candidate region is skipped.
	maxCoveredFraction = 0.5

	// maxPostrollDuration bounds how far from the episode end a post-roll
	// may start.
	maxPostrollDuration = 120.0

	baseConfidence    = 0.7
	perMatchBoost     = 0.05
	ceilingConfidence = 0.95
)

// showStartPatterns mark the spoken start of actual show content.
var showStartPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwelcome (?:back )?to\b`),
	regexp.MustCompile(`(?i)\bhello,? and welcome\b`),
	regexp.MustCompile(`(?i)\byou'?re listening to\b`),
	regexp.MustCompile(`(?i)\bthis is (?:the )?.{0,40}\bpodcast\b`),
	regexp.MustCompile(`(?i)\bon today'?s (?:show|episode)\b`),
	regexp.MustCompile(`(?i)\blet'?s (?:get|dive|jump) (?:right )?(?:into|in)\b`),
	regexp.MustCompile(`(?i)\bmy guest today\b`),
}

// signOffPatterns mark the spoken end of show content.
var signOffPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsee you next (?:week|time|episode)\b`),
	regexp.MustCompile(`(?i)\bthanks? for listening\b`),
	regexp.MustCompile(`(?i)\bthank you (?:all )?for (?:listening|tuning in)\b`),
	regexp.MustCompile(`(?i)\bthat'?s (?:it|all) for (?:today|this week|this episode)\b`),
	regexp.MustCompile(`(?i)\buntil next time\b`),
	regexp.MustCompile(`(?i)\bcatch you (?:later|next time)\b`),
	regexp.MustCompile(`(?i)\bgoodbye\b`),
}

// adIndicatorPatterns match promotional language. At least two distinct
// patterns must fire within a candidate region.
var adIndicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bpromo code\b`),
	regexp.MustCompile(`(?i)\bcoupon code\b`),
	regexp.MustCompile(`(?i)\buse code\b`),
	regexp.MustCompile(`(?i)\b(?:percent|%)\s*off\b`),
	regexp.MustCompile(`(?i)\bfree (?:trial|shipping|month)\b`),
	regexp.MustCompile(`(?i)\b(?:go to|visit|head (?:over )?to)\s+\S+\.(?:com|org|net|co|io)\b`),
	regexp.MustCompile(`(?i)\b\w+\.(?:com|org|net|co|io)/\w+\b`),
	regexp.MustCompile(`(?i)\bsponsored by\b`),
	regexp.MustCompile(`(?i)\bbrought to you by\b`),
	regexp.MustCompile(`(?i)\bterms and conditions apply\b`),
	regexp.MustCompile(`(?i)\bsign up (?:today|now)\b`),
	regexp.MustCompile(`(?i)\blimited time\b`),
	regexp.MustCompile(`(?i)\bcheck out our sponsor\b`),
}

// countIndicators returns how many distinct ad-indicator patterns match text.
func countIndicators(text string) int {
	n := 0
	for _, re := range adIndicatorPatterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// confidence implements min(0.7 + 0.05*n, 0.95) for n distinct indicator
// matches.
func confidence(n int) float64 {
	c := baseConfidence + perMatchBoost*float64(n)
	if c > ceilingConfidence {
		return ceilingConfidence
	}
	return c
}

// DetectPreroll scans forward for the first show-start phrase and inspects
// the text before it. A marker spanning from the episode start to the show
// start is returned when at least two distinct ad indicators match and the
// region is not already mostly covered by existing ads.
func DetectPreroll(segments []ads.Segment, existing []ads.Marker) *ads.Marker {
	showStart := -1.0
	for _, seg := range segments {
		if matchesAny(showStartPatterns, seg.Text) {
			showStart = seg.Start
			break
		}
	}
	if showStart <= 0 {
		return nil
	}

	region := ads.TextInRange(segments, 0, showStart)
	n := countIndicators(region)
	if n < minPatternMatches {
		return nil
	}
	if ads.CoveredFraction(0, showStart, existing) > maxCoveredFraction {
		return nil
	}

	return &ads.Marker{
		Start:      0,
		End:        showStart,
		Confidence: confidence(n),
		Reason:     "heuristic pre-roll: promotional language before show start",
		Stage:      ads.StagePreroll,
	}
}

// DetectPostroll scans backward from the episode end for a sign-off phrase
// within the last 120 seconds and inspects the text after it, symmetrically
// to DetectPreroll.
func DetectPostroll(segments []ads.Segment, existing []ads.Marker, episodeDuration float64) *ads.Marker {
	signOff := -1.0
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg.End < episodeDuration-maxPostrollDuration {
			break
		}
		if matchesAny(signOffPatterns, seg.Text) {
			signOff = seg.End
			break
		}
	}
	if signOff < 0 || signOff >= episodeDuration {
		return nil
	}

	region := ads.TextInRange(segments, signOff, episodeDuration)
	n := countIndicators(region)
	if n < minPatternMatches {
		return nil
	}
	if ads.CoveredFraction(signOff, episodeDuration, existing) > maxCoveredFraction {
		return nil
	}

	return &ads.Marker{
		Start:      signOff,
		End:        episodeDuration,
		Confidence: confidence(n),
		Reason:     "heuristic post-roll: promotional language after sign-off",
		Stage:      ads.StagePostroll,
	}
}
