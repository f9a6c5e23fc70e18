// Package validate decides which detected ads are safe to cut. Proposals are
// clamped to the episode bounds, merged across tiny gaps, scored against the
// transcript and episode metadata, and assigned an ACCEPT, REVIEW, or REJECT
// decision. Only accepted ads should reach the audio editor; rejected ones
// are kept for display.
package validate

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/MrWong99/podscrub/internal/ads"
)

// Config carries the validation thresholds. Durations are seconds; zero
// values select the defaults.
type Config struct {
	MinAdDuration          float64 // below: ERROR (default 7)
	ShortAdDuration        float64 // below: WARN (default 30)
	MaxAdDuration          float64 // above: ERROR (default 300)
	MaxConfirmedAdDuration float64 // above, confirmed sponsor: ERROR (default 900)
	MergeGap               float64 // gaps below merge (default 5)
	MinConfidence          float64 // below: ERROR (default 0.3)
	LowConfidence          float64 // below: WARN (default 0.5)
}

// DefaultConfig returns the documented default thresholds.
func DefaultConfig() Config {
	return Config{
		MinAdDuration:          7,
		ShortAdDuration:        30,
		MaxAdDuration:          300,
		MaxConfirmedAdDuration: 900,
		MergeGap:               5,
		MinConfidence:          0.3,
		LowConfidence:          0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinAdDuration == 0 {
		c.MinAdDuration = d.MinAdDuration
	}
	if c.ShortAdDuration == 0 {
		c.ShortAdDuration = d.ShortAdDuration
	}
	if c.MaxAdDuration == 0 {
		c.MaxAdDuration = d.MaxAdDuration
	}
	if c.MaxConfirmedAdDuration == 0 {
		c.MaxConfirmedAdDuration = d.MaxConfirmedAdDuration
	}
	if c.MergeGap == 0 {
		c.MergeGap = d.MergeGap
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.LowConfidence == 0 {
		c.LowConfidence = d.LowConfidence
	}
	return c
}

// Input is everything the validator needs for one episode.
type Input struct {
	// Ads are the fused proposals from the classifier and heuristics.
	Ads []ads.Marker

	// EpisodeDuration bounds every marker.
	EpisodeDuration float64

	// Segments is the transcript, used to verify ad language in range.
	Segments []ads.Segment

	// Description is the episode show notes, used for sponsor confirmation.
	Description string

	// NotAnAdSpans are user-marked false-positive spans; any ad overlapping
	// one by at least half of the shorter span is force-rejected.
	NotAnAdSpans []ads.Cut
}

// Result is the validated ad list plus episode-level warnings.
type Result struct {
	// Ads are ordered by start, each with Validation attached. Rejected ads
	// are included.
	Ads []ads.Marker

	// Warnings are density findings that do not change decisions.
	Warnings []string
}

// Accepted returns the non-REJECT ads.
func (r Result) Accepted() []ads.Marker {
	var out []ads.Marker
	for _, m := range r.Ads {
		if m.Validation != nil && m.Validation.Decision != ads.DecisionReject {
			out = append(out, m)
		}
	}
	return out
}

// notAnAdPatterns force confidence to zero: the model said it is not an ad.
var notAnAdPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bnot (?:an )?ad(?:vertisement)?\b`),
	regexp.MustCompile(`(?i)\bpart of the (?:show|content|episode)\b`),
	regexp.MustCompile(`(?i)\bgenuine (?:discussion|recommendation|content)\b`),
	regexp.MustCompile(`(?i)\borganic mention\b`),
}

// vagueReasons are one-word justifications that deserve a penalty.
var vagueReasons = map[string]struct{}{
	"ad": {}, "ads": {}, "advertisement": {}, "sponsor": {}, "sponsored": {},
	"commercial": {}, "promo": {}, "promotion": {}, "promotional content": {},
	"promotional segment": {},
}

// adSignalPattern matches promotional language in transcript text.
var adSignalPattern = regexp.MustCompile(
	`(?i)\b(?:promo code|coupon code|use code|percent off|free trial|sponsored by|brought to you by|sign up|limited time|\w+\.(?:com|org|net|co|io))\b`)

// Validator applies the validation pipeline.
type Validator struct {
	cfg Config
	log *slog.Logger
}

// New creates a Validator. A zero Config selects the defaults.
func New(cfg Config, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{cfg: cfg.withDefaults(), log: log}
}

// Validate runs the full pipeline: clamp, drop inverted, merge close pairs,
// score, decide, density checks, then user-correction overrides.
func (v *Validator) Validate(in Input) Result {
	markers := v.clampAndDrop(in)
	markers = v.mergeClose(markers)

	for i := range markers {
		v.score(&markers[i], in)
	}
	for i := range markers {
		v.decide(&markers[i])
	}
	v.applyUserCorrections(markers, in.NotAnAdSpans)

	res := Result{Ads: markers}
	res.Warnings = v.densityWarnings(markers, in.EpisodeDuration)
	return res
}

// clampAndDrop clamps markers to [0, duration] recording corrections, and
// drops markers that are inverted after clamping.
func (v *Validator) clampAndDrop(in Input) []ads.Marker {
	var out []ads.Marker
	for _, m := range in.Ads {
		val := &ads.Validation{OriginalConfidence: m.Confidence}
		if m.Start < 0 {
			val.Corrections = append(val.Corrections,
				fmt.Sprintf("Clamped negative start %.1fs to 0", m.Start))
			m.Start = 0
		}
		if m.End > in.EpisodeDuration {
			val.Corrections = append(val.Corrections,
				fmt.Sprintf("Clamped end %.1fs to episode duration %.1fs", m.End, in.EpisodeDuration))
			m.End = in.EpisodeDuration
		}
		if m.End <= m.Start {
			v.log.Info("dropping inverted ad marker", "start", m.Start, "end", m.End)
			continue
		}
		m.Validation = val
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// mergeClose merges sorted neighbours whose gap is under the threshold.
// Reasons concatenate with " + ", confidence takes the maximum, and the
// merge is recorded as a correction.
func (v *Validator) mergeClose(markers []ads.Marker) []ads.Marker {
	var out []ads.Marker
	for _, m := range markers {
		n := len(out)
		if n == 0 {
			out = append(out, m)
			continue
		}
		prev := &out[n-1]
		gap := m.Start - prev.End
		if gap >= v.cfg.MergeGap {
			out = append(out, m)
			continue
		}

		if gap >= 0 {
			prev.Validation.Corrections = append(prev.Validation.Corrections,
				fmt.Sprintf("Merged ads with %.1fs gap", gap))
		} else {
			prev.Validation.Corrections = append(prev.Validation.Corrections,
				fmt.Sprintf("Merged overlapping ads (%.1fs overlap)", -gap))
		}
		if m.End > prev.End {
			prev.End = m.End
		}
		if m.Reason != "" && m.Reason != prev.Reason {
			if prev.Reason == "" {
				prev.Reason = m.Reason
			} else {
				prev.Reason += " + " + m.Reason
			}
		}
		if m.Confidence > prev.Confidence {
			prev.Confidence = m.Confidence
			prev.Validation.OriginalConfidence = m.Confidence
		}
		if prev.Sponsor == "" {
			prev.Sponsor = m.Sponsor
		}
		if m.EndText != "" {
			prev.EndText = m.EndText
		}
		prev.Validation.Corrections = append(prev.Validation.Corrections, m.Validation.Corrections...)
	}
	return out
}

func (v *Validator) flag(m *ads.Marker, severity ads.FlagSeverity, format string, args ...any) {
	m.Validation.Flags = append(m.Validation.Flags, ads.Flag{
		Severity: severity,
		Message:  fmt.Sprintf(format, args...),
	})
}

// score applies the fixed-order scoring rules, leaving the adjusted
// confidence and flags on the marker's Validation.
func (v *Validator) score(m *ads.Marker, in Input) {
	conf := m.Confidence
	dur := m.Duration()
	confirmed := sponsorConfirmed(m.Sponsor, in.Description)

	// Duration.
	switch {
	case dur < v.cfg.MinAdDuration:
		v.flag(m, ads.SeverityError, "Very short (%.1fs)", dur)
	case dur < v.cfg.ShortAdDuration:
		v.flag(m, ads.SeverityWarn, "Short ad (%.1fs)", dur)
	}
	maxDur := v.cfg.MaxAdDuration
	if confirmed {
		maxDur = v.cfg.MaxConfirmedAdDuration
		v.flag(m, ads.SeverityInfo, "sponsor confirmed: %s", m.Sponsor)
	}
	if dur > maxDur {
		v.flag(m, ads.SeverityError, "Very long (%.1fs)", dur)
	}

	// Confidence.
	switch {
	case m.Confidence < v.cfg.MinConfidence:
		v.flag(m, ads.SeverityError, "Very low confidence (%.2f)", m.Confidence)
	case m.Confidence < v.cfg.LowConfidence:
		v.flag(m, ads.SeverityWarn, "Low confidence (%.2f)", m.Confidence)
	}

	// Position.
	if in.EpisodeDuration > 0 {
		startPos := m.Start / in.EpisodeDuration
		endPos := m.End / in.EpisodeDuration
		mid := (startPos + endPos) / 2
		switch {
		case startPos <= 0.05:
			conf += 0.10
		case endPos >= 0.95:
			conf += 0.05
		case inAny(mid, [][2]float64{{0.20, 0.35}, {0.45, 0.55}, {0.65, 0.80}}):
			conf += 0.05
		}
	}

	// Reason quality.
	reason := strings.TrimSpace(m.Reason)
	if matchesAny(notAnAdPatterns, reason) {
		conf = 0
		v.flag(m, ads.SeverityError, "Reason indicates this is not an ad")
	} else {
		if _, vague := vagueReasons[strings.ToLower(reason)]; vague {
			conf -= 0.10
			v.flag(m, ads.SeverityWarn, "Vague reason: %q", reason)
		}
		if m.Sponsor != "" && strings.Contains(strings.ToLower(reason), strings.ToLower(m.Sponsor)) {
			conf += 0.10
		}
	}

	// Transcript verification.
	text := strings.ToLower(ads.TextInRange(in.Segments, m.Start, m.End))
	sponsorInText := m.Sponsor != "" &&
		strings.Contains(strings.ReplaceAll(text, " ", ""), strings.ToLower(strings.ReplaceAll(m.Sponsor, " ", "")))
	adSignal := adSignalPattern.MatchString(text)
	switch {
	case sponsorInText:
		conf += 0.10
	case adSignal:
		conf += 0.05
	case m.Confidence < 0.85:
		v.flag(m, ads.SeverityWarn, "No ad language found in transcript")
	}
	if m.EndText != "" && !strings.Contains(text, strings.ToLower(strings.TrimSpace(m.EndText))) {
		conf -= 0.05
		v.flag(m, ads.SeverityWarn, "Declared end text not found in transcript")
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	m.Validation.AdjustedConfidence = conf
}

// decide maps flags and adjusted confidence to a decision.
func (v *Validator) decide(m *ads.Marker) {
	val := m.Validation
	errorFlags := 0
	warnFlags := 0
	veryLongOnly := true
	for _, f := range val.Flags {
		switch f.Severity {
		case ads.SeverityError:
			errorFlags++
			if !strings.HasPrefix(f.Message, "Very long") {
				veryLongOnly = false
			}
		case ads.SeverityWarn:
			warnFlags++
		}
	}

	switch {
	case errorFlags > 0:
		// A single very-long finding on a high-confidence ad within the
		// confirmed-sponsor limit is still acceptable.
		if errorFlags == 1 && veryLongOnly &&
			val.AdjustedConfidence >= 0.90 && m.Duration() <= v.cfg.MaxConfirmedAdDuration {
			val.Decision = ads.DecisionAccept
			return
		}
		val.Decision = ads.DecisionReject
	case val.AdjustedConfidence < v.cfg.MinConfidence:
		val.Decision = ads.DecisionReject
	case val.AdjustedConfidence >= 0.85 && warnFlags == 0:
		val.Decision = ads.DecisionAccept
	case val.AdjustedConfidence >= 0.6:
		val.Decision = ads.DecisionAccept
	default:
		val.Decision = ads.DecisionReview
	}
}

// applyUserCorrections force-rejects ads overlapping a user-marked
// not-an-ad span by at least half of the shorter span.
func (v *Validator) applyUserCorrections(markers []ads.Marker, notAnAd []ads.Cut) {
	for i := range markers {
		for _, span := range notAnAd {
			if ads.OverlapFraction(markers[i].Start, markers[i].End, span.Start, span.End) < 0.5 {
				continue
			}
			markers[i].Validation.Decision = ads.DecisionReject
			v.flag(&markers[i], ads.SeverityError, "User marked this span as not an ad")
			break
		}
	}
}

// densityWarnings reports suspicious overall ad density. Warnings never
// change decisions.
func (v *Validator) densityWarnings(markers []ads.Marker, episodeDuration float64) []string {
	if episodeDuration <= 0 {
		return nil
	}
	var warnings []string

	total := 0.0
	for _, m := range markers {
		if m.Validation.Decision != ads.DecisionReject {
			total += m.Duration()
		}
	}
	if frac := total / episodeDuration; frac > 0.30 {
		warnings = append(warnings,
			fmt.Sprintf("Ads cover %.0f%% of the episode", frac*100))
	}

	// Fixed 5-minute windows by ad start.
	window := map[int]int{}
	for _, m := range markers {
		if m.Validation.Decision == ads.DecisionReject {
			continue
		}
		window[int(m.Start/300)]++
	}
	for w, n := range window {
		if n > 1 {
			warnings = append(warnings,
				fmt.Sprintf("%d ads within the 5-minute window starting at %ds", n, w*300))
		}
	}
	sort.Strings(warnings)
	return warnings
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func inAny(v float64, ranges [][2]float64) bool {
	for _, r := range ranges {
		if v >= r[0] && v <= r[1] {
			return true
		}
	}
	return false
}
