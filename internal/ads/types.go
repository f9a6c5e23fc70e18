// Package ads defines the domain types shared by the ad-removal pipeline:
// transcript segments, ad markers, validation outcomes, and the interval and
// timestamp arithmetic used to reason about them.
//
// All times are float64 seconds. Unless a function is explicitly documented
// as working in processed-audio coordinates, times refer to the original
// (unedited) audio. The two coordinate systems are reconciled by [CutSet].
package ads

import "fmt"

// Segment is a single timestamped span of transcript text. Segments produced
// by a transcription provider are ordered by Start, have End > Start and
// non-empty trimmed Text, and never overlap.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Stage identifies which detector produced an ad marker.
type Stage string

const (
	StageFirstPass    Stage = "first_pass"
	StagePreroll      Stage = "heuristic_preroll"
	StagePostroll     Stage = "heuristic_postroll"
	StageVerification Stage = "verification"
)

// Decision is the validator's verdict for a single ad marker.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReview Decision = "REVIEW"
	DecisionReject Decision = "REJECT"
)

// FlagSeverity classifies a validation flag.
type FlagSeverity string

const (
	SeverityInfo  FlagSeverity = "INFO"
	SeverityWarn  FlagSeverity = "WARN"
	SeverityError FlagSeverity = "ERROR"
)

// Flag is a single finding recorded by the validator against a marker.
type Flag struct {
	Severity FlagSeverity `json:"severity"`
	Message  string       `json:"message"`
}

// Validation carries the validator's outcome for one marker. It is attached
// to the marker after validation and persisted alongside it so that the UI
// can show why a marker was accepted or rejected.
type Validation struct {
	Decision           Decision `json:"decision"`
	AdjustedConfidence float64  `json:"adjusted_confidence"`
	OriginalConfidence float64  `json:"original_confidence"`
	Flags              []Flag   `json:"flags,omitempty"`
	Corrections        []string `json:"corrections,omitempty"`
}

// Marker is a detected advertisement: a half-open interval [Start, End) in
// original-audio seconds. After validation and merging, markers are ordered
// and non-overlapping, and satisfy 0 <= Start < End <= episode duration.
type Marker struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	Sponsor    string  `json:"sponsor,omitempty"`

	// EndText, when present, is the transcript text the model claims the ad
	// ends with. The validator checks it against the actual transcript.
	EndText string `json:"end_text,omitempty"`

	Stage Stage `json:"detection_stage"`

	// Pass tags the marker's origin when two pre-edit reads are fused:
	// "1", "2", or "merged". Empty for single-read detections.
	Pass string `json:"pass,omitempty"`

	Validation *Validation `json:"validation,omitempty"`
}

// Duration returns the marker length in seconds.
func (m Marker) Duration() float64 { return m.End - m.Start }

func (m Marker) String() string {
	return fmt.Sprintf("[%.1f-%.1f %s conf=%.2f]", m.Start, m.End, m.Stage, m.Confidence)
}
