// Package stt defines the Provider interface for Speech-To-Text backends.
//
// An STT provider transcribes a local audio file into timestamped segments.
// Providers must return segments ordered by monotone non-decreasing start
// time, with End > Start and non-empty whitespace-trimmed text; silent
// stretches may be suppressed entirely.
//
// Implementors must be safe for concurrent use at the API level, though a
// backend may internally serialise calls when its model is not re-entrant.
package stt

import "context"

// Segment is a single timestamped span of transcribed speech. Times are in
// seconds from the start of the audio file.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe converts the audio file at audioPath into ordered segments.
	// The call blocks until transcription completes or ctx is cancelled.
	Transcribe(ctx context.Context, audioPath string) ([]Segment, error)
}
