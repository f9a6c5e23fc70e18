// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/podscrub/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// AudioPath is the path passed to Transcribe.
	AudioPath string
}

// Provider is a mock implementation of stt.Provider.
//
// SegmentsByPath maps audio paths to canned results; Segments is the
// fallback for unmapped paths. Set Err to make every call fail.
type Provider struct {
	mu sync.Mutex

	// Segments is returned for any path not present in SegmentsByPath.
	Segments []stt.Segment

	// SegmentsByPath returns path-specific results.
	SegmentsByPath map[string][]stt.Segment

	// Err, when non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) ([]stt.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, Call{Ctx: ctx, AudioPath: audioPath})
	if p.Err != nil {
		return nil, p.Err
	}
	if segs, ok := p.SegmentsByPath[audioPath]; ok {
		return segs, nil
	}
	return p.Segments, nil
}

// CallCount returns the number of recorded calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
