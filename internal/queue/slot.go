// Package queue serializes episode processing behind a single slot and runs
// the scheduler loops: picking queued work, resetting failed entries with
// backoff, refreshing feeds, and sweeping retention.
package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned by Acquire while another episode holds the slot.
var ErrBusy = errors.New("queue: processing slot busy")

// Holder identifies the episode currently holding the slot.
type Holder struct {
	PodcastSlug string
	EpisodeID   string
	AcquiredAt  time.Time
}

// Slot is the single processing slot. Only one episode may be in the heavy
// transcribe-to-edit pipeline at a time.
type Slot struct {
	mu     sync.Mutex
	holder *Holder
}

// NewSlot returns a free Slot.
func NewSlot() *Slot { return &Slot{} }

// Acquire claims the slot for an episode. It returns ErrBusy without
// blocking when any episode, including the same one, already holds it.
func (s *Slot) Acquire(slug, episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder != nil {
		return ErrBusy
	}
	s.holder = &Holder{PodcastSlug: slug, EpisodeID: episodeID, AcquiredAt: time.Now()}
	return nil
}

// Release frees the slot. Releasing a free slot is a no-op.
func (s *Slot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holder = nil
}

// Holder returns the current holder, if any.
func (s *Slot) Holder() (Holder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == nil {
		return Holder{}, false
	}
	return *s.holder, true
}
