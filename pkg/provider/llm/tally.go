package llm

import (
	"context"
	"sync"
)

// Tally accumulates token usage across the LLM calls of one episode run.
// It is safe for concurrent use, but each pipeline run owns exactly one
// Tally carried on its context, so two concurrent runs never mingle totals.
type Tally struct {
	mu    sync.Mutex
	usage Usage
	calls int
}

// NewTally returns an empty Tally.
func NewTally() *Tally { return &Tally{} }

// Add records the usage of one completed call.
func (t *Tally) Add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.InputTokens += u.InputTokens
	t.usage.OutputTokens += u.OutputTokens
	t.calls++
}

// Totals returns the accumulated usage and the number of calls recorded.
func (t *Tally) Totals() (Usage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage, t.calls
}

type tallyKey struct{}

// WithTally returns a context carrying t. Providers wrapped by [Tracked]
// record usage into the tally of the calling context.
func WithTally(ctx context.Context, t *Tally) context.Context {
	return context.WithValue(ctx, tallyKey{}, t)
}

// TallyFrom returns the Tally carried by ctx, or nil if none is attached.
func TallyFrom(ctx context.Context) *Tally {
	t, _ := ctx.Value(tallyKey{}).(*Tally)
	return t
}

// Tracked wraps a Provider so that the usage of every successful call is
// added to the Tally carried on the call's context (if any). Calls made with
// a context that carries no tally are passed through unrecorded.
type Tracked struct {
	Provider
}

// Track returns p wrapped with context-tally accounting.
func Track(p Provider) *Tracked { return &Tracked{Provider: p} }

// Complete implements Provider.
func (t *Tracked) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := t.Provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if tally := TallyFrom(ctx); tally != nil {
		tally.Add(resp.Usage)
	}
	return resp, nil
}
