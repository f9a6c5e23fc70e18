package llm_test

import (
	"context"
	"sync"
	"testing"

	"github.com/MrWong99/podscrub/pkg/provider/llm"
)

// countingProvider returns a fixed usage per call.
type countingProvider struct {
	usage llm.Usage
}

func (c *countingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "{}", Usage: c.usage}, nil
}

func TestTally_AccumulatesAcrossCalls(t *testing.T) {
	t.Parallel()

	p := llm.Track(&countingProvider{usage: llm.Usage{InputTokens: 100, OutputTokens: 7}})
	tally := llm.NewTally()
	ctx := llm.WithTally(context.Background(), tally)

	for i := 0; i < 3; i++ {
		if _, err := p.Complete(ctx, llm.CompletionRequest{}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	usage, calls := tally.Totals()
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if usage.InputTokens != 300 || usage.OutputTokens != 21 {
		t.Errorf("usage = %+v, want {300 21}", usage)
	}
}

// Two concurrent runs with their own tallies must see only their own totals.
func TestTally_RunIsolation(t *testing.T) {
	t.Parallel()

	runs := []llm.Usage{
		{InputTokens: 11, OutputTokens: 3},
		{InputTokens: 500, OutputTokens: 90},
	}

	tallies := make([]*llm.Tally, len(runs))
	var wg sync.WaitGroup
	for i, u := range runs {
		tallies[i] = llm.NewTally()
		p := llm.Track(&countingProvider{usage: u})
		ctx := llm.WithTally(context.Background(), tallies[i])

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := p.Complete(ctx, llm.CompletionRequest{}); err != nil {
					t.Errorf("Complete: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for i, u := range runs {
		usage, calls := tallies[i].Totals()
		if calls != 50 {
			t.Errorf("run %d: calls = %d, want 50", i, calls)
		}
		if usage.InputTokens != 50*u.InputTokens || usage.OutputTokens != 50*u.OutputTokens {
			t.Errorf("run %d: usage = %+v leaked across runs", i, usage)
		}
	}
}

func TestTally_NoTallyOnContext(t *testing.T) {
	t.Parallel()

	p := llm.Track(&countingProvider{usage: llm.Usage{InputTokens: 1, OutputTokens: 1}})
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete without tally: %v", err)
	}
	if got := llm.TallyFrom(context.Background()); got != nil {
		t.Errorf("TallyFrom(background) = %v, want nil", got)
	}
}

func TestCoerceJSONMode(t *testing.T) {
	t.Parallel()

	req := llm.CompletionRequest{SystemPrompt: "classify ads", JSONMode: true}
	got := llm.CoerceJSONMode(req)
	if got.SystemPrompt == req.SystemPrompt {
		// CoerceJSONMode works on a copy; the original must be untouched and
		// the returned prompt must carry the instruction block.
		t.Error("system prompt not extended")
	}
	plain := llm.CompletionRequest{SystemPrompt: "classify ads"}
	if got := llm.CoerceJSONMode(plain); got.SystemPrompt != "classify ads" {
		t.Errorf("non-JSON request modified: %q", got.SystemPrompt)
	}
}
