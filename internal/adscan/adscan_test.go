package adscan_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/podscrub/internal/ads"
	"github.com/MrWong99/podscrub/internal/adscan"
	"github.com/MrWong99/podscrub/pkg/provider/llm"
	"github.com/MrWong99/podscrub/pkg/provider/llm/mock"
)

var testSegments = []ads.Segment{
	{Start: 0, End: 28.5, Text: "welcome to the show"},
	{Start: 30, End: 90, Text: "this episode is sponsored by BetterHelp"},
}

func TestDetect_Success(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Responses: []*llm.CompletionResponse{{
			Content: `[{"start": 30, "end": 90, "confidence": 0.95, "reason": "sponsor read", "sponsor": "BetterHelp"}]`,
		}},
	}
	c := adscan.New(provider)

	det, err := c.Detect(context.Background(), adscan.Request{
		Segments:     testSegments,
		PodcastName:  "Cooking Pod",
		EpisodeTitle: "Episode 12",
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det.Status != adscan.StatusSuccess {
		t.Errorf("status = %q", det.Status)
	}
	if len(det.Ads) != 1 || det.Ads[0].Stage != ads.StageFirstPass {
		t.Fatalf("ads = %+v", det.Ads)
	}
	if det.Ads[0].Sponsor != "BetterHelp" {
		t.Errorf("sponsor = %q", det.Ads[0].Sponsor)
	}

	req := provider.Calls[0].Req
	if !req.JSONMode {
		t.Error("JSON mode not requested")
	}
	if !strings.Contains(req.Messages[0].Content, "[30.000 - 90.000] this episode is sponsored by BetterHelp") {
		t.Errorf("transcript line missing from prompt:\n%s", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "Cooking Pod") {
		t.Error("podcast name missing from prompt")
	}
}

func TestDetect_TransportFailure(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Err: errors.New("connection refused")}
	c := adscan.New(provider)

	det, err := c.Detect(context.Background(), adscan.Request{Segments: testSegments})
	if err == nil {
		t.Fatal("expected error")
	}
	if det.Status != adscan.StatusFailed {
		t.Errorf("status = %q, want failed", det.Status)
	}
	if len(det.Ads) != 0 {
		t.Errorf("ads = %+v, want none", det.Ads)
	}
}

func TestDetect_MalformedResponseIsSuccessWithNoAds(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Responses: []*llm.CompletionResponse{{Content: "Sorry, I can't produce JSON today."}},
	}
	c := adscan.New(provider)

	det, err := c.Detect(context.Background(), adscan.Request{Segments: testSegments})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if det.Status != adscan.StatusSuccess {
		t.Errorf("status = %q, want success", det.Status)
	}
	if len(det.Ads) != 0 {
		t.Errorf("ads = %+v, want none", det.Ads)
	}
	if det.RawResponse == "" {
		t.Error("raw response not captured")
	}
}

func TestDetectBlind_UsesVerificationStage(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		Responses: []*llm.CompletionResponse{{Content: `[{"start": 200, "end": 230, "confidence": 0.8}]`}},
	}
	c := adscan.New(provider)

	det, err := c.DetectBlind(context.Background(), adscan.Request{Segments: testSegments})
	if err != nil {
		t.Fatalf("DetectBlind: %v", err)
	}
	if len(det.Ads) != 1 || det.Ads[0].Stage != ads.StageVerification {
		t.Fatalf("ads = %+v, want verification stage", det.Ads)
	}
	if !strings.Contains(provider.Calls[0].Req.SystemPrompt, "does not belong") {
		t.Error("blind read should use the verification-focused system prompt")
	}
}

func TestDetect_CustomTemplate(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{Responses: []*llm.CompletionResponse{{Content: `[]`}}}
	c := adscan.New(provider, adscan.WithPromptTemplate("SHOW={{podcast_name}} T={{transcript}}"))

	if _, err := c.Detect(context.Background(), adscan.Request{
		Segments:    testSegments,
		PodcastName: "MyShow",
	}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	got := provider.Calls[0].Req.Messages[0].Content
	if !strings.HasPrefix(got, "SHOW=MyShow T=[0.000 - 28.500]") {
		t.Errorf("custom template not applied: %s", got)
	}
}
