package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/podscrub/internal/config"
)

const minimalYAML = `
llm:
  model: claude-sonnet-4-5
`

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.BaseURL != "http://localhost:8000" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Editor.Bitrate != "128k" {
		t.Errorf("Bitrate = %q", cfg.Editor.Bitrate)
	}
	if cfg.Scheduler.Retention != 24*time.Hour {
		t.Errorf("Retention = %v", cfg.Scheduler.Retention)
	}
	if want := []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}; len(cfg.Scheduler.RetryWaits) != 3 ||
		cfg.Scheduler.RetryWaits[0] != want[0] || cfg.Scheduler.RetryWaits[2] != want[2] {
		t.Errorf("RetryWaits = %v", cfg.Scheduler.RetryWaits)
	}
	if len(cfg.URLGuard.AllowedPorts) != 4 {
		t.Errorf("AllowedPorts = %v", cfg.URLGuard.AllowedPorts)
	}
	if cfg.Validator.MergeGap != 5*time.Second {
		t.Errorf("MergeGap = %v", cfg.Validator.MergeGap)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("llm:\n  model: m\n  bogus_key: true\n"))
	if err == nil {
		t.Fatal("expected strict decoding to reject unknown field")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.LLM.Provider = "openai-compatible"
	cfg.LLM.BaseURL = ""
	cfg.LLM.Model = ""
	cfg.LLM.Temperature = 3

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"llm.base_url", "llm.model", "llm.temperature"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %v", want, msg)
		}
	}
}

func TestLoadFromReader_OverridesRespected(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
llm:
  model: gpt-4o
  provider: openai-compatible
  base_url: http://localhost:1234/v1
scheduler:
  retry_waits: [1m, 2m, 3m]
  max_age: 12h
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Scheduler.MaxAge != 12*time.Hour {
		t.Errorf("MaxAge = %v", cfg.Scheduler.MaxAge)
	}
	if cfg.Scheduler.RetryWaits[1] != 2*time.Minute {
		t.Errorf("RetryWaits = %v", cfg.Scheduler.RetryWaits)
	}
}
