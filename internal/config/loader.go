package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// validLLMProviders lists the accepted llm.provider values.
var validLLMProviders = []string{
	"anthropic", "openai", "gemini", "ollama", "deepseek", "mistral", "groq",
	"llamacpp", "openai-compatible",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field that has a documented default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8000"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:8000"
	}
	if cfg.Server.DataDir == "" {
		cfg.Server.DataDir = "data"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Transcribe.Language == "" {
		cfg.Transcribe.Language = "en"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Editor.FFmpegPath == "" {
		cfg.Editor.FFmpegPath = "ffmpeg"
	}
	if cfg.Editor.FFprobePath == "" {
		cfg.Editor.FFprobePath = "ffprobe"
	}
	if cfg.Editor.Bitrate == "" {
		cfg.Editor.Bitrate = "128k"
	}
	if cfg.Classifier.SameSponsorMaxGap == 0 {
		cfg.Classifier.SameSponsorMaxGap = 2 * time.Minute
	}
	if cfg.Validator.MinAdDuration == 0 {
		cfg.Validator.MinAdDuration = 7 * time.Second
	}
	if cfg.Validator.ShortAdDuration == 0 {
		cfg.Validator.ShortAdDuration = 30 * time.Second
	}
	if cfg.Validator.MaxAdDuration == 0 {
		cfg.Validator.MaxAdDuration = 5 * time.Minute
	}
	if cfg.Validator.MaxConfirmedAdDuration == 0 {
		cfg.Validator.MaxConfirmedAdDuration = 15 * time.Minute
	}
	if cfg.Validator.MergeGap == 0 {
		cfg.Validator.MergeGap = 5 * time.Second
	}
	if cfg.Validator.MinConfidence == 0 {
		cfg.Validator.MinConfidence = 0.3
	}
	if cfg.Validator.LowConfidence == 0 {
		cfg.Validator.LowConfidence = 0.5
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if len(cfg.Scheduler.RetryWaits) == 0 {
		cfg.Scheduler.RetryWaits = []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute}
	}
	if cfg.Scheduler.MaxAge == 0 {
		cfg.Scheduler.MaxAge = 48 * time.Hour
	}
	if cfg.Scheduler.RefreshInterval == 0 {
		cfg.Scheduler.RefreshInterval = 15 * time.Minute
	}
	if cfg.Scheduler.Retention == 0 {
		cfg.Scheduler.Retention = 24 * time.Hour
	}
	if len(cfg.URLGuard.AllowedPorts) == 0 {
		cfg.URLGuard.AllowedPorts = []int{80, 443, 8080, 8443}
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validProvider := false
	for _, p := range validLLMProviders {
		if cfg.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: %v", cfg.LLM.Provider, validLLMProviders))
	}
	if cfg.LLM.Provider == "openai-compatible" && cfg.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required when llm.provider is openai-compatible"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model must be set"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range [0, 2]", cfg.LLM.Temperature))
	}

	if cfg.Validator.MinConfidence > cfg.Validator.LowConfidence {
		errs = append(errs, fmt.Errorf("validator.min_confidence %v must not exceed validator.low_confidence %v",
			cfg.Validator.MinConfidence, cfg.Validator.LowConfidence))
	}
	if cfg.Validator.MinAdDuration > cfg.Validator.ShortAdDuration {
		errs = append(errs, fmt.Errorf("validator.min_ad_duration %v must not exceed validator.short_ad_duration %v",
			cfg.Validator.MinAdDuration, cfg.Validator.ShortAdDuration))
	}

	if len(cfg.Scheduler.RetryWaits) != 3 {
		errs = append(errs, fmt.Errorf("scheduler.retry_waits must list exactly 3 durations, got %d", len(cfg.Scheduler.RetryWaits)))
	}
	for _, p := range cfg.URLGuard.AllowedPorts {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("url_guard.allowed_ports contains invalid port %d", p))
		}
	}

	return errors.Join(errs...)
}
