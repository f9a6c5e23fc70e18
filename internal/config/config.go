// Package config provides the configuration schema, loader, and validation
// for the podscrub server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	LLM        LLMConfig        `yaml:"llm"`
	Editor     EditorConfig     `yaml:"editor"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	URLGuard   URLGuardConfig   `yaml:"url_guard"`
}

// ServerConfig holds network, path, and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP surface listens on.
	ListenAddr string `yaml:"listen_addr"`

	// BaseURL is the externally visible URL prefix used when rewriting
	// enclosure links.
	BaseURL string `yaml:"base_url"`

	// DataDir is the root directory for per-podcast files (processed audio,
	// feeds, artwork).
	DataDir string `yaml:"data_dir"`

	LogLevel LogLevel `yaml:"log_level"`
}

// StoreConfig selects and configures the state store backend.
type StoreConfig struct {
	// DSN is the PostgreSQL connection string. Empty selects the in-memory
	// store (useful for development and tests only — state is lost on exit).
	DSN string `yaml:"dsn"`
}

// TranscribeConfig configures the whisper transcription backend.
type TranscribeConfig struct {
	// ModelPath is the ggml model file loaded by whisper.cpp.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 code, or "auto" for detection.
	Language string `yaml:"language"`

	// InitialPrompt biases decoding toward domain vocabulary.
	InitialPrompt string `yaml:"initial_prompt"`
}

// LLMConfig configures the ad-classification model.
type LLMConfig struct {
	// Provider selects the backend: "anthropic", "openai", "gemini",
	// "ollama", "deepseek", "mistral", "groq", "llamacpp" use the native
	// multi-provider backend; "openai-compatible" uses the OpenAI client
	// against BaseURL.
	Provider string `yaml:"provider"`

	// Model is the model identifier (e.g., "claude-sonnet-4-5").
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// BaseURL points "openai-compatible" at a self-hosted server.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each completion call.
	Timeout time.Duration `yaml:"timeout"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EditorConfig configures the ffmpeg splicing stage.
type EditorConfig struct {
	// FFmpegPath and FFprobePath default to PATH resolution.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// Bitrate is the re-encode target (e.g., "128k").
	Bitrate string `yaml:"bitrate"`

	// MarkerPath is the audio file mixed in where an ad was removed.
	MarkerPath string `yaml:"marker_path"`
}

// ClassifierConfig tunes the LLM ad classifier.
type ClassifierConfig struct {
	// UserPromptTemplate overrides the built-in template. It is bound to
	// {{podcast_name}}, {{episode_title}}, and {{transcript}}.
	UserPromptTemplate string `yaml:"user_prompt_template"`

	// BlindSecondPass enables an additional pre-edit LLM read with the
	// verification-focused prompt, fused with the first by deduplication.
	BlindSecondPass bool `yaml:"blind_second_pass"`

	// SameSponsorMaxGap is the maximum gap between two ads of the same
	// sponsor that still merges them.
	SameSponsorMaxGap time.Duration `yaml:"same_sponsor_max_gap"`
}

// ValidatorConfig carries the tunable validation thresholds. Zero values
// select the documented defaults.
type ValidatorConfig struct {
	// MinAdDuration below which an ad is an ERROR (default 7s).
	MinAdDuration time.Duration `yaml:"min_ad_duration"`

	// ShortAdDuration below which an ad is a WARN (default 30s).
	ShortAdDuration time.Duration `yaml:"short_ad_duration"`

	// MaxAdDuration above which an ad is an ERROR (default 300s) unless the
	// sponsor is confirmed, in which case MaxConfirmedAdDuration applies
	// (default 900s).
	MaxAdDuration          time.Duration `yaml:"max_ad_duration"`
	MaxConfirmedAdDuration time.Duration `yaml:"max_confirmed_ad_duration"`

	// MergeGap is the gap below which adjacent ads merge (default 5s).
	MergeGap time.Duration `yaml:"merge_gap"`

	// MinConfidence below which an ad is an ERROR (default 0.3);
	// LowConfidence below which it is a WARN (default 0.5).
	MinConfidence float64 `yaml:"min_confidence"`
	LowConfidence float64 `yaml:"low_confidence"`
}

// SchedulerConfig tunes the processing queue.
type SchedulerConfig struct {
	// MaxRetries before an episode becomes permanently failed (default 3).
	MaxRetries int `yaml:"max_retries"`

	// RetryWaits are the minimum waits before resetting a failed entry with
	// 1, 2, and >=3 attempts (defaults 5m, 15m, 45m).
	RetryWaits []time.Duration `yaml:"retry_waits"`

	// MaxAge beyond which failed entries are never reset (default 48h).
	MaxAge time.Duration `yaml:"max_age"`

	// RefreshInterval between feed refresh sweeps (default 15m).
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// Retention is how long processed episodes are kept (default 24h).
	Retention time.Duration `yaml:"retention"`
}

// URLGuardConfig tunes SSRF validation.
type URLGuardConfig struct {
	// AllowedPorts replaces the default allow-list [80, 443, 8080, 8443].
	AllowedPorts []int `yaml:"allowed_ports"`
}
