// Package config provides the configuration schema and loader for the Oratio
// speech engine.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the Oratio server.
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

// ResampleQuality selects the resampler filter profile.
type ResampleQuality string

const (
	ResampleHigh ResampleQuality = "high"
	ResampleFast ResampleQuality = "fast"
)

// IsValid reports whether q is a recognised resample quality.
func (q ResampleQuality) IsValid() bool {
	return q == ResampleHigh || q == ResampleFast
}

// Config is the root configuration structure for Oratio.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`
	Model  Model  `yaml:"model"`
	Engine Engine `yaml:"engine"`
	Audio  Audio  `yaml:"audio"`
}

// Server holds network, auth, and logging settings.
type Server struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// AuthToken is the bearer token required by the control-plane API.
	// When empty, the suggestion endpoint rejects all requests.
	AuthToken string `yaml:"auth_token"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLS `yaml:"tls"`
}

// TLS holds TLS certificate paths for enabling HTTPS.
type TLS struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// Model locates the model to serve.
type Model struct {
	// Manifest is the path to the model manifest YAML file.
	Manifest string `yaml:"manifest"`

	// Seed fixes the sampling seed for reproducible output. Zero means a
	// fresh random seed per conversation.
	Seed uint64 `yaml:"seed"`
}

// Engine tunes the generation loop and suggestion channel.
type Engine struct {
	// StepDeadline bounds one generation step. Zero selects a default from
	// the detected compute capability.
	StepDeadline time.Duration `yaml:"step_deadline"`

	// FailureBudget is the number of consecutive step failures tolerated
	// before the engine is declared dead.
	FailureBudget int `yaml:"failure_budget"`

	// SuggestionDepth is the suggestion queue capacity.
	SuggestionDepth int `yaml:"suggestion_depth"`

	// SuggestionWindow is the minimum generated-audio time between consumed
	// suggestions.
	SuggestionWindow time.Duration `yaml:"suggestion_window"`
}

// Audio tunes the playback buffer and resampling stages.
type Audio struct {
	// PlaybackCapacity is the playback buffer depth in frames.
	PlaybackCapacity int `yaml:"playback_capacity"`

	// ResampleQuality selects the resampler filter profile.
	ResampleQuality ResampleQuality `yaml:"resample_quality"`
}

// Default values applied by [ApplyDefaults] when the corresponding field is
// unset.
const (
	DefaultListenAddr       = ":8080"
	DefaultFailureBudget    = 3
	DefaultSuggestionDepth  = 5
	DefaultSuggestionWindow = 2 * time.Second
	DefaultPlaybackCapacity = 32
)

// ApplyDefaults fills unset fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Engine.FailureBudget == 0 {
		cfg.Engine.FailureBudget = DefaultFailureBudget
	}
	if cfg.Engine.SuggestionDepth == 0 {
		cfg.Engine.SuggestionDepth = DefaultSuggestionDepth
	}
	if cfg.Engine.SuggestionWindow == 0 {
		cfg.Engine.SuggestionWindow = DefaultSuggestionWindow
	}
	if cfg.Audio.PlaybackCapacity == 0 {
		cfg.Audio.PlaybackCapacity = DefaultPlaybackCapacity
	}
	if cfg.Audio.ResampleQuality == "" {
		cfg.Audio.ResampleQuality = ResampleHigh
	}
}

// SlogLevel maps the configured level to a slog level. Unknown values map
// to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
