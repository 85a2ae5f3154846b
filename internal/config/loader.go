package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	if cfg.Model.Manifest == "" {
		errs = append(errs, errors.New("model.manifest is required"))
	}

	if cfg.Engine.StepDeadline < 0 {
		errs = append(errs, fmt.Errorf("engine.step_deadline must not be negative, got %v", cfg.Engine.StepDeadline))
	}
	if cfg.Engine.FailureBudget < 1 {
		errs = append(errs, fmt.Errorf("engine.failure_budget must be at least 1, got %d", cfg.Engine.FailureBudget))
	}
	if cfg.Engine.SuggestionDepth < 1 {
		errs = append(errs, fmt.Errorf("engine.suggestion_depth must be at least 1, got %d", cfg.Engine.SuggestionDepth))
	}
	if cfg.Engine.SuggestionWindow <= 0 {
		errs = append(errs, fmt.Errorf("engine.suggestion_window must be positive, got %v", cfg.Engine.SuggestionWindow))
	}

	if cfg.Audio.PlaybackCapacity < 2 {
		errs = append(errs, fmt.Errorf("audio.playback_capacity must be at least 2, got %d", cfg.Audio.PlaybackCapacity))
	}
	if !cfg.Audio.ResampleQuality.IsValid() {
		errs = append(errs, fmt.Errorf("audio.resample_quality %q is invalid; valid values: high, fast", cfg.Audio.ResampleQuality))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
