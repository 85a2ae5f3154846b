package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
model:
  manifest: /etc/oratio/model.yaml
`

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Engine.FailureBudget != DefaultFailureBudget {
		t.Errorf("failure_budget = %d, want %d", cfg.Engine.FailureBudget, DefaultFailureBudget)
	}
	if cfg.Engine.SuggestionDepth != DefaultSuggestionDepth {
		t.Errorf("suggestion_depth = %d, want %d", cfg.Engine.SuggestionDepth, DefaultSuggestionDepth)
	}
	if cfg.Engine.SuggestionWindow != DefaultSuggestionWindow {
		t.Errorf("suggestion_window = %v, want %v", cfg.Engine.SuggestionWindow, DefaultSuggestionWindow)
	}
	if cfg.Audio.PlaybackCapacity != DefaultPlaybackCapacity {
		t.Errorf("playback_capacity = %d, want %d", cfg.Audio.PlaybackCapacity, DefaultPlaybackCapacity)
	}
	if cfg.Audio.ResampleQuality != ResampleHigh {
		t.Errorf("resample_quality = %q, want high", cfg.Audio.ResampleQuality)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9000"
  auth_token: secret
  log_level: debug
model:
  manifest: model.yaml
  seed: 42
engine:
  step_deadline: 160ms
  failure_budget: 5
  suggestion_depth: 8
  suggestion_window: 1s
audio:
  playback_capacity: 16
  resample_quality: fast
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Server.AuthToken != "secret" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Model.Seed != 42 {
		t.Errorf("seed = %d, want 42", cfg.Model.Seed)
	}
	if cfg.Engine.StepDeadline != 160*time.Millisecond {
		t.Errorf("step_deadline = %v, want 160ms", cfg.Engine.StepDeadline)
	}
	if cfg.Engine.FailureBudget != 5 || cfg.Engine.SuggestionDepth != 8 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Audio.PlaybackCapacity != 16 || cfg.Audio.ResampleQuality != ResampleFast {
		t.Errorf("audio = %+v", cfg.Audio)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
model:
  manifest: model.yaml
  typo_field: true
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateReportsAllFailures(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: loud
  tls: {}
engine:
  suggestion_window: -1s
audio:
  playback_capacity: 1
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"server.log_level",
		"server.tls.cert_file",
		"server.tls.key_file",
		"model.manifest",
		"engine.suggestion_window",
		"audio.playback_capacity",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestLogLevelSlogMapping(t *testing.T) {
	t.Parallel()

	cases := map[LogLevel]slog.Level{
		LogDebug:        slog.LevelDebug,
		LogInfo:         slog.LevelInfo,
		LogWarn:         slog.LevelWarn,
		LogError:        slog.LevelError,
		LogLevel("bad"): slog.LevelInfo,
	}
	for in, want := range cases {
		if got := in.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
