// Package model defines the interface to the neural speech stack: the
// streaming audio codec and the autoregressive generator.
//
// The networks themselves are external collaborators. A [Backend] binds loaded
// weights and exposes session constructors; this package specifies the exact
// contract sessions must honour (token counts per frame, persistent state per
// session, deterministic seeding) and validates a loaded backend against the
// artifact manifest before any audio is processed. A codebook or vocabulary
// disagreement between manifest and weights is fatal at load time; it is
// never reconciled by slicing at generation time.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfigMismatch indicates a disagreement between the artifact manifest and
// what the loaded weights actually provide. Fatal at load; no retry.
var ErrConfigMismatch = errors.New("model: config mismatch")

// Config declares the fixed parameters of a loaded speech model.
type Config struct {
	// SampleRate is the model's native PCM rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per codec frame (e.g. 1920 = 80 ms
	// at 24 kHz).
	FrameSize int `yaml:"frame_size"`

	// TextVocab is the generator's text vocabulary size.
	TextVocab int `yaml:"text_vocab"`

	// AudioVocab is the per-codebook audio vocabulary size.
	AudioVocab int `yaml:"audio_vocab"`

	// TotalCodebooks is the number of discrete tokens the codec produces and
	// consumes per frame.
	TotalCodebooks int `yaml:"total_codebooks"`

	// GeneratedCodebooks is the subset of TotalCodebooks the generator emits
	// per step. The complement is passed through from the encoded input.
	GeneratedCodebooks int `yaml:"generated_codebooks"`

	// ConditioningDims is the optional width of the extra conditioning
	// vector. Zero when the model takes no auxiliary conditioning.
	ConditioningDims int `yaml:"conditioning_dims"`
}

// FrameDuration returns the wall-clock span of one codec frame.
func (c Config) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks internal coherence of the config itself.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("frame_size %d must be positive", c.FrameSize))
	}
	if c.TextVocab <= 0 {
		errs = append(errs, fmt.Errorf("text_vocab %d must be positive", c.TextVocab))
	}
	if c.AudioVocab <= 0 {
		errs = append(errs, fmt.Errorf("audio_vocab %d must be positive", c.AudioVocab))
	}
	if c.TotalCodebooks <= 0 {
		errs = append(errs, fmt.Errorf("total_codebooks %d must be positive", c.TotalCodebooks))
	}
	if c.GeneratedCodebooks <= 0 || c.GeneratedCodebooks > c.TotalCodebooks {
		errs = append(errs, fmt.Errorf("generated_codebooks %d must be in (0, %d]",
			c.GeneratedCodebooks, c.TotalCodebooks))
	}
	if c.ConditioningDims < 0 {
		errs = append(errs, fmt.Errorf("conditioning_dims %d must not be negative", c.ConditioningDims))
	}
	return errors.Join(errs...)
}

// CodecSession is one live instance of the streaming codec. It owns the
// persistent encoder/decoder recurrent buffers; exactly one session exists per
// conversation and it is never shared or cloned. Sessions are not safe for
// concurrent use; the conversation loop is the sole caller.
type CodecSession interface {
	// EncodeStep tokenises one frame of model-rate PCM into exactly
	// TotalCodebooks discrete tokens. pcm must be exactly FrameSize samples.
	EncodeStep(pcm []int16) ([]int32, error)

	// DecodeStep is the inverse: exactly TotalCodebooks tokens in, exactly
	// FrameSize samples out.
	DecodeStep(codes []int32) ([]int16, error)

	// Close releases the session's recurrent buffers.
	Close() error
}

// GenStep is the input to one autoregressive generator step.
type GenStep struct {
	// AudioCodes are the TotalCodebooks tokens encoded from the real input
	// frame. They are the genuine audio conditioning for this step; padding
	// or silence substitutes are a contract violation, not an optimisation.
	AudioCodes []int32

	// PrevText is the previous text token (the model's BOS token on the
	// first step).
	PrevText int32

	// ForcedText, when non-nil, overrides the sampled text token so a
	// scripted utterance can be driven through the model while real audio
	// conditioning still flows in.
	ForcedText *int32

	// Suggestion carries tokenized external hint text merged as extra
	// conditioning context. Nil on most steps.
	Suggestion []int32
}

// GenResult is the output of one generator step.
type GenResult struct {
	// Text is the next text token.
	Text int32

	// Audio holds exactly GeneratedCodebooks tokens.
	Audio []int32
}

// GenSession is one live autoregressive generation context. Like
// [CodecSession] it is per-conversation, stateful, and single-caller.
type GenSession interface {
	// Step advances the context by one frame.
	Step(in GenStep) (GenResult, error)

	// Close releases the generation context.
	Close() error
}

// Tokenizer converts between text and generator text tokens.
type Tokenizer interface {
	Encode(text string) []int32
	Decode(tokens []int32) string

	// BOS returns the beginning-of-stream text token.
	BOS() int32

	// IsText reports whether tok decodes to transcript text (as opposed to
	// padding or control tokens).
	IsText(tok int32) bool
}

// Backend binds loaded codec and generator weights. Describe reports the
// parameters the weights actually provide, which the loader cross-checks
// against the manifest.
type Backend interface {
	// Describe returns the configuration baked into the loaded weights.
	Describe() Config

	// NewCodecSession creates a fresh codec session with uninitialised
	// recurrent state. The caller must warm it before real frames.
	NewCodecSession() (CodecSession, error)

	// NewGenSession creates a fresh generation context. seed makes sampling
	// deterministic; pass 0 for nondeterministic production sampling.
	NewGenSession(seed uint64) (GenSession, error)

	// Tokenizer returns the text tokenizer shipped with the weights.
	Tokenizer() Tokenizer

	// Close unloads the weights.
	Close() error
}
