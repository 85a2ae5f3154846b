// Package sim provides a deterministic, self-contained implementation of the
// model backend interfaces. It stands in for real codec/generator weights in
// tests, regression fixtures, and the development loop: sessions carry
// genuine persistent state across frames, enforce the exact token-count
// contracts, and are bit-reproducible for a given seed.
//
// Importing this package registers the backend under the name "sim".
package sim

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evandegr/oratio/pkg/model"
)

func init() {
	model.Register("sim", func(m *model.Manifest) (model.Backend, error) {
		cfg, err := describeWeights(m)
		if err != nil {
			return nil, err
		}
		return New(cfg), nil
	})
}

// describeWeights reports the parameters the "weights" provide. A sim weight
// file is a YAML-encoded model.Config; when the manifest names one, its
// contents win over the manifest declaration, which is exactly the
// disagreement the loader's cross-check exists to catch. Without a weight
// file the manifest declaration is taken at face value.
func describeWeights(m *model.Manifest) (model.Config, error) {
	path := m.Weights.Codec
	if path == "" {
		return m.Model, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("sim: read weights %q: %w", path, err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("sim: parse weights %q: %w", path, err)
	}
	return cfg, nil
}

// Backend is the sim model backend.
type Backend struct {
	cfg model.Config
	tok *Tokenizer
}

var _ model.Backend = (*Backend)(nil)

// New creates a sim backend whose weights provide exactly cfg.
func New(cfg model.Config) *Backend {
	return &Backend{cfg: cfg, tok: &Tokenizer{vocab: cfg.TextVocab}}
}

// Describe implements [model.Backend].
func (b *Backend) Describe() model.Config { return b.cfg }

// Tokenizer implements [model.Backend].
func (b *Backend) Tokenizer() model.Tokenizer { return b.tok }

// Close implements [model.Backend]. Nothing to unload.
func (b *Backend) Close() error { return nil }

// NewCodecSession implements [model.Backend].
func (b *Backend) NewCodecSession() (model.CodecSession, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid config: %w", err)
	}
	return &codecSession{cfg: b.cfg}, nil
}

// NewGenSession implements [model.Backend]. A zero seed selects
// nondeterministic sampling; any other seed is fully reproducible.
func (b *Backend) NewGenSession(seed uint64) (model.GenSession, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sim: invalid config: %w", err)
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &genSession{
		cfg: b.cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// ─── Codec session ───────────────────────────────────────────────────────────

// codecSession emulates a recurrent streaming codec. The encoder carries a
// rolling hash of everything it has seen; the decoder carries the final sample
// of the previous frame for continuity smoothing. Both make the session's
// output depend on its history the way real recurrent buffers do, so state
// mix-ups (unwarmed clones, skipped frames) show up as changed output.
type codecSession struct {
	cfg      model.Config
	encState uint64
	decLast  int16
	closed   bool
}

func (s *codecSession) EncodeStep(pcm []int16) ([]int32, error) {
	if s.closed {
		return nil, errors.New("sim: codec session closed")
	}
	if len(pcm) != s.cfg.FrameSize {
		return nil, fmt.Errorf("sim: encode frame of %d samples, want %d", len(pcm), s.cfg.FrameSize)
	}

	codes := make([]int32, s.cfg.TotalCodebooks)
	chunk := s.cfg.FrameSize / s.cfg.TotalCodebooks
	if chunk == 0 {
		chunk = 1
	}
	for cb := range codes {
		lo := cb * chunk
		hi := min(lo+chunk, len(pcm))
		var acc uint64
		for _, sample := range pcm[lo:hi] {
			acc = acc*31 + uint64(uint16(sample))
		}
		// Fold in the recurrent encoder state.
		acc ^= s.encState >> (uint(cb) % 17)
		codes[cb] = int32(acc % uint64(s.cfg.AudioVocab))
		s.encState = s.encState*6364136223846793005 + acc + 1
	}
	return codes, nil
}

func (s *codecSession) DecodeStep(codes []int32) ([]int16, error) {
	if s.closed {
		return nil, errors.New("sim: codec session closed")
	}
	if len(codes) != s.cfg.TotalCodebooks {
		return nil, fmt.Errorf("sim: decode %d codes, want %d", len(codes), s.cfg.TotalCodebooks)
	}
	for i, c := range codes {
		if c < 0 || int(c) >= s.cfg.AudioVocab {
			return nil, fmt.Errorf("sim: code %d out of range at codebook %d", c, i)
		}
	}

	pcm := make([]int16, s.cfg.FrameSize)
	chunk := s.cfg.FrameSize / s.cfg.TotalCodebooks
	if chunk == 0 {
		chunk = 1
	}
	level := s.decLast
	for cb, c := range codes {
		lo := cb * chunk
		hi := min(lo+chunk, len(pcm))
		// Each codebook contributes a level ramp; smoothing against the
		// previous sample keeps frame boundaries continuous.
		target := int16((int32(c)%256 - 128) * 64)
		for i := lo; i < hi; i++ {
			level = int16((int32(level)*7 + int32(target)) / 8)
			pcm[i] = level
		}
	}
	s.decLast = level
	return pcm, nil
}

func (s *codecSession) Close() error {
	s.closed = true
	return nil
}

// ─── Generator session ───────────────────────────────────────────────────────

type genSession struct {
	cfg    model.Config
	rng    *rand.Rand
	step   int64
	state  uint64
	closed bool
}

func (s *genSession) Step(in model.GenStep) (model.GenResult, error) {
	if s.closed {
		return model.GenResult{}, errors.New("sim: gen session closed")
	}
	if len(in.AudioCodes) != s.cfg.TotalCodebooks {
		return model.GenResult{}, fmt.Errorf("sim: step with %d audio codes, want %d",
			len(in.AudioCodes), s.cfg.TotalCodebooks)
	}
	for i, c := range in.AudioCodes {
		if c < 0 || int(c) >= s.cfg.AudioVocab {
			return model.GenResult{}, fmt.Errorf("sim: audio code %d out of range at codebook %d", c, i)
		}
	}

	// Fold real audio conditioning, history, and any suggestion tokens into
	// the autoregressive state.
	for _, c := range in.AudioCodes {
		s.state = s.state*1099511628211 + uint64(uint32(c))
	}
	s.state += uint64(uint32(in.PrevText)) * 2654435761
	for _, t := range in.Suggestion {
		s.state ^= uint64(uint32(t)) * 0x2545f4914f6cdd1d
	}

	out := model.GenResult{Audio: make([]int32, s.cfg.GeneratedCodebooks)}
	for i := range out.Audio {
		mix := s.state ^ (uint64(i+1) * 0x9e3779b97f4a7c15) ^ s.rng.Uint64()
		out.Audio[i] = int32(mix % uint64(s.cfg.AudioVocab))
	}

	if in.ForcedText != nil {
		out.Text = *in.ForcedText
	} else {
		out.Text = tokenPad
	}
	s.step++
	return out, nil
}

func (s *genSession) Close() error {
	s.closed = true
	return nil
}
