package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest is the configuration document shipped alongside model weights. It
// declares what the weights are supposed to contain; [Open] refuses to hand
// out a backend whose weights disagree with it.
type Manifest struct {
	// Name is a human-readable model identifier.
	Name string `yaml:"name"`

	// Backend selects the registered inference backend (e.g. "sim").
	Backend string `yaml:"backend"`

	// Model declares the expected model parameters.
	Model Config `yaml:"model"`

	// Weights holds backend-specific weight file paths, relative to the
	// manifest location.
	Weights WeightPaths `yaml:"weights"`
}

// WeightPaths locates the weight files of an artifact.
type WeightPaths struct {
	Codec     string `yaml:"codec"`
	Generator string `yaml:"generator"`
}

// LoadManifest reads and validates the YAML manifest at path. Relative weight
// paths are resolved against the manifest directory.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open manifest %q: %w", path, err)
	}
	defer f.Close()

	m, err := LoadManifestFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("model: parse manifest %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	if m.Weights.Codec != "" && !filepath.IsAbs(m.Weights.Codec) {
		m.Weights.Codec = filepath.Join(dir, m.Weights.Codec)
	}
	if m.Weights.Generator != "" && !filepath.IsAbs(m.Weights.Generator) {
		m.Weights.Generator = filepath.Join(dir, m.Weights.Generator)
	}
	return m, nil
}

// LoadManifestFromReader decodes a YAML manifest from r and validates it.
// Useful in tests where manifests are constructed from string literals.
func LoadManifestFromReader(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("model: decode manifest yaml: %w", err)
	}

	var errs []error
	if m.Backend == "" {
		errs = append(errs, errors.New("backend must be set"))
	}
	if err := m.Model.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// Open constructs the backend named by the manifest and verifies that the
// loaded weights match every declared parameter. Any disagreement returns an
// error wrapping [ErrConfigMismatch] that names each offending field; no
// partially validated backend is ever returned.
func Open(m *Manifest) (Backend, error) {
	b, err := newBackend(m)
	if err != nil {
		return nil, err
	}

	if err := verify(m.Model, b.Describe()); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// verify compares the manifest's declared parameters against what the loaded
// weights report. Every field must match exactly.
func verify(want, got Config) error {
	var errs []error
	check := func(field string, w, g int) {
		if w != g {
			errs = append(errs, fmt.Errorf("%w: %s: manifest declares %d, weights provide %d",
				ErrConfigMismatch, field, w, g))
		}
	}
	check("sample_rate", want.SampleRate, got.SampleRate)
	check("frame_size", want.FrameSize, got.FrameSize)
	check("text_vocab", want.TextVocab, got.TextVocab)
	check("audio_vocab", want.AudioVocab, got.AudioVocab)
	check("total_codebooks", want.TotalCodebooks, got.TotalCodebooks)
	check("generated_codebooks", want.GeneratedCodebooks, got.GeneratedCodebooks)
	check("conditioning_dims", want.ConditioningDims, got.ConditioningDims)
	return errors.Join(errs...)
}
