package sim_test

import (
	"testing"

	"github.com/evandegr/oratio/pkg/model"
	"github.com/evandegr/oratio/pkg/model/sim"
)

func testConfig() model.Config {
	return model.Config{
		SampleRate:         24000,
		FrameSize:          1920,
		TextVocab:          48000,
		AudioVocab:         2048,
		TotalCodebooks:     32,
		GeneratedCodebooks: 16,
	}
}

func speechFrame(cfg model.Config, seed int) []int16 {
	pcm := make([]int16, cfg.FrameSize)
	for i := range pcm {
		pcm[i] = int16((i*7 + seed*131) % 4096)
	}
	return pcm
}

func TestCodecSession_TokenCountContract(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)
	cs, err := b.NewCodecSession()
	if err != nil {
		t.Fatalf("NewCodecSession: %v", err)
	}

	codes, err := cs.EncodeStep(speechFrame(cfg, 1))
	if err != nil {
		t.Fatalf("EncodeStep: %v", err)
	}
	if len(codes) != cfg.TotalCodebooks {
		t.Fatalf("encode produced %d codes, want %d", len(codes), cfg.TotalCodebooks)
	}
	pcm, err := cs.DecodeStep(codes)
	if err != nil {
		t.Fatalf("DecodeStep: %v", err)
	}
	if len(pcm) != cfg.FrameSize {
		t.Fatalf("decode produced %d samples, want %d", len(pcm), cfg.FrameSize)
	}
}

func TestCodecSession_RejectsWrongLengths(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)
	cs, _ := b.NewCodecSession()

	if _, err := cs.EncodeStep(make([]int16, cfg.FrameSize-1)); err == nil {
		t.Error("short frame accepted")
	}
	if _, err := cs.DecodeStep(make([]int32, cfg.TotalCodebooks-1)); err == nil {
		t.Error("short code tensor accepted")
	}
	if _, err := cs.DecodeStep(make([]int32, cfg.TotalCodebooks+1)); err == nil {
		t.Error("long code tensor accepted")
	}
	bad := make([]int32, cfg.TotalCodebooks)
	bad[3] = int32(cfg.AudioVocab)
	if _, err := cs.DecodeStep(bad); err == nil {
		t.Error("out-of-vocab code accepted")
	}
}

// TestCodecSession_StateCarriesAcrossFrames feeds the same frame twice and
// expects different tokens; a session without recurrent state would emit
// identical ones, which is exactly the failure mode warmup checks exist for.
func TestCodecSession_StateCarriesAcrossFrames(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)
	cs, _ := b.NewCodecSession()

	frame := speechFrame(cfg, 2)
	c1, err := cs.EncodeStep(frame)
	if err != nil {
		t.Fatalf("EncodeStep 1: %v", err)
	}
	c2, err := cs.EncodeStep(frame)
	if err != nil {
		t.Fatalf("EncodeStep 2: %v", err)
	}
	same := true
	for i := range c1 {
		if c1[i] != c2[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("identical frames produced identical codes; encoder state is not persistent")
	}
}

func TestCodecSession_FreshSessionsAreReproducible(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	run := func() [][]int32 {
		cs, _ := sim.New(cfg).NewCodecSession()
		var all [][]int32
		for i := range 5 {
			codes, err := cs.EncodeStep(speechFrame(cfg, i))
			if err != nil {
				t.Fatalf("EncodeStep: %v", err)
			}
			all = append(all, codes)
		}
		return all
	}

	a, b := run(), run()
	for f := range a {
		for i := range a[f] {
			if a[f][i] != b[f][i] {
				t.Fatalf("frame %d codebook %d differs between identical runs", f, i)
			}
		}
	}
}

func TestGenSession_SeededDeterminism(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)

	run := func(seed uint64) []model.GenResult {
		gs, err := b.NewGenSession(seed)
		if err != nil {
			t.Fatalf("NewGenSession: %v", err)
		}
		in := model.GenStep{AudioCodes: make([]int32, cfg.TotalCodebooks), PrevText: b.Tokenizer().BOS()}
		var out []model.GenResult
		for range 4 {
			res, err := gs.Step(in)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			in.PrevText = res.Text
			out = append(out, res)
		}
		return out
	}

	a1, a2 := run(7), run(7)
	for i := range a1 {
		for j := range a1[i].Audio {
			if a1[i].Audio[j] != a2[i].Audio[j] {
				t.Fatalf("step %d audio token %d differs for equal seeds", i, j)
			}
		}
	}

	diff := false
	b1 := run(8)
	for i := range a1 {
		for j := range a1[i].Audio {
			if a1[i].Audio[j] != b1[i].Audio[j] {
				diff = true
			}
		}
	}
	if !diff {
		t.Error("different seeds produced identical token streams")
	}
}

func TestGenSession_Contract(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)
	gs, _ := b.NewGenSession(1)

	res, err := gs.Step(model.GenStep{AudioCodes: make([]int32, cfg.TotalCodebooks)})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(res.Audio) != cfg.GeneratedCodebooks {
		t.Fatalf("generated %d audio tokens, want %d", len(res.Audio), cfg.GeneratedCodebooks)
	}

	if _, err := gs.Step(model.GenStep{AudioCodes: make([]int32, cfg.GeneratedCodebooks)}); err == nil {
		t.Error("step with generated-subset conditioning accepted; must require total codebooks")
	}
}

func TestGenSession_ForcedTextWinsOverSampling(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	b := sim.New(cfg)
	gs, _ := b.NewGenSession(3)

	forced := b.Tokenizer().Encode("hi")
	for _, want := range forced {
		tok := want
		res, err := gs.Step(model.GenStep{
			AudioCodes: make([]int32, cfg.TotalCodebooks),
			ForcedText: &tok,
		})
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if res.Text != want {
			t.Fatalf("forced step emitted %d, want %d", res.Text, want)
		}
	}
}

func TestTokenizer_RoundTrip(t *testing.T) {
	t.Parallel()

	tok := sim.New(testConfig()).Tokenizer()
	const phrase = "greetings, traveler"
	got := tok.Decode(tok.Encode(phrase))
	if got != phrase {
		t.Errorf("round trip = %q, want %q", got, phrase)
	}
	if tok.IsText(tok.BOS()) {
		t.Error("BOS must not be a text token")
	}
}
