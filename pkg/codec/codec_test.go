package codec_test

import (
	"errors"
	"testing"

	"github.com/evandegr/oratio/pkg/audio"
	"github.com/evandegr/oratio/pkg/codec"
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

func newStream(t *testing.T) *codec.Stream {
	t.Helper()
	s, err := codec.NewStream(sim.New(testConfig()))
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func frame(seq int64) audio.Frame {
	pcm := make([]int16, 1920)
	for i := range pcm {
		pcm[i] = int16((i + int(seq)*97) % 2000)
	}
	return audio.Frame{PCM: pcm, SampleRate: 24000, Seq: seq}
}

func TestStream_EncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	for seq := int64(0); seq < 5; seq++ {
		codes, err := s.Encode(frame(seq))
		if err != nil {
			t.Fatalf("Encode %d: %v", seq, err)
		}
		out, err := s.Decode(codes)
		if err != nil {
			t.Fatalf("Decode %d: %v", seq, err)
		}
		if len(out.PCM) != 1920 {
			t.Fatalf("decoded frame %d has %d samples, want 1920", seq, len(out.PCM))
		}
		if out.Seq != seq {
			t.Fatalf("decoded seq = %d, want %d", out.Seq, seq)
		}
	}
}

// TestStream_WarmTwiceIsIdempotent warms an already-warmed stream mid-run and
// verifies subsequent decode output is unchanged against a control stream.
func TestStream_WarmTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	control := newStream(t)
	rewarmed := newStream(t)

	for seq := int64(0); seq < 4; seq++ {
		if seq == 2 {
			if err := rewarmed.Warm(); err != nil {
				t.Fatalf("second Warm: %v", err)
			}
		}
		cc, err := control.Encode(frame(seq))
		if err != nil {
			t.Fatalf("control Encode: %v", err)
		}
		rc, err := rewarmed.Encode(frame(seq))
		if err != nil {
			t.Fatalf("rewarmed Encode: %v", err)
		}
		cf, err := control.Decode(cc)
		if err != nil {
			t.Fatalf("control Decode: %v", err)
		}
		rf, err := rewarmed.Decode(rc)
		if err != nil {
			t.Fatalf("rewarmed Decode: %v", err)
		}
		for i := range cf.PCM {
			if cf.PCM[i] != rf.PCM[i] {
				t.Fatalf("frame %d sample %d differs after re-warm", seq, i)
			}
		}
	}
}

func TestStream_DecodeBeforeEncodeRejected(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	_, err := s.Decode(codec.Codes{Seq: 0, Tokens: make([]int32, 32)})
	if !errors.Is(err, codec.ErrOutOfSequence) {
		t.Fatalf("decode before any encode = %v, want ErrOutOfSequence", err)
	}
}

func TestStream_OutOfOrderRejected(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	c0, err := s.Encode(frame(0))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := s.Encode(frame(2)); !errors.Is(err, codec.ErrOutOfSequence) {
		t.Fatalf("skip-ahead encode = %v, want ErrOutOfSequence", err)
	}
	c1copy := codec.Codes{Seq: 1, Tokens: c0.Tokens}
	if _, err := s.Decode(c1copy); !errors.Is(err, codec.ErrOutOfSequence) {
		t.Fatalf("skip-ahead decode = %v, want ErrOutOfSequence", err)
	}
}

func TestStream_WrongLengthCodesFailFast(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	if _, err := s.Encode(frame(0)); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	_, err := s.Decode(codec.Codes{Seq: 0, Tokens: make([]int32, 16)})
	if err == nil {
		t.Fatal("decode with generated-subset length succeeded; must require total codebooks")
	}
}

func TestStream_ClosedRejectsEverything(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	_ = s.Close()
	if _, err := s.Encode(frame(0)); !errors.Is(err, codec.ErrClosed) {
		t.Errorf("Encode after Close = %v, want ErrClosed", err)
	}
	if err := s.Warm(); !errors.Is(err, codec.ErrClosed) {
		t.Errorf("Warm after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestStream_SkipDecodeAdvancesSequence(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	if _, err := s.Encode(frame(0)); err != nil {
		t.Fatalf("Encode 0: %v", err)
	}
	codes1, err := s.Encode(frame(1))
	if err != nil {
		t.Fatalf("Encode 1: %v", err)
	}

	// Frame 0's step failed; surrender its slot and decode frame 1.
	if err := s.SkipDecode(); err != nil {
		t.Fatalf("SkipDecode: %v", err)
	}
	if _, err := s.Decode(codes1); err != nil {
		t.Fatalf("Decode 1 after skip: %v", err)
	}
	if s.Decoded() != 2 {
		t.Fatalf("Decoded = %d, want 2", s.Decoded())
	}
}

func TestStream_SkipDecodeRequiresEncodedFrame(t *testing.T) {
	t.Parallel()

	s := newStream(t)
	if err := s.SkipDecode(); !errors.Is(err, codec.ErrOutOfSequence) {
		t.Fatalf("SkipDecode with nothing encoded = %v, want ErrOutOfSequence", err)
	}
}
