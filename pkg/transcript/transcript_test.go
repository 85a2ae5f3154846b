package transcript_test

import (
	"testing"
	"time"

	"github.com/evandegr/oratio/pkg/transcript"
)

func TestStream_EmitNeverBlocks(t *testing.T) {
	t.Parallel()

	s := transcript.NewStream(2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			s.Emit(transcript.Entry{Text: "x", Step: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with a slow consumer")
	}
	if s.Dropped() != 8 {
		t.Errorf("dropped = %d, want 8", s.Dropped())
	}
}

func TestStream_DeliversInOrderAndCloses(t *testing.T) {
	t.Parallel()

	s := transcript.NewStream(8)
	s.Emit(transcript.Entry{Text: "a", Step: 0})
	s.Emit(transcript.Entry{Text: "b", Step: 1})
	s.Close()
	s.Close() // idempotent

	var got []string
	for e := range s.Entries() {
		got = append(got, e.Text)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("entries = %v, want [a b]", got)
	}
}

func TestEchoDetector_FlagsCloseParaphrase(t *testing.T) {
	t.Parallel()

	var d transcript.EchoDetector
	d.Arm("mention the weather")

	// Feed in increments the way generation emits them.
	echoed := false
	for _, piece := range []string{"menti", "on the", " weathe", "r today"} {
		if d.Observe(piece) {
			echoed = true
			break
		}
	}
	if !echoed {
		t.Error("near-verbatim hint text not flagged as echo")
	}
	if d.Armed() {
		t.Error("detector should disarm after an echo")
	}
}

func TestEchoDetector_IgnoresUnrelatedText(t *testing.T) {
	t.Parallel()

	var d transcript.EchoDetector
	d.Arm("mention the weather")
	for _, piece := range []string{"the dr", "agon hoard", " glitters", " in darkness"} {
		if d.Observe(piece) {
			t.Fatal("unrelated text flagged as echo")
		}
	}
}

func TestEchoDetector_DisarmedObservesNothing(t *testing.T) {
	t.Parallel()

	var d transcript.EchoDetector
	if d.Observe("anything") {
		t.Error("disarmed detector reported an echo")
	}
}
