package codec_test

import (
	"testing"

	"github.com/evandegr/oratio/pkg/codec"
)

func TestFrameArena_ExtractsViewsNotCopies(t *testing.T) {
	t.Parallel()

	a, err := codec.NewFrameArena(4, 3)
	if err != nil {
		t.Fatalf("NewFrameArena: %v", err)
	}
	if err := a.Append([]int16{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	f, ok := a.Next()
	if !ok {
		t.Fatal("expected a full frame")
	}
	if f.Seq != 0 || len(f.PCM) != 4 || f.PCM[0] != 1 {
		t.Fatalf("frame = %+v, want seq 0 [1 2 3 4]", f)
	}

	// Mutating the arena slot must be visible through the view: it is an
	// index range into the single allocation, not a copy.
	if err := a.Append([]int16{6, 7, 8}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f1, ok := a.Next()
	if !ok {
		t.Fatal("expected second frame")
	}
	if f1.Seq != 1 || f1.PCM[0] != 5 || f1.PCM[3] != 8 {
		t.Fatalf("second frame = %+v, want seq 1 [5 6 7 8]", f1)
	}
}

func TestFrameArena_SequenceIsMonotonic(t *testing.T) {
	t.Parallel()

	a, _ := codec.NewFrameArena(2, 4)
	_ = a.Append(make([]int16, 6))
	for want := int64(0); want < 3; want++ {
		f, ok := a.Next()
		if !ok {
			t.Fatalf("frame %d missing", want)
		}
		if f.Seq != want {
			t.Fatalf("seq = %d, want %d", f.Seq, want)
		}
	}
	if _, ok := a.Next(); ok {
		t.Fatal("extracted more frames than appended")
	}
}

func TestFrameArena_WrapsAroundWithoutReallocating(t *testing.T) {
	t.Parallel()

	a, _ := codec.NewFrameArena(4, 3)
	// Stream several rings' worth of frames through the arena.
	val := int16(0)
	for round := 0; round < 10; round++ {
		chunk := make([]int16, 4)
		for i := range chunk {
			chunk[i] = val
			val++
		}
		if err := a.Append(chunk); err != nil {
			t.Fatalf("Append round %d: %v", round, err)
		}
		f, ok := a.Next()
		if !ok {
			t.Fatalf("round %d: no frame", round)
		}
		if f.PCM[0] != int16(round*4) {
			t.Fatalf("round %d: first sample = %d, want %d", round, f.PCM[0], round*4)
		}
	}
}

func TestFrameArena_OverflowRejected(t *testing.T) {
	t.Parallel()

	a, _ := codec.NewFrameArena(4, 3)
	// Capacity is (slots-1) frames = 8 samples.
	if err := a.Append(make([]int16, 8)); err != nil {
		t.Fatalf("Append at capacity: %v", err)
	}
	if err := a.Append(make([]int16, 1)); err == nil {
		t.Fatal("append past capacity accepted")
	}
}
