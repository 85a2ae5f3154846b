package playback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evandegr/oratio/pkg/audio/playback"
)

func newBuffer(t *testing.T, capacity int) *playback.Buffer {
	t.Helper()
	b, err := playback.New(playback.Config{
		FrameSize:  1920,
		SampleRate: 24000,
		Capacity:   capacity,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := playback.New(playback.Config{FrameSize: 0, SampleRate: 24000, Capacity: 4}); err == nil {
		t.Error("zero frame size accepted")
	}
}

func TestPull_EmptyEmitsExactlyOneSilenceFrame(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 4)

	done := make(chan []int16, 1)
	go func() { done <- b.Pull() }()

	select {
	case frame := <-done:
		if len(frame) != 1920 {
			t.Fatalf("silence frame length = %d, want 1920", len(frame))
		}
		for i, s := range frame {
			if s != 0 {
				t.Fatalf("sample %d = %d, want 0", i, s)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("Pull blocked on empty buffer")
	}

	if b.Underflows() != 1 {
		t.Errorf("underflows = %d, want 1", b.Underflows())
	}
}

func TestOfferPull_PreservesOrderAndFraming(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 4)
	ctx := context.Background()

	// Offer 2.5 frames in odd-sized chunks.
	total := 1920 * 5 / 2
	pcm := make([]int16, total)
	for i := range pcm {
		pcm[i] = int16(i)
	}
	for i := 0; i < total; i += 700 {
		end := min(i+700, total)
		if err := b.Offer(ctx, pcm[i:end]); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	if b.Depth() != 2 {
		t.Fatalf("depth = %d, want 2 full frames", b.Depth())
	}
	f0 := b.Pull()
	f1 := b.Pull()
	if f0[0] != 0 || f1[0] != int16(1920) {
		t.Error("frames pulled out of order")
	}

	// Close pads and flushes the half frame.
	b.Close()
	f2 := b.Pull()
	if f2[0] != int16(3840) {
		t.Error("flushed tail has wrong content")
	}
	if f2[1920-1] != 0 {
		t.Error("flushed tail not zero-padded")
	}
}

func TestOffer_ThrottlesWhenFull(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Offer(ctx, make([]int16, 1920*3))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Offer on full buffer = %v, want deadline exceeded", err)
	}
	if b.Depth() != 2 {
		t.Errorf("depth = %d, want capacity 2", b.Depth())
	}
}

func TestOffer_AfterCloseFails(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 2)
	b.Close()
	if err := b.Offer(context.Background(), make([]int16, 1920)); !errors.Is(err, playback.ErrClosed) {
		t.Fatalf("Offer after Close = %v, want ErrClosed", err)
	}
}

func TestPressured_HighWaterDefault(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 4)
	ctx := context.Background()
	if b.Pressured() {
		t.Error("empty buffer reports pressure")
	}
	if err := b.Offer(ctx, make([]int16, 1920*3)); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !b.Pressured() {
		t.Error("3/4-full buffer should report pressure")
	}
}

func TestDrain_WaitsForConsumer(t *testing.T) {
	t.Parallel()

	b := newBuffer(t, 4)
	ctx := context.Background()
	if err := b.Offer(ctx, make([]int16, 1920*2)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Pull()
		b.Pull()
	}()

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := b.Drain(drainCtx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if b.Depth() != 0 {
		t.Errorf("depth after drain = %d, want 0", b.Depth())
	}
}
