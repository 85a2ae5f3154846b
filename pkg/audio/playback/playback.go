// Package playback provides the bounded FIFO that decouples the generation
// pipeline from the real-time output callback.
//
// One [Buffer] is created per conversation and lives for its entire duration;
// it is the single long-lived output stream object; the output device pulls
// from it on every callback tick. The producer side (the
// encode→generate→decode loop) pushes whole frames and throttles naturally by
// blocking when the FIFO is full. The consumer side never blocks: on an empty
// FIFO, [Buffer.Pull] returns exactly one frame of silence. Underflow is the
// common case whenever generation latency exceeds the frame duration; it is
// counted, not treated as an error.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evandegr/oratio/pkg/audio"
)

// ErrClosed is returned by [Buffer.Offer] after [Buffer.Close].
var ErrClosed = errors.New("playback: buffer closed")

// DefaultCapacity is the FIFO depth in frames used when the caller does not
// size the buffer explicitly.
const DefaultCapacity = 32

// Buffer is a bounded frame FIFO between one producer goroutine and one
// real-time consumer. Offer and Close must be called from the producer side
// only; Pull may be called from a different (real-time) goroutine.
type Buffer struct {
	frameSize  int
	sampleRate int
	highWater  int

	frames chan []int16
	reb    *audio.Rebuffer // producer-side only

	closeOnce  sync.Once
	closed     atomic.Bool
	underflows atomic.Int64
	pulled     atomic.Int64
}

// Config sizes a playback [Buffer].
type Config struct {
	// FrameSize is the number of samples per pulled frame.
	FrameSize int

	// SampleRate of the PCM flowing through, in Hz.
	SampleRate int

	// Capacity is the FIFO depth in frames. Offer blocks when full.
	Capacity int

	// HighWater is the depth above which [Buffer.Pressured] reports true so
	// the producer can throttle before hitting the hard capacity. Zero
	// defaults to 3/4 of Capacity.
	HighWater int
}

// New creates a Buffer. FrameSize, SampleRate and Capacity must be positive.
func New(cfg Config) (*Buffer, error) {
	if cfg.FrameSize <= 0 || cfg.SampleRate <= 0 || cfg.Capacity <= 0 {
		return nil, fmt.Errorf("playback: invalid config %+v", cfg)
	}
	hw := cfg.HighWater
	if hw <= 0 || hw > cfg.Capacity {
		hw = cfg.Capacity * 3 / 4
	}
	return &Buffer{
		frameSize:  cfg.FrameSize,
		sampleRate: cfg.SampleRate,
		highWater:  hw,
		frames:     make(chan []int16, cfg.Capacity),
		reb:        audio.NewRebuffer(cfg.FrameSize),
	}, nil
}

// FrameSize returns the number of samples per pulled frame.
func (b *Buffer) FrameSize() int { return b.frameSize }

// FrameDuration returns the wall-clock duration of one frame.
func (b *Buffer) FrameDuration() time.Duration {
	return time.Duration(b.frameSize) * time.Second / time.Duration(b.sampleRate)
}

// Offer appends pcm (any length) to the FIFO, emitting it as whole frames.
// It blocks while the FIFO is full until space frees up or ctx is done;
// this is the producer throttle. Leftover samples short of a frame are held
// until the next Offer or [Buffer.Close].
func (b *Buffer) Offer(ctx context.Context, pcm []int16) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.reb.Write(pcm)
	for {
		frame, ok := b.reb.Next()
		if !ok {
			return nil
		}
		// Copy out of the rebuffer view; the FIFO outlives it.
		out := make([]int16, b.frameSize)
		copy(out, frame)
		select {
		case b.frames <- out:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pull returns the next frame, or exactly one frame of silence if the FIFO is
// empty. It never blocks and is safe to call from a real-time audio callback.
// After Close it keeps returning queued frames until drained, then silence.
func (b *Buffer) Pull() []int16 {
	b.pulled.Add(1)
	select {
	case frame, ok := <-b.frames:
		if !ok || frame == nil {
			b.underflows.Add(1)
			return audio.Silence(b.frameSize, b.sampleRate).PCM
		}
		return frame
	default:
		b.underflows.Add(1)
		return audio.Silence(b.frameSize, b.sampleRate).PCM
	}
}

// Depth returns the number of queued frames.
func (b *Buffer) Depth() int { return len(b.frames) }

// Pressured reports whether the FIFO depth exceeds the high-water mark.
func (b *Buffer) Pressured() bool { return len(b.frames) >= b.highWater }

// Underflows returns the number of Pull calls served with silence.
func (b *Buffer) Underflows() int64 { return b.underflows.Load() }

// Drain blocks until every queued frame has been pulled or ctx is done.
// Called at conversation end so the tail of generated speech is not cut off.
func (b *Buffer) Drain(ctx context.Context) error {
	ticker := time.NewTicker(b.FrameDuration() / 4)
	defer ticker.Stop()
	for len(b.frames) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close flushes the final partial frame (zero-padded) into the FIFO and marks
// the buffer closed. Close must not be called concurrently with Offer; the
// conversation calls it after the producer loop has exited. Pull remains safe
// to call and serves the remaining queued frames, then silence.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if tail := b.reb.Flush(); tail != nil {
			select {
			case b.frames <- tail:
			default:
				// FIFO full at close; the padded tail is dropped rather
				// than blocking teardown.
			}
		}
	})
}
