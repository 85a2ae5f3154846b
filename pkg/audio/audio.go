// Package audio defines the PCM frame types and sample-level helpers shared by
// every stage of the oratio streaming pipeline.
//
// A [Frame] is the atomic streaming unit: a fixed-duration block of mono
// 16-bit PCM tagged with a monotonic sequence index. Frames are produced by an
// input device, resampled to the model rate, tokenised by the codec, and
// eventually re-emitted through the playback buffer. A frame's PCM slice may
// alias a conversation-scoped arena (see codec.FrameArena); consumers must not
// retain it beyond the call that received it.
package audio

import "time"

// Frame is a fixed-size block of mono 16-bit PCM audio.
type Frame struct {
	// PCM holds little-endian signed 16-bit samples. May be a view into a
	// shared arena; treat as read-only and do not retain.
	PCM []int16

	// SampleRate in Hz (e.g., 24000 at the model rate, 8000 on telephony).
	SampleRate int

	// Seq is the monotonic per-conversation sequence index, starting at 0.
	Seq int64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}

// Silence returns a frame of n zero samples at the given rate. Used by the
// playback consumer on underflow and by codec warmup.
func Silence(n, sampleRate int) Frame {
	return Frame{PCM: make([]int16, n), SampleRate: sampleRate}
}

// Format describes the sample rate and channel count of a raw audio stream.
// The pipeline itself is mono end to end; Format carries channel counts only
// at the device boundary where clients may deliver stereo.
type Format struct {
	SampleRate int
	Channels   int
}
