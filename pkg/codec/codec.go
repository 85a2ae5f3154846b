// Package codec wraps a live codec session in the frame-boundary bookkeeping
// the streaming pipeline depends on: mandatory warmup on the exact instance
// that will run the hot loop, strict encode/decode sequencing, and the token
// count contract on every call.
//
// A [Stream] is created per conversation by [NewStream], which warms the
// session before returning; there is no separate warm step that could be run
// against a clone and discarded. An unwarmed or half-warmed session must never
// process real audio: the decoder's recurrent ring buffers only get populated
// by a genuine encode+decode cycle on the same instance, and skipping that
// surfaces as a deterministic decode failure several frames in, not
// immediately.
package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/evandegr/oratio/pkg/audio"
	"github.com/evandegr/oratio/pkg/model"
)

var (
	// ErrNotWarmed is returned when a Stream processes a real frame before
	// its warmup cycle completed. Fatal: reconstruct a fresh Stream.
	ErrNotWarmed = errors.New("codec: stream not warmed")

	// ErrOutOfSequence is returned when frames are encoded or decoded out of
	// temporal order. Codec state is inherently sequential; an out-of-order
	// call is a pipeline bug, never recoverable by retrying.
	ErrOutOfSequence = errors.New("codec: frame out of sequence")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("codec: stream closed")
)

// Codes is the token representation of one audio frame: exactly
// TotalCodebooks tokens, tagged with the frame's sequence index.
type Codes struct {
	Seq    int64
	Tokens []int32
}

// Stream is the per-conversation codec wrapper. Not safe for concurrent use;
// the conversation loop is the sole caller.
type Stream struct {
	cfg  model.Config
	sess model.CodecSession

	warmed  bool
	encoded int64 // frames encoded so far; next expected encode Seq
	decoded int64 // frames decoded so far; next expected decode Seq
	closed  bool
}

// NewStream creates a codec session from b and warms it with one silent
// encode+decode cycle. The returned Stream is ready for real frames; on any
// warmup failure the session is closed and an error wrapping the cause is
// returned so the caller reconstructs from scratch rather than reusing a
// half-initialised instance.
func NewStream(b model.Backend) (*Stream, error) {
	sess, err := b.NewCodecSession()
	if err != nil {
		return nil, fmt.Errorf("codec: create session: %w", err)
	}
	s := &Stream{cfg: b.Describe(), sess: sess}
	if err := s.Warm(); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return s, nil
}

// Warm runs the warmup cycle on this exact instance. It is idempotent:
// warming an already-warmed stream is a no-op and does not disturb the
// recurrent state built up by real frames.
func (s *Stream) Warm() error {
	if s.closed {
		return ErrClosed
	}
	if s.warmed {
		return nil
	}
	silent := audio.Silence(s.cfg.FrameSize, s.cfg.SampleRate)
	codes, err := s.sess.EncodeStep(silent.PCM)
	if err != nil {
		return fmt.Errorf("codec: warmup encode: %w", err)
	}
	if len(codes) != s.cfg.TotalCodebooks {
		return fmt.Errorf("codec: warmup produced %d codes, want %d", len(codes), s.cfg.TotalCodebooks)
	}
	if _, err := s.sess.DecodeStep(codes); err != nil {
		return fmt.Errorf("codec: warmup decode: %w", err)
	}
	s.warmed = true
	return nil
}

// Config returns the model configuration the stream operates under.
func (s *Stream) Config() model.Config { return s.cfg }

// Encode tokenises one model-rate frame. frame.Seq must be exactly the next
// sequence index; frame.PCM must be exactly FrameSize samples.
func (s *Stream) Encode(frame audio.Frame) (Codes, error) {
	if s.closed {
		return Codes{}, ErrClosed
	}
	if !s.warmed {
		return Codes{}, ErrNotWarmed
	}
	if frame.Seq != s.encoded {
		return Codes{}, fmt.Errorf("%w: encode seq %d, want %d", ErrOutOfSequence, frame.Seq, s.encoded)
	}
	if len(frame.PCM) != s.cfg.FrameSize {
		return Codes{}, fmt.Errorf("codec: encode frame of %d samples, want %d", len(frame.PCM), s.cfg.FrameSize)
	}

	tokens, err := s.sess.EncodeStep(frame.PCM)
	if err != nil {
		return Codes{}, fmt.Errorf("codec: encode step %d: %w", frame.Seq, err)
	}
	if len(tokens) != s.cfg.TotalCodebooks {
		return Codes{}, fmt.Errorf("codec: encode step %d produced %d codes, want %d",
			frame.Seq, len(tokens), s.cfg.TotalCodebooks)
	}
	s.encoded++
	return Codes{Seq: frame.Seq, Tokens: tokens}, nil
}

// Decode reconstructs one frame of PCM from exactly TotalCodebooks tokens.
// Decoding is gated on sequencing: codes.Seq must be the next undecoded frame
// and that frame must already have been encoded. Decoding frame i before
// frame i-1 was encoded can never succeed silently. A decode error on a
// malformed tensor is fatal for the conversation; there is no partial-frame
// recovery.
func (s *Stream) Decode(codes Codes) (audio.Frame, error) {
	if s.closed {
		return audio.Frame{}, ErrClosed
	}
	if !s.warmed {
		return audio.Frame{}, ErrNotWarmed
	}
	if codes.Seq != s.decoded {
		return audio.Frame{}, fmt.Errorf("%w: decode seq %d, want %d", ErrOutOfSequence, codes.Seq, s.decoded)
	}
	if codes.Seq >= s.encoded {
		return audio.Frame{}, fmt.Errorf("%w: decode seq %d but only %d frames encoded",
			ErrOutOfSequence, codes.Seq, s.encoded)
	}
	if len(codes.Tokens) != s.cfg.TotalCodebooks {
		return audio.Frame{}, fmt.Errorf("codec: decode step %d with %d codes, want exactly %d",
			codes.Seq, len(codes.Tokens), s.cfg.TotalCodebooks)
	}

	pcm, err := s.sess.DecodeStep(codes.Tokens)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("codec: decode step %d: %w", codes.Seq, err)
	}
	if len(pcm) != s.cfg.FrameSize {
		return audio.Frame{}, fmt.Errorf("codec: decode step %d produced %d samples, want %d",
			codes.Seq, len(pcm), s.cfg.FrameSize)
	}
	s.decoded++
	return audio.Frame{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Seq:        codes.Seq,
		Timestamp:  s.cfg.FrameDuration() * time.Duration(codes.Seq),
	}, nil
}

// SkipDecode surrenders the output slot of the next undecoded frame and
// advances the decode sequence past it. Used when the generation step for an
// encoded frame failed: the caller substitutes silence for the frame, and
// decoding resumes at the following one. The skipped frame must already have
// been encoded.
func (s *Stream) SkipDecode() error {
	if s.closed {
		return ErrClosed
	}
	if !s.warmed {
		return ErrNotWarmed
	}
	if s.decoded >= s.encoded {
		return fmt.Errorf("%w: skip seq %d but only %d frames encoded",
			ErrOutOfSequence, s.decoded, s.encoded)
	}
	s.decoded++
	return nil
}

// Encoded returns the number of frames encoded so far (excluding warmup).
func (s *Stream) Encoded() int64 { return s.encoded }

// Decoded returns the number of frames decoded so far (excluding warmup).
func (s *Stream) Decoded() int64 { return s.decoded }

// Close releases the underlying session. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sess.Close()
}
