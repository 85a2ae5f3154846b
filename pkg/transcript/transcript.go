// Package transcript carries the incremental text stream a conversation
// produces out to an external memory/logging collaborator.
//
// The engine is a producer only: it never stores history. A [Stream] is a
// bounded fan-out channel; when the external consumer cannot keep up, entries
// are dropped and counted rather than ever back-pressuring the generation
// loop.
package transcript

import (
	"sync"
	"sync/atomic"
	"time"
)

// Entry is one increment of decoded transcript text.
type Entry struct {
	// ConversationID identifies the producing conversation.
	ConversationID string `json:"conversation_id"`

	// Text is the decoded text increment, usually a handful of characters
	// per generation step.
	Text string `json:"text"`

	// Step is the generation step index that produced the text.
	Step int64 `json:"step"`

	// Offset is the position of the producing frame in the generated audio
	// stream, measured from stream start. Consumers align text to audio by
	// offset, not wall clock.
	Offset time.Duration `json:"offset"`

	// Forced marks scripted-utterance output.
	Forced bool `json:"forced,omitempty"`

	// Echo marks text similar to a recently merged suggestion; telemetry
	// only, never acted on.
	Echo bool `json:"echo,omitempty"`
}

// Stream is the bounded transcript fan-out for one conversation. Emit is
// called from the generation loop and never blocks.
type Stream struct {
	ch        chan Entry
	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewStream creates a Stream with the given buffer depth (64 if zero or
// negative).
func NewStream(buf int) *Stream {
	if buf <= 0 {
		buf = 64
	}
	return &Stream{ch: make(chan Entry, buf)}
}

// Emit delivers e to the consumer, dropping it if the buffer is full.
func (s *Stream) Emit(e Entry) {
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Entries returns the consumer side of the stream. Closed by [Stream.Close].
func (s *Stream) Entries() <-chan Entry { return s.ch }

// Dropped returns how many entries were discarded due to a slow consumer.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close closes the consumer channel. Must be called after the last Emit; the
// conversation closes it during teardown. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
