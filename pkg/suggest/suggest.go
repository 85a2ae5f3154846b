// Package suggest implements the bounded, rate-limited channel through which
// an external supervisor injects text hints into a live generation loop.
//
// The [Queue] is a single-producer/single-consumer bounded channel: the
// control plane pushes, the conversation's generation task polls at one fixed
// point in its step loop. A full queue rejects synchronously with
// [ErrQueueFull] so the caller can retry later; hints are never dropped
// silently and the push never blocks a control-plane request. Consumption is
// rate limited in generated-audio time rather than wall-clock time, so a
// stalled generator does not accumulate suggestion credit.
package suggest

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is the synchronous rejection for a push onto a full
	// queue. Non-fatal; the caller retries later.
	ErrQueueFull = errors.New("suggest: queue full")

	// ErrClosed is returned for pushes after Close.
	ErrClosed = errors.New("suggest: queue closed")
)

// DefaultDepth is the default queue capacity.
const DefaultDepth = 5

// DefaultWindow is the default amount of generated audio per consumed
// suggestion.
const DefaultWindow = 2 * time.Second

// Suggestion is one external steering hint. The text only augments generation
// conditioning; nothing guarantees it is spoken verbatim.
type Suggestion struct {
	// Text is the hint content.
	Text string `json:"text"`

	// Priority is caller-assigned metadata carried through to telemetry and
	// transcripts. The queue itself is strictly FIFO.
	Priority int `json:"priority"`

	// Timestamp is when the supervisor issued the hint.
	Timestamp time.Time `json:"timestamp"`
}

// Queue is the bounded SPSC suggestion channel. TryPush is called by the
// control plane, Poll by the generation loop; both are non-blocking.
type Queue struct {
	ch     chan Suggestion
	window time.Duration

	// lastConsumed is the generated-audio clock value at the previous
	// dequeue, in nanoseconds. Touched only by the consumer.
	lastConsumed time.Duration
	consumedAny  bool

	closed   atomic.Bool
	accepted atomic.Int64
	rejected atomic.Int64
	consumed atomic.Int64
}

// NewQueue creates a queue with the given depth and generated-audio rate
// window. Zero values select [DefaultDepth] and [DefaultWindow].
func NewQueue(depth int, window time.Duration) (*Queue, error) {
	if depth == 0 {
		depth = DefaultDepth
	}
	if window == 0 {
		window = DefaultWindow
	}
	if depth < 0 || window < 0 {
		return nil, fmt.Errorf("suggest: invalid queue depth %d / window %v", depth, window)
	}
	return &Queue{ch: make(chan Suggestion, depth), window: window}, nil
}

// TryPush enqueues s. It never blocks: a full queue returns [ErrQueueFull]
// immediately.
func (q *Queue) TryPush(s Suggestion) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- s:
		q.accepted.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		return ErrQueueFull
	}
}

// Poll dequeues at most one suggestion. generated is the conversation's
// generated-audio clock (total duration of audio produced so far); at most
// one suggestion is released per rate window of that clock. Returns false
// when the queue is empty or the window has not elapsed. Consumer-side only.
func (q *Queue) Poll(generated time.Duration) (Suggestion, bool) {
	if q.consumedAny && generated-q.lastConsumed < q.window {
		return Suggestion{}, false
	}
	select {
	case s := <-q.ch:
		q.lastConsumed = generated
		q.consumedAny = true
		q.consumed.Add(1)
		return s, true
	default:
		return Suggestion{}, false
	}
}

// Depth returns the number of queued suggestions.
func (q *Queue) Depth() int { return len(q.ch) }

// Stats returns lifetime accepted/rejected/consumed counts.
func (q *Queue) Stats() (accepted, rejected, consumed int64) {
	return q.accepted.Load(), q.rejected.Load(), q.consumed.Load()
}

// Close marks the queue closed. Subsequent pushes fail with [ErrClosed];
// queued suggestions remain pollable so an in-flight step can finish.
func (q *Queue) Close() {
	q.closed.Store(true)
}
