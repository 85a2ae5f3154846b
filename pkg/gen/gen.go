// Package gen drives the autoregressive generator through its per-connection
// step state machine.
//
// An [Engine] owns one generation session and advances it one codec frame at
// a time. Every step consumes the previous text token plus the codes encoded
// from the *real* input frame; padding is never substituted for genuine
// audio conditioning, because a step conditioned on fabricated audio produces
// unpredictable rather than merely degraded output. Steps may additionally
// carry a forced text token (scripted utterances) and a dequeued external
// suggestion.
//
// Each step emits the next text token and the generated codebook subset; the
// engine reassembles that subset with the pass-through codebooks from the
// input codes, in encode order, before anything reaches the decoder. A wrong
// total is an immediate error, never a silent truncation.
package gen

import (
	"errors"
	"fmt"
	"time"

	"github.com/evandegr/oratio/pkg/codec"
	"github.com/evandegr/oratio/pkg/model"
	"github.com/evandegr/oratio/pkg/suggest"
)

// State is the engine lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateWarming
	StateReady
	StateStepping
	StateDraining
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWarming:
		return "warming"
	case StateReady:
		return "ready"
	case StateStepping:
		return "stepping"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrWrongState is returned when an operation is invalid in the current
	// lifecycle state.
	ErrWrongState = errors.New("gen: wrong state")

	// ErrStepFailed marks a single failed step. Recoverable: the caller
	// skips the frame and retries on the next one.
	ErrStepFailed = errors.New("gen: step failed")

	// ErrStepDeadline marks a step that exceeded its deadline. Counted as a
	// step failure; the late result is discarded, never reused.
	ErrStepDeadline = errors.New("gen: step deadline exceeded")

	// ErrEngineDead is returned once the consecutive-failure budget is
	// exhausted. Fatal for the conversation.
	ErrEngineDead = errors.New("gen: too many consecutive step failures")
)

// DefaultFailureBudget is the number of consecutive step failures tolerated
// before the engine declares itself dead.
const DefaultFailureBudget = 3

// Result is the output of one successful step.
type Result struct {
	// Codes is the full reassembled token set for the output frame:
	// generated subset plus pass-through codebooks, exactly TotalCodebooks,
	// tagged with the input frame's sequence index.
	Codes codec.Codes

	// TextToken is the step's text token.
	TextToken int32

	// Text is the incremental transcript text for this step; empty when the
	// token is padding or control.
	Text string

	// Forced reports whether the text token was forced (scripted).
	Forced bool

	// Suggestion is the external hint merged into this step's conditioning,
	// or nil.
	Suggestion *suggest.Suggestion
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithSeed makes generation sampling deterministic. Zero (the default) keeps
// production sampling nondeterministic.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithDeadline sets the per-step deadline. Zero disables the deadline.
func WithDeadline(d time.Duration) Option {
	return func(e *Engine) { e.deadline = d }
}

// WithSuggestions attaches the suggestion queue polled once per step.
func WithSuggestions(q *suggest.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithFailureBudget overrides [DefaultFailureBudget].
func WithFailureBudget(n int) Option {
	return func(e *Engine) { e.failureBudget = n }
}

// Engine is the per-connection generation state machine. Not safe for
// concurrent use; the conversation loop is the sole caller. The suggestion
// queue is the one structure shared with another goroutine, and it is safe by
// construction.
type Engine struct {
	cfg model.Config
	tok model.Tokenizer

	seed          uint64
	deadline      time.Duration
	queue         *suggest.Queue
	failureBudget int

	sess  model.GenSession
	state State

	steps       int64
	prevText    int32
	forced      []int32 // pending scripted text tokens, FIFO
	consecFails int
	generated   time.Duration // generated-audio clock for suggestion gating
	lastSuggest *suggest.Suggestion
	rearmed     *suggest.Suggestion // dequeued hint whose step failed, retried next
	pending     chan stepOut        // result slot of a step abandoned on deadline
}

// stepOut carries one backend step result across the deadline goroutine.
type stepOut struct {
	res model.GenResult
	err error
}

// New creates a generation session from b, primes it, and returns an engine
// in the Ready state. Warmup runs on the exact session instance that will run
// the step loop; on failure the session is closed and the caller must
// construct a fresh engine rather than retry on this one.
func New(b model.Backend, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:           b.Describe(),
		tok:           b.Tokenizer(),
		failureBudget: DefaultFailureBudget,
		state:         StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}

	sess, err := b.NewGenSession(e.seed)
	if err != nil {
		return nil, fmt.Errorf("gen: create session: %w", err)
	}
	e.sess = sess
	e.prevText = e.tok.BOS()

	e.state = StateWarming
	if err := e.warm(); err != nil {
		_ = sess.Close()
		e.state = StateClosed
		return nil, err
	}
	e.state = StateReady
	return e, nil
}

// warm primes the session's internal cache with one discarded step. The
// priming input is a zero-token frame, mirroring the codec's silent warmup
// cycle; its output never reaches the pipeline.
func (e *Engine) warm() error {
	_, err := e.sess.Step(model.GenStep{
		AudioCodes: make([]int32, e.cfg.TotalCodebooks),
		PrevText:   e.prevText,
	})
	if err != nil {
		return fmt.Errorf("gen: warmup step: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

// Steps returns the number of completed real steps.
func (e *Engine) Steps() int64 { return e.steps }

// GeneratedAudio returns the generated-audio clock: the total duration of
// audio frames produced so far.
func (e *Engine) GeneratedAudio() time.Duration { return e.generated }

// LastSuggestion returns the most recently merged suggestion, or nil. Used by
// the transcript stage to flag steering echoes.
func (e *Engine) LastSuggestion() *suggest.Suggestion { return e.lastSuggest }

// Say schedules text to be force-generated over the coming steps. Real audio
// conditioning keeps flowing in; only the text channel is scripted. Multiple
// calls append.
func (e *Engine) Say(text string) error {
	if e.state != StateReady && e.state != StateStepping {
		return fmt.Errorf("%w: Say in %s", ErrWrongState, e.state)
	}
	e.forced = append(e.forced, e.tok.Encode(text)...)
	return nil
}

// PendingForced returns the number of scripted text tokens not yet emitted.
func (e *Engine) PendingForced() int { return len(e.forced) }

// Step advances generation by one frame. input must be the full encoded codes
// of the real input frame for this step index.
//
// Failure semantics: a malformed-output or deadline error aborts only this
// step and returns an error wrapping [ErrStepFailed] or [ErrStepDeadline];
// the engine stays usable. Once [DefaultFailureBudget] consecutive steps have
// failed, Step returns [ErrEngineDead] and the conversation must be torn
// down. Any successful step resets the failure count.
func (e *Engine) Step(input codec.Codes) (Result, error) {
	switch e.state {
	case StateReady, StateStepping:
		e.state = StateStepping
	default:
		return Result{}, fmt.Errorf("%w: Step in %s", ErrWrongState, e.state)
	}
	if e.consecFails >= e.failureBudget {
		return Result{}, ErrEngineDead
	}
	if len(input.Tokens) != e.cfg.TotalCodebooks {
		// A malformed input tensor is a pipeline bug upstream, not a model
		// hiccup; it still counts against the failure budget.
		return Result{}, e.fail(fmt.Errorf("%w: input has %d codes, want %d",
			ErrStepFailed, len(input.Tokens), e.cfg.TotalCodebooks))
	}

	step := model.GenStep{
		AudioCodes: input.Tokens,
		PrevText:   e.prevText,
	}

	var forced bool
	if len(e.forced) > 0 {
		tok := e.forced[0]
		step.ForcedText = &tok
		forced = true
	}

	// A suggestion dequeued for a step that then fails is re-armed rather
	// than lost: its conditioning never took effect, so it rides along on
	// the next attempt without spending another rate window.
	sug := e.rearmed
	if sug == nil && e.queue != nil {
		if s, ok := e.queue.Poll(e.generated); ok {
			sug = &s
		}
	}
	if sug != nil {
		step.Suggestion = e.tok.Encode(sug.Text)
		e.rearmed = sug
	}

	out, err := e.runStep(step)
	if err != nil {
		return Result{}, e.fail(err)
	}
	if len(out.Audio) != e.cfg.GeneratedCodebooks {
		return Result{}, e.fail(fmt.Errorf("%w: model emitted %d audio tokens, want %d",
			ErrStepFailed, len(out.Audio), e.cfg.GeneratedCodebooks))
	}

	full, err := Reassemble(out.Audio, input, e.cfg)
	if err != nil {
		return Result{}, e.fail(err)
	}

	// Commit.
	e.consecFails = 0
	if forced {
		e.forced = e.forced[1:]
	}
	if sug != nil {
		e.lastSuggest = sug
		e.rearmed = nil
	}
	e.prevText = out.Text
	e.steps++
	e.generated += e.cfg.FrameDuration()

	res := Result{
		Codes:      codec.Codes{Seq: input.Seq, Tokens: full},
		TextToken:  out.Text,
		Forced:     forced,
		Suggestion: sug,
	}
	if e.tok.IsText(out.Text) {
		res.Text = e.tok.Decode([]int32{out.Text})
	}
	return res, nil
}

// runStep executes one backend step under the configured deadline. A step
// that misses the deadline is abandoned: its eventual result is discarded,
// but the session takes one caller at a time, so the next step first waits
// for the abandoned call to return before touching the backend again.
func (e *Engine) runStep(step model.GenStep) (model.GenResult, error) {
	e.fence()

	if e.deadline <= 0 {
		out, err := e.sess.Step(step)
		if err != nil {
			return model.GenResult{}, fmt.Errorf("%w: %w", ErrStepFailed, err)
		}
		return out, nil
	}

	ch := make(chan stepOut, 1)
	go func() {
		res, err := e.sess.Step(step)
		ch <- stepOut{res, err}
	}()

	timer := time.NewTimer(e.deadline)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.err != nil {
			return model.GenResult{}, fmt.Errorf("%w: %w", ErrStepFailed, out.err)
		}
		return out.res, nil
	case <-timer.C:
		e.pending = ch
		return model.GenResult{}, fmt.Errorf("%w: after %v", ErrStepDeadline, e.deadline)
	}
}

// fence waits out a backend call abandoned by a missed deadline and discards
// its result.
func (e *Engine) fence() {
	if e.pending != nil {
		<-e.pending
		e.pending = nil
	}
}

// fail records one step failure and returns err, or [ErrEngineDead] once the
// consecutive budget is exhausted.
func (e *Engine) fail(err error) error {
	e.consecFails++
	if e.consecFails >= e.failureBudget {
		return fmt.Errorf("%w: last error: %w", ErrEngineDead, err)
	}
	return err
}

// Drain moves the engine into the Draining state. No further real steps are
// accepted; the conversation flushes the playback tail and then calls Close.
func (e *Engine) Drain() error {
	switch e.state {
	case StateReady, StateStepping:
		e.state = StateDraining
		return nil
	case StateDraining:
		return nil
	default:
		return fmt.Errorf("%w: Drain in %s", ErrWrongState, e.state)
	}
}

// Close releases the generation session. Safe to call more than once.
func (e *Engine) Close() error {
	if e.state == StateClosed {
		return nil
	}
	e.state = StateClosed
	e.fence()
	return e.sess.Close()
}

// Reassemble concatenates the generated codebook subset with the pass-through
// codebooks taken from the real encoded input, in the codebook order used at
// encode time: generated tokens occupy the first GeneratedCodebooks slots,
// the input's trailing codebooks fill the rest. Any length disagreement is an
// explicit error; feeding a wrong-length set to the decoder produces subtly
// scrambled audio rather than a crash, so this is checked eagerly.
func Reassemble(generated []int32, input codec.Codes, cfg model.Config) ([]int32, error) {
	if len(generated) != cfg.GeneratedCodebooks {
		return nil, fmt.Errorf("%w: %d generated codes, want %d",
			ErrStepFailed, len(generated), cfg.GeneratedCodebooks)
	}
	if len(input.Tokens) != cfg.TotalCodebooks {
		return nil, fmt.Errorf("%w: %d input codes, want %d",
			ErrStepFailed, len(input.Tokens), cfg.TotalCodebooks)
	}
	full := make([]int32, cfg.TotalCodebooks)
	n := copy(full, generated)
	copy(full[n:], input.Tokens[n:])
	return full, nil
}
