// Package conversation assembles the full streaming pipeline for one live
// session: device audio in, resampled to the model rate, framed, tokenised,
// advanced through the generator, detokenised, resampled back, and buffered
// for playback. The conversation owns every stage and tears them down as a
// unit.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/evandegr/oratio/internal/observe"
	"github.com/evandegr/oratio/pkg/audio"
	"github.com/evandegr/oratio/pkg/audio/device"
	"github.com/evandegr/oratio/pkg/audio/playback"
	"github.com/evandegr/oratio/pkg/audio/resample"
	"github.com/evandegr/oratio/pkg/codec"
	"github.com/evandegr/oratio/pkg/gen"
	"github.com/evandegr/oratio/pkg/model"
	"github.com/evandegr/oratio/pkg/suggest"
	"github.com/evandegr/oratio/pkg/transcript"
)

// arenaSlots is the input frame ring depth. Sized so several device chunks
// can land between frame extractions without overwriting live views.
const arenaSlots = 8

// transcriptBuffer is the transcript fan-out channel depth.
const transcriptBuffer = 64

// Config assembles a conversation. Backend and Device are required; zero
// values elsewhere select defaults.
type Config struct {
	// ID names the conversation. Empty generates a UUID.
	ID string

	// Backend is the loaded model backend shared across conversations.
	Backend model.Backend

	// Device is the open audio session this conversation serves.
	Device device.Stream

	// Quality selects the resampler filter profile.
	Quality resample.Quality

	// PlaybackCapacity is the playback buffer depth in frames.
	PlaybackCapacity int

	// StepDeadline bounds one generation step. Zero disables the deadline.
	StepDeadline time.Duration

	// FailureBudget is the consecutive step failures tolerated before the
	// conversation dies. Zero selects the default.
	FailureBudget int

	// SuggestionDepth and SuggestionWindow tune the suggestion queue.
	SuggestionDepth  int
	SuggestionWindow time.Duration

	// Seed fixes generation sampling. Zero keeps it nondeterministic.
	Seed uint64

	// Metrics receives pipeline instruments. Nil uses the defaults.
	Metrics *observe.Metrics

	// Logger receives pipeline logs. Nil uses the default logger.
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of pipeline progress.
type Stats struct {
	// FramesIn is the number of model frames encoded from input audio.
	FramesIn int64

	// FramesOut is the number of frames decoded to output audio.
	FramesOut int64

	// FramesSkipped is the number of frames replaced with silence after a
	// recoverable step failure.
	FramesSkipped int64

	// GeneratedAudio is the generated-audio clock.
	GeneratedAudio time.Duration

	// PlaybackUnderflows counts playback pulls served with silence.
	PlaybackUnderflows int64
}

// Conversation is one live session. Construct with [New]; every model stage
// is warmed before New returns, so the first real frame never pays warmup
// cost or touches a cold cache.
type Conversation struct {
	id  string
	cfg model.Config
	log *slog.Logger
	met *observe.Metrics

	dev      device.Stream
	pair     *resample.Pair
	arena    *codec.FrameArena
	codec    *codec.Stream
	queue    *suggest.Queue
	playback *playback.Buffer
	ts       *transcript.Stream
	echo     transcript.EchoDetector

	// mu serialises engine access between the pipeline loop and Say.
	mu     sync.Mutex
	engine *gen.Engine

	devFrame int // playback frame size at the device rate

	// Loop-goroutine-only bookkeeping for delta-recorded playback metrics.
	lastUnderflows int64
	lastDepth      int64

	skipped   atomic.Int64
	closeOnce sync.Once
}

// New builds and warms the full pipeline. On any failure every stage already
// constructed is torn down and an error describing the failed stage is
// returned; a partially warmed conversation is never handed out.
func New(cfg Config) (*Conversation, error) {
	if cfg.Backend == nil {
		return nil, errors.New("conversation: backend is required")
	}
	if cfg.Device == nil {
		return nil, errors.New("conversation: device is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Quality == "" {
		cfg.Quality = resample.QualityHigh
	}
	if cfg.PlaybackCapacity <= 0 {
		cfg.PlaybackCapacity = playback.DefaultCapacity
	}

	mc := cfg.Backend.Describe()
	devRate := cfg.Device.SampleRate()

	// One model frame must map to a whole number of device samples, or the
	// playback clock drifts against the device clock.
	if mc.FrameSize*devRate%mc.SampleRate != 0 {
		return nil, fmt.Errorf("conversation: device rate %d Hz does not divide the %v model frame",
			devRate, mc.FrameDuration())
	}
	devFrame := mc.FrameSize * devRate / mc.SampleRate

	pair, err := resample.NewPair(devRate, mc.SampleRate, cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("conversation: resampler: %w", err)
	}

	arena, err := codec.NewFrameArena(mc.FrameSize, arenaSlots)
	if err != nil {
		return nil, fmt.Errorf("conversation: frame arena: %w", err)
	}

	queue, err := suggest.NewQueue(cfg.SuggestionDepth, cfg.SuggestionWindow)
	if err != nil {
		return nil, fmt.Errorf("conversation: suggestion queue: %w", err)
	}

	cs, err := codec.NewStream(cfg.Backend)
	if err != nil {
		queue.Close()
		return nil, err
	}

	genOpts := []gen.Option{
		gen.WithSeed(cfg.Seed),
		gen.WithDeadline(cfg.StepDeadline),
		gen.WithSuggestions(queue),
	}
	if cfg.FailureBudget > 0 {
		genOpts = append(genOpts, gen.WithFailureBudget(cfg.FailureBudget))
	}
	engine, err := gen.New(cfg.Backend, genOpts...)
	if err != nil {
		_ = cs.Close()
		queue.Close()
		return nil, err
	}

	pb, err := playback.New(playback.Config{
		FrameSize:  devFrame,
		SampleRate: devRate,
		Capacity:   cfg.PlaybackCapacity,
	})
	if err != nil {
		_ = engine.Close()
		_ = cs.Close()
		queue.Close()
		return nil, fmt.Errorf("conversation: playback: %w", err)
	}

	c := &Conversation{
		id:       cfg.ID,
		cfg:      mc,
		log:      cfg.Logger.With("conversation_id", cfg.ID),
		met:      cfg.Metrics,
		dev:      cfg.Device,
		pair:     pair,
		arena:    arena,
		codec:    cs,
		queue:    queue,
		engine:   engine,
		playback: pb,
		ts:       transcript.NewStream(transcriptBuffer),
		devFrame: devFrame,
	}
	c.log.Info("conversation ready",
		"device_rate", devRate,
		"model_rate", mc.SampleRate,
		"frame", mc.FrameDuration())
	return c, nil
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// Transcript returns the transcript entry stream for this conversation.
func (c *Conversation) Transcript() <-chan transcript.Entry { return c.ts.Entries() }

// Stats returns a progress snapshot. While Run is active the counters are
// advisory; after Run returns they are exact.
func (c *Conversation) Stats() Stats {
	c.mu.Lock()
	generated := c.engine.GeneratedAudio()
	c.mu.Unlock()
	return Stats{
		FramesIn:           c.codec.Encoded(),
		FramesOut:          c.codec.Decoded() - c.skipped.Load(),
		FramesSkipped:      c.skipped.Load(),
		GeneratedAudio:     generated,
		PlaybackUnderflows: c.playback.Underflows(),
	}
}

// Suggest offers an external steering hint. Non-blocking: a full queue
// rejects immediately with [suggest.ErrQueueFull].
func (c *Conversation) Suggest(ctx context.Context, s suggest.Suggestion) error {
	err := c.queue.TryPush(s)
	switch {
	case err == nil:
		c.met.RecordSuggestion(ctx, "accepted")
	case errors.Is(err, suggest.ErrQueueFull):
		c.met.RecordSuggestion(ctx, "rejected")
	}
	return err
}

// Say schedules text to be force-generated over the coming steps.
func (c *Conversation) Say(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Say(text)
}

// Run starts playback and drives the pipeline until the device input ends,
// the context is cancelled, or a fatal pipeline error occurs. It drains the
// playback tail on clean shutdown and always leaves the conversation closed.
func (c *Conversation) Run(ctx context.Context) error {
	defer c.Close()

	c.met.ActiveConversations.Add(ctx, 1)
	defer c.met.ActiveConversations.Add(ctx, -1)
	defer func() {
		c.syncPlaybackMetrics(ctx)
		c.met.PlaybackDepth.Add(ctx, -c.lastDepth)
		c.lastDepth = 0
	}()

	if err := c.dev.Start(c.playback.Pull); err != nil {
		return fmt.Errorf("conversation: start device: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(ctx) })
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("conversation failed", "error", err)
	}
	return err
}

func (c *Conversation) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.dev.Input():
			if !ok {
				return c.drain(ctx)
			}
			if err := c.ingest(ctx, chunk); err != nil {
				return err
			}
		}
	}
}

// ingest resamples one device chunk to the model rate, frames it, and steps
// every complete frame through the pipeline.
func (c *Conversation) ingest(ctx context.Context, chunk []int16) error {
	pcm, err := c.pair.ToModel(chunk)
	if err != nil {
		return fmt.Errorf("conversation: resample input: %w", err)
	}
	if err := c.arena.Append(pcm); err != nil {
		return fmt.Errorf("conversation: frame input: %w", err)
	}
	for {
		frame, ok := c.arena.Next()
		if !ok {
			return nil
		}
		if err := c.step(ctx, frame); err != nil {
			return err
		}
	}
}

// step advances one model frame end to end. Recoverable generation failures
// surrender the frame's output slot to silence and return nil; codec errors
// and an exhausted failure budget are fatal.
func (c *Conversation) step(ctx context.Context, frame audio.Frame) error {
	t0 := time.Now()
	codes, err := c.codec.Encode(frame)
	if err != nil {
		return err
	}
	observe.RecordStageDuration(ctx, c.met.EncodeDuration, time.Since(t0))

	t0 = time.Now()
	c.mu.Lock()
	res, err := c.engine.Step(codes)
	c.mu.Unlock()
	observe.RecordStageDuration(ctx, c.met.StepDuration, time.Since(t0))
	if err != nil {
		return c.stepFailed(ctx, frame.Seq, err)
	}
	if res.Suggestion != nil {
		c.met.RecordSuggestion(ctx, "consumed")
		c.echo.Arm(res.Suggestion.Text)
	}

	t0 = time.Now()
	out, err := c.codec.Decode(res.Codes)
	if err != nil {
		return err
	}
	observe.RecordStageDuration(ctx, c.met.DecodeDuration, time.Since(t0))

	pcm, err := c.pair.ToDevice(out.PCM)
	if err != nil {
		return fmt.Errorf("conversation: resample output: %w", err)
	}
	if err := c.playback.Offer(ctx, pcm); err != nil {
		return fmt.Errorf("conversation: offer frame %d: %w", frame.Seq, err)
	}
	c.syncPlaybackMetrics(ctx)

	if res.Text != "" {
		c.emitTranscript(res, out.Timestamp)
	}
	return nil
}

// stepFailed handles one generation failure: fatal errors propagate, while a
// recoverable failure skips the frame's decode slot and plays silence in its
// place so the output clock keeps pace with the input clock.
func (c *Conversation) stepFailed(ctx context.Context, seq int64, err error) error {
	if errors.Is(err, gen.ErrEngineDead) || errors.Is(err, gen.ErrWrongState) {
		return err
	}

	reason := "error"
	if errors.Is(err, gen.ErrStepDeadline) {
		reason = "deadline"
	}
	c.met.RecordStepFailure(ctx, reason)
	c.log.Warn("generation step failed, playing silence", "seq", seq, "error", err)

	if err := c.codec.SkipDecode(); err != nil {
		return err
	}
	c.skipped.Add(1)
	if err := c.playback.Offer(ctx, make([]int16, c.devFrame)); err != nil {
		return fmt.Errorf("conversation: offer silence for frame %d: %w", seq, err)
	}
	c.syncPlaybackMetrics(ctx)
	return nil
}

// syncPlaybackMetrics publishes playback counter deltas since the last call.
// Only the pipeline loop goroutine calls it, so the bookkeeping fields need
// no synchronisation; the true counters advance concurrently and the next
// call picks up whatever was missed.
func (c *Conversation) syncPlaybackMetrics(ctx context.Context) {
	if d := c.playback.Underflows() - c.lastUnderflows; d > 0 {
		c.met.PlaybackUnderflows.Add(ctx, d)
		c.lastUnderflows += d
	}
	depth := int64(c.playback.Depth())
	if d := depth - c.lastDepth; d != 0 {
		c.met.PlaybackDepth.Add(ctx, d)
		c.lastDepth = depth
	}
}

func (c *Conversation) emitTranscript(res gen.Result, ts time.Duration) {
	echo := c.echo.Observe(res.Text)
	before := c.ts.Dropped()
	c.ts.Emit(transcript.Entry{
		ConversationID: c.id,
		Text:           res.Text,
		Step:           res.Codes.Seq,
		Offset:         ts,
		Forced:         res.Forced,
		Echo:           echo,
	})
	if dropped := c.ts.Dropped() - before; dropped > 0 {
		c.met.TranscriptDrops.Add(context.Background(), dropped)
	}
}

// drain flushes the pipeline tail after input ends: the engine stops
// accepting real steps, the playback buffer's padded remainder is queued, and
// the loop waits for the device to pull everything out.
func (c *Conversation) drain(ctx context.Context) error {
	c.log.Info("input ended, draining playback tail")
	c.mu.Lock()
	err := c.engine.Drain()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.playback.Close()
	if err := c.playback.Drain(ctx); err != nil {
		return fmt.Errorf("conversation: drain playback: %w", err)
	}
	return nil
}

// Close tears every stage down. Idempotent; Run calls it on exit.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		_ = c.dev.Close()
		c.playback.Close()
		c.queue.Close()
		c.mu.Lock()
		_ = c.engine.Close()
		c.mu.Unlock()
		_ = c.codec.Close()
		c.ts.Close()
		c.log.Info("conversation closed")
	})
}
