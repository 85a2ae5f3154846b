// Package app wires the Oratio subsystems into a running server: the
// conversation manager that owns every live pipeline, and the HTTP surface
// exposing media-stream endpoints and the suggestion control plane.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evandegr/oratio/internal/config"
	"github.com/evandegr/oratio/internal/conversation"
	"github.com/evandegr/oratio/internal/observe"
	"github.com/evandegr/oratio/pkg/audio/device"
	"github.com/evandegr/oratio/pkg/audio/resample"
	"github.com/evandegr/oratio/pkg/model"
	"github.com/evandegr/oratio/pkg/suggest"
)

// ErrNotFound is returned for operations on an unknown conversation ID.
var ErrNotFound = errors.New("app: conversation not found")

// ErrShuttingDown rejects new conversations once shutdown has begun.
var ErrShuttingDown = errors.New("app: shutting down")

// ConversationInfo is a point-in-time summary of one live conversation.
type ConversationInfo struct {
	ID        string             `json:"id"`
	StartedAt time.Time          `json:"started_at"`
	Stats     conversation.Stats `json:"stats"`
}

// managed pairs a running conversation with its cancel handle.
type managed struct {
	conv      *conversation.Conversation
	cancel    context.CancelFunc
	startedAt time.Time
	done      chan struct{}
}

// Manager owns every live conversation. All exported methods are safe for
// concurrent use.
type Manager struct {
	backend model.Backend
	cfg     *config.Config
	cap     model.Capability
	met     *observe.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	convs    map[string]*managed
	draining bool
}

// NewManager creates a Manager serving conversations from the given backend.
// The step deadline, when not configured explicitly, is derived from the
// detected compute capability: tight on accelerators, loose on CPU.
func NewManager(backend model.Backend, cfg *config.Config, met *observe.Metrics, log *slog.Logger) *Manager {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		backend: backend,
		cfg:     cfg,
		cap:     model.DetectCapability(),
		met:     met,
		log:     log,
		convs:   make(map[string]*managed),
	}
}

// Capability returns the detected compute capability.
func (m *Manager) Capability() model.Capability { return m.cap }

// stepDeadline resolves the per-step deadline: the configured value when set,
// otherwise twice the frame duration on accelerators and ten times on CPU.
func (m *Manager) stepDeadline() time.Duration {
	if m.cfg.Engine.StepDeadline > 0 {
		return m.cfg.Engine.StepDeadline
	}
	frame := m.backend.Describe().FrameDuration()
	if m.cap.Kind == model.KindCPU {
		return 10 * frame
	}
	return 2 * frame
}

// Start builds a conversation around the open device stream and runs it on
// its own goroutine until the stream's input ends or ctx is cancelled. The
// conversation removes itself from the manager when it finishes.
func (m *Manager) Start(ctx context.Context, dev device.Stream) (string, error) {
	conv, err := conversation.New(conversation.Config{
		Backend:          m.backend,
		Device:           dev,
		Quality:          resample.Quality(m.cfg.Audio.ResampleQuality),
		PlaybackCapacity: m.cfg.Audio.PlaybackCapacity,
		StepDeadline:     m.stepDeadline(),
		FailureBudget:    m.cfg.Engine.FailureBudget,
		SuggestionDepth:  m.cfg.Engine.SuggestionDepth,
		SuggestionWindow: m.cfg.Engine.SuggestionWindow,
		Seed:             m.cfg.Model.Seed,
		Metrics:          m.met,
		Logger:           m.log,
	})
	if err != nil {
		return "", fmt.Errorf("app: start conversation: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	mc := &managed{
		conv:      conv,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		cancel()
		conv.Close()
		return "", ErrShuttingDown
	}
	m.convs[conv.ID()] = mc
	m.mu.Unlock()

	m.log.Info("conversation started", "conversation_id", conv.ID())

	// Transcript consumer. Entries go to the debug log; an external memory
	// collaborator would subscribe here instead.
	go func() {
		for e := range conv.Transcript() {
			m.log.Debug("transcript",
				"conversation_id", e.ConversationID,
				"step", e.Step,
				"text", e.Text,
				"forced", e.Forced,
				"echo", e.Echo)
		}
	}()

	go func() {
		defer close(mc.done)
		err := conv.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("conversation ended with error",
				"conversation_id", conv.ID(), "error", err)
		} else {
			m.log.Info("conversation ended", "conversation_id", conv.ID())
		}
		m.mu.Lock()
		delete(m.convs, conv.ID())
		m.mu.Unlock()
	}()
	return conv.ID(), nil
}

// Suggest routes a suggestion to the named conversation.
func (m *Manager) Suggest(ctx context.Context, id string, s suggest.Suggestion) error {
	m.mu.Lock()
	mc, ok := m.convs[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return mc.conv.Suggest(ctx, s)
}

// Say schedules a scripted utterance on the named conversation.
func (m *Manager) Say(id, text string) error {
	m.mu.Lock()
	mc, ok := m.convs[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return mc.conv.Say(text)
}

// Stop cancels the named conversation and waits for it to finish.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	mc, ok := m.convs[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	mc.cancel()
	select {
	case <-mc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns summaries of all live conversations.
func (m *Manager) List() []ConversationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]ConversationInfo, 0, len(m.convs))
	for id, mc := range m.convs {
		infos = append(infos, ConversationInfo{
			ID:        id,
			StartedAt: mc.startedAt,
			Stats:     mc.conv.Stats(),
		})
	}
	return infos
}

// Ready reports whether the manager can accept new conversations. It backs
// the readiness probe.
func (m *Manager) Ready(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return ErrShuttingDown
	}
	return nil
}

// Active returns the number of live conversations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Shutdown stops accepting new conversations, cancels the live ones, and
// waits for them to drain or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	waiting := make([]*managed, 0, len(m.convs))
	for _, mc := range m.convs {
		mc.cancel()
		waiting = append(waiting, mc)
	}
	m.mu.Unlock()

	for _, mc := range waiting {
		select {
		case <-mc.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
