package opusstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/evandegr/oratio/pkg/audio/device"
)

// DefaultFrameDuration is how often the write loop pulls a playback frame.
const DefaultFrameDuration = 80 * time.Millisecond

// ErrStreamClosed is returned by Start after the stream has shut down.
var ErrStreamClosed = errors.New("opusstream: stream closed")

// Stream adapts one accepted Opus WebSocket to [device.Stream].
type Stream struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger

	frameDur time.Duration
	dec      *decoder
	enc      *encoder

	input chan []int16

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newStream(ctx context.Context, conn *websocket.Conn, frameDur time.Duration, log *slog.Logger) (*Stream, error) {
	dec, err := newDecoder()
	if err != nil {
		return nil, err
	}
	enc, err := newEncoder()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		id:       id,
		conn:     conn,
		log:      log.With("stream_id", id),
		frameDur: frameDur,
		dec:      dec,
		enc:      enc,
		input:    make(chan []int16, 16),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// ID identifies the stream for logging and conversation lookup.
func (s *Stream) ID() string { return s.id }

// SampleRate reports the fixed stream rate.
func (s *Stream) SampleRate() int { return SampleRate }

// Input yields decoded caller audio in packet increments. The channel closes
// when the stream ends.
func (s *Stream) Input() <-chan []int16 { return s.input }

// Start launches the outbound write loop. pull is invoked once per frame
// interval and must not block; a nil or empty return skips the interval.
func (s *Stream) Start(pull func() []int16) error {
	select {
	case <-s.ctx.Done():
		return ErrStreamClosed
	default:
	}
	s.startOnce.Do(func() {
		go s.writeLoop(pull)
	})
	return nil
}

// Close tears down both loops and the socket.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
		close(s.done)
	})
	return nil
}

// Done is closed once the stream has fully shut down.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) readLoop() {
	defer close(s.input)
	defer s.Close()
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.log.Warn("opus stream read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		pcm, err := s.dec.decode(data)
		if err != nil {
			s.log.Warn("discarding undecodable opus packet", "error", err)
			continue
		}
		select {
		case s.input <- pcm:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Stream) writeLoop(pull func() []int16) {
	ticker := time.NewTicker(s.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		frame := pull()
		if len(frame) == 0 {
			continue
		}
		for _, pcm := range splitPackets(frame) {
			packet, err := s.enc.encode(pcm)
			if err != nil {
				s.log.Warn("opus encode failed", "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			err = s.conn.Write(ctx, websocket.MessageBinary, packet)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.log.Warn("opus stream write failed", "error", err)
				}
				s.Close()
				return
			}
		}
	}
}

var _ device.Stream = (*Stream)(nil)

// Handler is invoked once per accepted Opus stream. It owns the stream's
// lifetime and must Close it when done.
type Handler func(*Stream)

// Server accepts Opus WebSockets and hands each one to a Handler.
type Server struct {
	handler  Handler
	frameDur time.Duration
	log      *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFrameDuration overrides the playback pull interval.
func WithFrameDuration(d time.Duration) ServerOption {
	return func(s *Server) { s.frameDur = d }
}

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer builds an Opus stream server around handler.
func NewServer(handler Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("opusstream: handler must not be nil")
	}
	s := &Server{
		handler:  handler,
		frameDur: DefaultFrameDuration,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ServeHTTP upgrades the request and hands the stream off to the handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("opus stream upgrade failed", "error", err)
		return
	}
	stream, err := newStream(r.Context(), conn, s.frameDur, s.log)
	if err != nil {
		s.log.Error("opus stream setup failed", "error", err)
		conn.Close(websocket.StatusInternalError, "codec setup failed")
		return
	}
	s.log.Info("opus stream accepted", "stream_id", stream.ID())
	s.handler(stream)
	<-stream.Done()
}
