package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultFrameDuration is how often the write loop pulls a playback frame.
const DefaultFrameDuration = 80 * time.Millisecond

// Handler is invoked once per accepted media stream with a fully established
// Stream. It owns the stream's lifetime and must Close it when done.
type Handler func(*Stream)

// Server accepts media-stream WebSockets and hands each one to a Handler.
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

// NewServer builds a media-stream server around handler.
func NewServer(handler Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("telephony: handler must not be nil")
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

// ServeHTTP upgrades the request and waits for the gateway's start event
// before handing the stream off. Streams that never announce themselves are
// dropped after a short grace period.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("media stream upgrade failed", "error", err)
		return
	}

	start, err := awaitStart(r, conn)
	if err != nil {
		s.log.Warn("media stream rejected", "error", err)
		conn.Close(websocket.StatusPolicyViolation, "expected start event")
		return
	}
	if start.StreamSID == "" {
		start.StreamSID = uuid.NewString()
	}
	s.log.Info("media stream accepted",
		"stream_sid", start.StreamSID, "call_sid", start.CallSID)

	stream := newStream(r.Context(), conn, start, s.frameDur, s.log)
	s.handler(stream)
	<-stream.Done()
}

func awaitStart(r *http.Request, conn *websocket.Conn) (StartInfo, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return StartInfo{}, fmt.Errorf("telephony: waiting for start event: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := Unmarshal(data)
		if err != nil {
			return StartInfo{}, err
		}
		switch env.Event {
		case EventStart:
			if env.Start != nil {
				return *env.Start, nil
			}
			return StartInfo{StreamSID: env.StreamSID}, nil
		case EventMedia:
			// Some gateways lead with media before start; keep waiting.
			continue
		default:
			return StartInfo{}, fmt.Errorf("telephony: unexpected %s event before start", env.Event)
		}
	}
}
