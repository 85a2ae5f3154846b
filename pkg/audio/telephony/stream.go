package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/evandegr/oratio/pkg/audio/device"
)

// Stream adapts one accepted media-stream WebSocket to [device.Stream].
//
// The read loop decodes inbound media events onto Input. Start launches the
// write loop, which pulls one playback frame per frame interval, splits it
// into wire chunks, and sends them as media events. Both loops stop when the
// peer sends a stop event, the socket fails, or Close is called.
type Stream struct {
	conn      *websocket.Conn
	streamSID string
	log       *slog.Logger

	frameDur time.Duration

	input chan []int16

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// ErrStreamClosed is returned by Start after the stream has shut down.
var ErrStreamClosed = errors.New("telephony: stream closed")

func newStream(ctx context.Context, conn *websocket.Conn, start StartInfo, frameDur time.Duration, log *slog.Logger) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		conn:      conn,
		streamSID: start.StreamSID,
		log:       log.With("stream_sid", start.StreamSID),
		frameDur:  frameDur,
		input:     make(chan []int16, 16),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// StreamSID identifies the media stream as announced by the gateway.
func (s *Stream) StreamSID() string { return s.streamSID }

// SampleRate reports the fixed telephony rate.
func (s *Stream) SampleRate() int { return SampleRate }

// Input yields inbound caller audio in wire-chunk increments. The channel
// closes when the stream ends.
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
				s.log.Warn("media stream read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := Unmarshal(data)
		if err != nil {
			s.log.Warn("discarding malformed media message", "error", err)
			continue
		}
		switch env.Event {
		case EventMedia:
			if env.Media == nil {
				continue
			}
			pcm, err := DecodePayload(env.Media.Payload)
			if err != nil {
				s.log.Warn("discarding undecodable media payload", "error", err)
				continue
			}
			select {
			case s.input <- pcm:
			case <-s.ctx.Done():
				return
			}
		case EventStop:
			s.log.Info("media stream stopped by peer")
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
		for _, chunk := range SplitChunks(frame) {
			if err := s.send(MediaEnvelope(s.streamSID, chunk)); err != nil {
				if s.ctx.Err() == nil {
					s.log.Warn("media stream write failed", "error", err)
				}
				s.Close()
				return
			}
		}
	}
}

func (s *Stream) send(env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write %s event: %w", env.Event, err)
	}
	return nil
}

var _ device.Stream = (*Stream)(nil)
