// Package loopback provides an in-process [device.Device] used by tests and
// the regression fixture: input PCM is fed programmatically, output frames
// are collected, and the playback clock is ticked manually so tests are
// deterministic.
package loopback

import (
	"context"
	"sync"

	"github.com/evandegr/oratio/pkg/audio/device"
)

// Device is the loopback endpoint. Open may be called once per Device.
type Device struct {
	// Rate is the negotiated sample rate Open reports regardless of the
	// preferred rate, emulating a device that only supports one rate.
	// Defaults to 48000.
	Rate int

	mu     sync.Mutex
	stream *Stream
}

var _ device.Device = (*Device)(nil)

// Open implements [device.Device].
func (d *Device) Open(_ context.Context, _ device.Params) (device.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate := d.Rate
	if rate == 0 {
		rate = 48000
	}
	d.stream = &Stream{
		rate:  rate,
		input: make(chan []int16, 64),
	}
	return d.stream, nil
}

// Stream returns the stream created by Open, for test-side feeding.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// Stream is the loopback session.
type Stream struct {
	rate  int
	input chan []int16

	mu     sync.Mutex
	pull   func() []int16
	out    [][]int16
	closed bool
}

var _ device.Stream = (*Stream)(nil)

// SampleRate implements [device.Stream].
func (s *Stream) SampleRate() int { return s.rate }

// Input implements [device.Stream].
func (s *Stream) Input() <-chan []int16 { return s.input }

// Start implements [device.Stream]. Playback is driven by [Stream.Tick], not
// a wall-clock callback, so tests control time.
func (s *Stream) Start(pull func() []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pull = pull
	return nil
}

// Feed delivers captured PCM to the conversation. Returns false once the
// stream is closed. The lock is held across the send so a concurrent
// [Stream.EndInput] cannot close the channel mid-delivery.
func (s *Stream) Feed(pcm []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.input <- pcm
	return true
}

// EndInput closes the capture side without tearing down playback, emulating
// the far end going silent.
func (s *Stream) EndInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.input)
	}
}

// Tick invokes the pull callback once, as the device's real-time callback
// would, and records the pulled frame.
func (s *Stream) Tick() []int16 {
	s.mu.Lock()
	pull := s.pull
	s.mu.Unlock()
	if pull == nil {
		return nil
	}
	frame := pull()
	s.mu.Lock()
	s.out = append(s.out, frame)
	s.mu.Unlock()
	return frame
}

// Output returns all frames pulled so far.
func (s *Stream) Output() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.out))
	copy(out, s.out)
	return out
}

// Close implements [device.Stream].
func (s *Stream) Close() error {
	s.EndInput()
	return nil
}
