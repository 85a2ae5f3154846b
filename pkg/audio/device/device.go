// Package device defines the interfaces for audio endpoints feeding and
// consuming a conversation: a local microphone/speaker pair, a telephony
// media stream, or an in-process loopback.
//
// The two abstractions are:
//
//   - [Device]: negotiates an actually supported sample rate and opens a
//     [Stream].
//   - [Stream]: one open audio session. Exactly one Stream exists per
//     conversation and it lives for the conversation's entire duration; it is
//     never reopened per frame, because reopen cost and the silence gap it
//     causes scale with generation latency.
//
// Implementations are provided by the adapter packages (device/loopback,
// audio/telephony, audio/opusstream). Interfaces are intentionally narrow so
// the conversation loop stays decoupled from endpoint details.
package device

import (
	"context"

	"github.com/evandegr/oratio/pkg/audio"
)

// Params is the open request for a [Device].
type Params struct {
	// Preferred is the caller's preferred rate and channel count. The device
	// negotiates a genuinely supported rate and reports it via
	// [Stream.SampleRate]; callers must resample against the negotiated
	// rate, never assume the preference was honoured. The pipeline is mono;
	// stereo devices downmix on input and duplicate on output.
	Preferred audio.Format
}

// Stream is one open audio session.
//
// Input PCM arrives as arbitrarily sized chunks at the negotiated rate. The
// output side is pull-based: Start hands the device a pull function it calls
// from its own real-time callback once per frame tick. The pull function must
// never block; the playback buffer's silence-on-empty contract satisfies
// this.
//
// Implementations must be safe for concurrent use of Input, Start and Close.
type Stream interface {
	// SampleRate returns the negotiated rate in Hz.
	SampleRate() int

	// Input returns the channel of captured PCM chunks. Closed when the
	// remote end hangs up or Close is called.
	Input() <-chan []int16

	// Start begins output playback, invoking pull from the device's
	// real-time callback. It returns immediately; playback continues until
	// Close. Start must be called at most once.
	Start(pull func() []int16) error

	// Close tears the session down and closes the Input channel. Safe to
	// call more than once; subsequent calls are no-ops and return nil.
	Close() error
}

// Device is the entry point for an audio endpoint.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open negotiates a supported configuration and opens the session
	// stream. The supplied ctx governs the open attempt only; the returned
	// Stream lives until its Close is called.
	Open(ctx context.Context, p Params) (Stream, error)
}
