// Package telephony bridges a telephony media stream to the conversation
// pipeline. The wire protocol is the JSON event stream spoken by common
// telephony media gateways: a "start" event announcing the stream, "media"
// events carrying base64 mu-law 8 kHz payloads in 20 ms increments, and a
// "stop" event at hangup. Call signaling is out of scope; by the time a
// WebSocket reaches this package, the call already exists.
//
// Audio is companded with g711 mu-law and rebuffered between the 20 ms wire
// chunk size and the model's 80 ms frame size in both directions.
package telephony

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/zaf/g711"

	"github.com/evandegr/oratio/pkg/audio"
)

// SampleRate is the fixed telephony media-stream rate in Hz.
const SampleRate = 8000

// ChunkSamples is the number of samples per 20 ms media event payload.
const ChunkSamples = 160

// Event names used on the media stream.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// Envelope is one media-stream message. Only the fields for the named event
// are populated.
type Envelope struct {
	Event     string     `json:"event"`
	StreamSID string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
}

// StartInfo announces a new media stream.
type StartInfo struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid,omitempty"`
	AccountID string `json:"accountSid,omitempty"`
}

// MediaInfo carries one audio chunk.
type MediaInfo struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

// Marshal encodes an envelope for the wire.
func Marshal(env Envelope) ([]byte, error) {
	data, err := sonic.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("telephony: marshal %s event: %w", env.Event, err)
	}
	return data, nil
}

// Unmarshal decodes one wire message.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("telephony: unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("telephony: envelope missing event field")
	}
	return env, nil
}

// DecodePayload converts a media event's base64 mu-law payload to linear PCM.
func DecodePayload(payload string) ([]int16, error) {
	ulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: decode media payload: %w", err)
	}
	return audio.BytesToInt16(g711.DecodeUlaw(ulaw)), nil
}

// EncodePayload converts linear PCM to a base64 mu-law media payload.
func EncodePayload(pcm []int16) string {
	ulaw := g711.EncodeUlaw(audio.Int16ToBytes(pcm))
	return base64.StdEncoding.EncodeToString(ulaw)
}

// MediaEnvelope builds an outbound media event for one chunk of PCM.
func MediaEnvelope(streamSID string, pcm []int16) Envelope {
	return Envelope{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     &MediaInfo{Payload: EncodePayload(pcm)},
	}
}

// SplitChunks slices pcm into wire-sized chunks of [ChunkSamples]. A trailing
// partial chunk is emitted as-is; the gateway tolerates short final packets.
func SplitChunks(pcm []int16) [][]int16 {
	var chunks [][]int16
	for len(pcm) > 0 {
		n := min(len(pcm), ChunkSamples)
		chunks = append(chunks, pcm[:n])
		pcm = pcm[n:]
	}
	return chunks
}
