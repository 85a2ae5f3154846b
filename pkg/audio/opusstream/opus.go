// Package opusstream exposes the conversation pipeline to remote audio
// clients over a WebSocket carrying raw Opus packets as binary messages.
// The stream is 48 kHz mono at 20 ms packet size; the write loop pulls one
// playback frame per interval and fans it out as consecutive packets.
package opusstream

import (
	"fmt"

	"layeh.com/gopus"
)

// The stream format is fixed: 48 kHz mono Opus at 20 ms packet size.
const (
	SampleRate    = 48000
	Channels      = 1
	packetMs      = 20
	// PacketSamples is the number of samples per 20 ms packet.
	PacketSamples = SampleRate * packetMs / 1000 // 960

	// maxPacketBytes bounds a single encoded Opus packet.
	maxPacketBytes = 4000
)

// decoder wraps a gopus decoder. Each connection gets its own decoder so
// state carries correctly across consecutive packets.
type decoder struct {
	dec *gopus.Decoder
}

func newDecoder() (*decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opusstream: create decoder: %w", err)
	}
	return &decoder{dec: dec}, nil
}

// decode decodes one Opus packet into PCM samples.
func (d *decoder) decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, PacketSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opusstream: decode packet: %w", err)
	}
	return pcm, nil
}

// encoder wraps a gopus encoder for the outbound stream.
type encoder struct {
	enc *gopus.Encoder
}

func newEncoder() (*encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opusstream: create encoder: %w", err)
	}
	return &encoder{enc: enc}, nil
}

// encode encodes exactly one packet's worth of PCM samples.
func (e *encoder) encode(pcm []int16) ([]byte, error) {
	if len(pcm) != PacketSamples {
		return nil, fmt.Errorf("opusstream: encode: got %d samples, want %d", len(pcm), PacketSamples)
	}
	packet, err := e.enc.Encode(pcm, PacketSamples, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opusstream: encode packet: %w", err)
	}
	return packet, nil
}

// splitPackets slices pcm into packet-sized pieces, zero-padding a trailing
// partial packet so the encoder always sees a full one.
func splitPackets(pcm []int16) [][]int16 {
	var packets [][]int16
	for len(pcm) >= PacketSamples {
		packets = append(packets, pcm[:PacketSamples])
		pcm = pcm[PacketSamples:]
	}
	if len(pcm) > 0 {
		padded := make([]int16, PacketSamples)
		copy(padded, pcm)
		packets = append(packets, padded)
	}
	return packets
}
