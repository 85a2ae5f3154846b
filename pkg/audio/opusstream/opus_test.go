package opusstream

import (
	"math"
	"testing"
)

func TestSplitPackets(t *testing.T) {
	t.Parallel()

	pcm := make([]int16, PacketSamples*4)
	packets := splitPackets(pcm)
	if len(packets) != 4 {
		t.Fatalf("got %d packets, want 4", len(packets))
	}

	// A trailing partial packet is zero-padded to full size.
	pcm = make([]int16, PacketSamples+100)
	for i := range pcm {
		pcm[i] = 1
	}
	packets = splitPackets(pcm)
	if len(packets) != 2 {
		t.Fatalf("got %d packets, want 2", len(packets))
	}
	if len(packets[1]) != PacketSamples {
		t.Fatalf("padded packet has %d samples, want %d", len(packets[1]), PacketSamples)
	}
	for i := 100; i < PacketSamples; i++ {
		if packets[1][i] != 0 {
			t.Fatalf("sample %d of padded packet is %d, want 0", i, packets[1][i])
		}
	}

	if splitPackets(nil) != nil {
		t.Fatal("expected no packets for empty input")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	enc, err := newEncoder()
	if err != nil {
		t.Fatalf("newEncoder: %v", err)
	}
	dec, err := newDecoder()
	if err != nil {
		t.Fatalf("newDecoder: %v", err)
	}

	// 440 Hz tone at moderate amplitude.
	pcm := make([]int16, PacketSamples)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(SampleRate)))
	}

	packet, err := enc.encode(pcm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(packet) == 0 {
		t.Fatal("encoder produced an empty packet")
	}

	out, err := dec.decode(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != PacketSamples {
		t.Fatalf("decoded %d samples, want %d", len(out), PacketSamples)
	}
}

func TestEncodeRejectsWrongPacketSize(t *testing.T) {
	t.Parallel()

	enc, err := newEncoder()
	if err != nil {
		t.Fatalf("newEncoder: %v", err)
	}
	if _, err := enc.encode(make([]int16, PacketSamples-1)); err == nil {
		t.Fatal("expected error for short packet")
	}
}

func TestNewServerRequiresHandler(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
