package resample_test

import (
	"math"
	"testing"

	"github.com/evandegr/oratio/pkg/audio/resample"
)

// sine generates n samples of a sine tone at freq Hz / rate Hz with the given
// int16 amplitude.
func sine(n int, freq float64, rate int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// dominantCrossings counts sign changes, a cheap frequency proxy.
func dominantCrossings(pcm []int16) int {
	c := 0
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] < 0) != (pcm[i] < 0) {
			c++
		}
	}
	return c
}

func TestNewPair_RejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := resample.NewPair(0, 24000, resample.QualityHigh); err == nil {
		t.Error("zero device rate accepted")
	}
	if _, err := resample.NewPair(48000, 24000, resample.Quality("ultra")); err == nil {
		t.Error("unknown quality accepted")
	}
}

func TestPair_IdentityWhenRatesEqual(t *testing.T) {
	t.Parallel()

	p, err := resample.NewPair(24000, 24000, resample.QualityHigh)
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	in := []int16{1, 2, 3}
	out, err := p.ToModel(in)
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if &out[0] != &in[0] {
		t.Error("equal-rate conversion should be a passthrough")
	}
}

func TestPair_RoundTripPreservesFrequency(t *testing.T) {
	t.Parallel()

	const (
		deviceRate = 48000
		modelRate  = 24000
		freq       = 440.0
	)
	p, err := resample.NewPair(deviceRate, modelRate, resample.QualityFast)
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}

	// One full second so edge effects are negligible.
	in := sine(deviceRate, freq, deviceRate, 12000)
	down, err := p.ToModel(in)
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	up, err := p.ToDevice(down)
	if err != nil {
		t.Fatalf("ToDevice: %v", err)
	}

	// A 440 Hz tone crosses zero ~880 times per second regardless of rate.
	want := dominantCrossings(in)
	got := dominantCrossings(up)
	if diff := got - want; diff < -9 || diff > 9 {
		t.Errorf("round-trip zero crossings = %d, want %d ±9 (frequency shifted)", got, want)
	}

	// Round-trip SNR against the original tone, ignoring filter edges.
	n := min(len(in), len(up))
	margin := deviceRate / 100 // 10 ms off each end
	var sig, noise float64
	for i := margin; i < n-margin; i++ {
		s := float64(in[i])
		e := float64(in[i]) - float64(up[i])
		sig += s * s
		noise += e * e
	}
	if noise > 0 {
		snr := 10 * math.Log10(sig/noise)
		if snr < 15 {
			t.Errorf("round-trip SNR = %.1f dB, want >= 15 dB", snr)
		}
	}
}

func TestPair_TelephonyUpDownRatio(t *testing.T) {
	t.Parallel()

	p, err := resample.NewPair(8000, 24000, resample.QualityFast)
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	out, err := p.ToModel(make([]int16, 160)) // one 20 ms chunk
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if len(out) != 480 {
		t.Errorf("ToModel(160 @8k) = %d samples, want 480", len(out))
	}
	back, err := p.ToDevice(out)
	if err != nil {
		t.Fatalf("ToDevice: %v", err)
	}
	if len(back) != 160 {
		t.Errorf("ToDevice(480 @24k) = %d samples, want 160", len(back))
	}
}
