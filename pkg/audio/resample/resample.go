// Package resample provides the bidirectional sample-rate converter that sits
// between a device-negotiated rate and the model's fixed rate.
//
// A [Pair] owns two independent streaming resamplers, one per direction, each
// carrying its own filter state across calls. Quality selects the filter
// trade-off: [QualityHigh] uses the polyphase resampler from
// go-audio-resampling, [QualityFast] falls back to linear interpolation for
// rates where the polyphase filter would not fit the per-frame real-time
// budget (telephony-band audio loses nothing audible to it).
package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/evandegr/oratio/pkg/audio"
)

// Quality selects the filter quality / latency trade-off for a [Pair].
type Quality string

const (
	// QualityHigh uses a polyphase filter. Preferred for wideband device
	// audio (44.1/48 kHz).
	QualityHigh Quality = "high"

	// QualityFast uses linear interpolation. Cheapest option; intended for
	// 8 kHz telephony audio where the source band is narrow anyway.
	QualityFast Quality = "fast"
)

// IsValid reports whether q is a recognised quality setting.
func (q Quality) IsValid() bool {
	return q == QualityHigh || q == QualityFast
}

// Pair converts PCM between a device rate and the model rate, bidirectionally.
// One Pair is created per conversation and must not be shared across
// conversations; the underlying resamplers carry filter state. Not safe for
// concurrent use of the same direction from multiple goroutines.
type Pair struct {
	deviceRate int
	modelRate  int
	quality    Quality

	toModel  resampling.Resampler
	toDevice resampling.Resampler
}

// NewPair creates a Pair converting between deviceRate and modelRate.
// If the rates are equal both directions are identity passthroughs.
func NewPair(deviceRate, modelRate int, quality Quality) (*Pair, error) {
	if deviceRate <= 0 || modelRate <= 0 {
		return nil, fmt.Errorf("resample: invalid rates %d↔%d", deviceRate, modelRate)
	}
	if !quality.IsValid() {
		return nil, fmt.Errorf("resample: invalid quality %q", quality)
	}

	p := &Pair{deviceRate: deviceRate, modelRate: modelRate, quality: quality}
	if deviceRate == modelRate || quality == QualityFast {
		return p, nil
	}

	var err error
	if p.toModel, err = newResampler(deviceRate, modelRate); err != nil {
		return nil, fmt.Errorf("resample: device→model: %w", err)
	}
	if p.toDevice, err = newResampler(modelRate, deviceRate); err != nil {
		return nil, fmt.Errorf("resample: model→device: %w", err)
	}
	return p, nil
}

func newResampler(inRate, outRate int) (resampling.Resampler, error) {
	return resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
}

// DeviceRate returns the negotiated device-side sample rate.
func (p *Pair) DeviceRate() int { return p.deviceRate }

// ModelRate returns the model-side sample rate.
func (p *Pair) ModelRate() int { return p.modelRate }

// ToModel converts device-rate PCM to model-rate PCM. The output length may
// differ slightly from the exact rate ratio on any single call because the
// streaming filter buffers edge samples; over a stream the ratio holds.
func (p *Pair) ToModel(pcm []int16) ([]int16, error) {
	return p.convert(p.toModel, pcm, p.deviceRate, p.modelRate)
}

// ToDevice converts model-rate PCM to device-rate PCM.
func (p *Pair) ToDevice(pcm []int16) ([]int16, error) {
	return p.convert(p.toDevice, pcm, p.modelRate, p.deviceRate)
}

func (p *Pair) convert(rs resampling.Resampler, pcm []int16, srcRate, dstRate int) ([]int16, error) {
	if srcRate == dstRate {
		return pcm, nil
	}
	if rs == nil {
		return audio.ResampleLinear(pcm, srcRate, dstRate), nil
	}

	in := make([]float64, len(pcm))
	for i, s := range pcm {
		in[i] = float64(s) / 32768.0
	}

	out, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: process: %w", err)
	}

	res := make([]int16, len(out))
	for i, s := range out {
		switch {
		case s >= 1.0:
			res[i] = 32767
		case s <= -1.0:
			res[i] = -32768
		default:
			res[i] = int16(s * 32767.0)
		}
	}
	return res, nil
}
