package audio

// MonoToStereo duplicates each mono sample into a stereo L+R pair.
func MonoToStereo(pcm []int16) []int16 {
	out := make([]int16, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages L+R per stereo pair. Uses int32 arithmetic to prevent
// overflow and clamps to int16 range.
func StereoToMono(pcm []int16) []int16 {
	pairs := len(pcm) / 2
	out := make([]int16, pairs)
	for i := range pairs {
		avg := (int32(pcm[i*2]) + int32(pcm[i*2+1])) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out[i] = int16(avg)
	}
	return out
}

// ResampleLinear resamples mono PCM from srcRate to dstRate using linear
// interpolation. It is the low-latency fallback used where the polyphase
// resampler in pkg/audio/resample would blow the per-frame budget; quality is
// acceptable for telephony-band audio only. If srcRate == dstRate the input is
// returned unchanged.
func ResampleLinear(pcm []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) == 0 {
		return pcm
	}
	dstSamples := int(int64(len(pcm)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]int16, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := pcm[srcIdx]
		s1 := s0
		if srcIdx+1 < len(pcm) {
			s1 = pcm[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
