package stream

import "math"

// silence returns n samples of silence.
func silence(n int) []float64 {
	return make([]float64, n)
}

// BuildTransmitSignal concatenates pre-silence, P1, P2, CE and the
// data symbols into one contiguous array and normalizes the whole
// thing to a single peak of 0.8 (spec §4.K). The CE and data symbols
// are never renormalized individually after this point — they must
// share one scale for the channel estimate taken from CE to remain
// valid over the data that follows it.
func BuildTransmitSignal(preSilenceSamples int, p1, p2, ce, data []float64, postSilenceSamples int) []float64 {
	total := preSilenceSamples + len(p1) + len(p2) + len(ce) + len(data) + postSilenceSamples
	out := make([]float64, 0, total)
	out = append(out, silence(preSilenceSamples)...)
	out = append(out, p1...)
	out = append(out, p2...)
	out = append(out, ce...)
	out = append(out, data...)
	out = append(out, silence(postSilenceSamples)...)
	normalizePeak(out, 0.8)
	return out
}

func normalizePeak(samples []float64, peak float64) {
	maxAbs := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs < 1e-10 {
		return
	}
	scale := peak / maxAbs
	for i := range samples {
		samples[i] *= scale
	}
}
