package modem

import (
	"math"
	"math/cmplx"
)

// Schmidl-Cox preamble generation and detection for OFDM synchronization.
//
// The bit generator is a normative deterministic linear-congruential
// stream, not math/rand: two independent implementations of this
// recipe must produce byte-identical preamble waveforms for the same
// seed, which rules out anything backed by a language runtime's own
// PRNG.
type lcg struct {
	state uint64
}

const lcgModulus = 1 << 31

func newLCG(seed int64) *lcg {
	return &lcg{state: uint64(seed) % lcgModulus}
}

// bit advances the stream one step and returns the next PN bit.
func (g *lcg) bit() int {
	g.state = (g.state*1103515245 + 12345) % lcgModulus
	if float64(g.state)/float64(lcgModulus) > 0.5 {
		return 1
	}
	return 0
}

// bpsk returns +1/-1 from the next PN bit.
func (g *lcg) bpsk() complex128 {
	if g.bit() == 1 {
		return complex(-1, 0)
	}
	return complex(1, 0)
}

// PreambleSet holds the three deterministic training symbols shared by
// both ends of a link, plus the known CE spectrum used for channel
// estimation.
type PreambleSet struct {
	P1      []float64
	P2      []float64
	CE      []float64
	KnownCE []complex128
}

const (
	seedP1 = 42
	seedP2 = 43
	seedCE = 44
)

// GeneratePreambles builds P1, P2 and CE for the given profile.
func GeneratePreambles(p Profile) PreambleSet {
	ce, known := generateCE(p)
	return PreambleSet{
		P1:      generateP1(p),
		P2:      generateP2(p),
		CE:      ce,
		KnownCE: known,
	}
}

// generateP1 builds the Schmidl-Cox training symbol: PN bits on even
// in-band subcarriers only, which gives its time-domain waveform two
// identical halves of length FFTSize/2 — the basis for auto-correlation
// detection.
func generateP1(p Profile) []float64 {
	spectrum := make([]complex128, p.FFTSize)
	g := newLCG(seedP1)
	for k := p.SubcarrierStart; k <= p.SubcarrierEnd; k += 2 {
		spectrum[k] = g.bpsk()
	}
	applyHermitianSymmetry(spectrum)
	td := RealIFFT(spectrum)
	sym := addCyclicPrefix(td, p.CPLen)
	normalizeAmplitude(sym)
	return sym
}

// generateP2 builds the second training symbol: PN bits on every
// in-band subcarrier, used to stabilize fine alignment.
func generateP2(p Profile) []float64 {
	spectrum := make([]complex128, p.FFTSize)
	g := newLCG(seedP2)
	for k := p.SubcarrierStart; k <= p.SubcarrierEnd; k++ {
		spectrum[k] = g.bpsk()
	}
	applyHermitianSymmetry(spectrum)
	td := RealIFFT(spectrum)
	sym := addCyclicPrefix(td, p.CPLen)
	normalizeAmplitude(sym)
	return sym
}

// generateCE builds the channel-estimation symbol and returns both the
// transmitted time-domain samples and the known frequency-domain
// reference both ends share.
func generateCE(p Profile) ([]float64, []complex128) {
	spectrum := make([]complex128, p.FFTSize)
	known := make([]complex128, p.FFTSize)
	g := newLCG(seedCE)
	for k := p.SubcarrierStart; k <= p.SubcarrierEnd; k++ {
		v := g.bpsk()
		spectrum[k] = v
		known[k] = v
	}
	applyHermitianSymmetry(spectrum)
	td := RealIFFT(spectrum)
	samples := addCyclicPrefix(td, p.CPLen)
	normalizeAmplitude(samples)
	return samples, known
}

// CoarseDetector implements the streaming-friendly O(n) Schmidl-Cox
// auto-correlation metric, M(d) = P(d)^2 / (Ra(d)*Rb(d)), maintained
// with one add and one subtract per incoming sample rather than
// recomputed from scratch at every candidate position.
type CoarseDetector struct {
	half int
	size int
	ring []float64
	head int
	full bool

	P, Ra, Rb float64
}

// NewCoarseDetector creates a detector for a Schmidl-Cox half-window of
// length `half` samples (FFTSize/2 for the profile in use).
func NewCoarseDetector(half int) *CoarseDetector {
	return &CoarseDetector{half: half, size: 2 * half, ring: make([]float64, 2*half)}
}

// Step feeds one sample and reports the metric M(d) for the window that
// just completed. ready is false until the detector has buffered a full
// 2*half samples.
func (c *CoarseDetector) Step(x float64) (metric float64, ready bool) {
	if !c.full {
		c.ring[c.head] = x
		c.head = (c.head + 1) % c.size
		if c.head == 0 {
			c.full = true
			c.P, c.Ra, c.Rb = 0, 0, 0
			for m := 0; m < c.half; m++ {
				a := c.ring[m]
				b := c.ring[m+c.half]
				c.P += a * b
				c.Ra += a * a
				c.Rb += b * b
			}
			return c.metric(), true
		}
		return 0, false
	}

	old0 := c.ring[c.head]                    // s[d]
	oldHalf := c.ring[(c.head+c.half)%c.size] // s[d+half]
	c.P = c.P - old0*oldHalf + oldHalf*x
	c.Ra = c.Ra - old0*old0 + oldHalf*oldHalf
	c.Rb = c.Rb - oldHalf*oldHalf + x*x

	c.ring[c.head] = x
	c.head = (c.head + 1) % c.size
	return c.metric(), true
}

func (c *CoarseDetector) metric() float64 {
	denom := c.Ra * c.Rb
	if denom <= 0 {
		return 0
	}
	m := (c.P * c.P) / denom
	if m < 0 {
		return 0
	}
	return m
}

// CoarseScan runs the incremental detector over a whole buffer and
// returns the sample index (start of the detected P1 window) and
// metric of the best candidate, or (-1, metric) if the detection
// threshold (0.5) is never exceeded.
func CoarseScan(signal []float64, half int) (idx int, metric float64) {
	det := NewCoarseDetector(half)
	bestIdx, bestMetric := -1, 0.0
	for i, x := range signal {
		m, ready := det.Step(x)
		if !ready {
			continue
		}
		d := i + 1 - 2*half // start of the window that just completed
		if m > bestMetric {
			bestMetric = m
			bestIdx = d
		}
	}
	if bestMetric > 0.5 {
		return bestIdx, bestMetric
	}
	return -1, bestMetric
}

// FineAlign performs the cross-correlation refinement around a coarse
// candidate, searching +/- radius samples against a reference symbol
// (P1, typically) and returning the argmax offset and its correlation
// metric.
func FineAlign(signal []float64, coarseIdx, radius int, ref []float64) (idx int, metric float64) {
	var et float64
	for _, v := range ref {
		et += v * v
	}
	if et <= 0 {
		return -1, 0
	}

	bestIdx, bestMetric := -1, -1.0
	lo := coarseIdx - radius
	if lo < 0 {
		lo = 0
	}
	hi := coarseIdx + radius
	for d := lo; d <= hi; d++ {
		if d < 0 || d+len(ref) > len(signal) {
			continue
		}
		var dot, energy float64
		for i, r := range ref {
			s := signal[d+i]
			dot += s * r
			energy += s * s
		}
		if energy <= 0 {
			continue
		}
		r := dot / math.Sqrt(et*energy)
		if r > bestMetric {
			bestMetric = r
			bestIdx = d
		}
	}
	return bestIdx, bestMetric
}

// EstimateChannelFromSymbol strips the cyclic prefix from a time-domain
// CE symbol, FFTs it, and returns the raw frequency-domain samples for
// use with Equalizer.EstimateChannel.
func EstimateChannelFromSymbol(ceSymbol []float64, p Profile) []complex128 {
	withoutCP := removeCyclicPrefix(ceSymbol, p.CPLen)
	cx := make([]complex128, len(withoutCP))
	for i, v := range withoutCP {
		cx[i] = complex(v, 0)
	}
	return FFT(cx)
}

func applyHermitianSymmetry(spectrum []complex128) {
	n := len(spectrum)
	for k := 1; k < n/2; k++ {
		spectrum[n-k] = cmplx.Conj(spectrum[k])
	}
	spectrum[0] = 0
	spectrum[n/2] = complex(real(spectrum[n/2]), 0)
}

func addCyclicPrefix(samples []float64, cpLen int) []float64 {
	n := len(samples)
	result := make([]float64, cpLen+n)
	copy(result, samples[n-cpLen:])
	copy(result[cpLen:], samples)
	return result
}

func removeCyclicPrefix(samples []float64, cpLen int) []float64 {
	if len(samples) <= cpLen {
		return samples
	}
	return samples[cpLen:]
}

// normalizeAmplitude scales in place so the peak magnitude is 0.8,
// leaving headroom for the line/speaker path. If the peak is below
// 1e-10 the samples are left untouched.
func normalizeAmplitude(samples []float64) {
	maxAbs := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs < 1e-10 {
		return
	}
	scale := 0.8 / maxAbs
	for i := range samples {
		samples[i] *= scale
	}
}
