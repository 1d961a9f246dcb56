package modem

import (
	"errors"
	"fmt"
	"math"

	"github.com/jeongseonghan/audio-modem/internal/fec"
)

// ErrPreambleNotDetected is returned when a single-shot frame's coarse
// preamble scan finds nothing to align to (spec §7 PreambleNotDetected).
var ErrPreambleNotDetected = errors.New("modem: preamble not detected")

// Modulator handles OFDM modulation (bits → audio samples) for one
// profile, modulation and repetition factor.
type Modulator struct {
	constellation *Constellation
	mod           Modulation
	profile       Profile
	repetition    int
}

// NewModulator creates an OFDM modulator with no bit repetition.
func NewModulator(mod Modulation, p Profile) *Modulator {
	return NewRepeatingModulator(mod, p, 1)
}

// NewRepeatingModulator creates an OFDM modulator that repeats each
// source bit R times (spec §6's BPSK-REPEAT/BPSK-NARROW schemes)
// before mapping to the constellation.
func NewRepeatingModulator(mod Modulation, p Profile, repetition int) *Modulator {
	if repetition < 1 {
		repetition = 1
	}
	return &Modulator{
		constellation: NewConstellation(mod),
		mod:           mod,
		profile:       p,
		repetition:    repetition,
	}
}

// Modulate converts data bits into OFDM audio samples. bits is a slice
// of 0/1 bytes; it is repeated R times and zero-padded so its length is
// a multiple of the profile's bits-per-symbol before mapping.
func (m *Modulator) Modulate(bits []byte) ([]float64, error) {
	coded := fec.RepeatBits(bits, m.repetition)

	bitsPerSymbol := m.profile.BitsPerOFDMSymbol(m.mod)
	if bitsPerSymbol <= 0 {
		return nil, fmt.Errorf("modem: profile %s has no data subcarriers for %s", m.profile.Name, m.mod)
	}
	if rem := len(coded) % bitsPerSymbol; rem != 0 {
		coded = append(coded, make([]byte, bitsPerSymbol-rem)...)
	}

	numSymbols := len(coded) / bitsPerSymbol
	samples := make([]float64, 0, numSymbols*m.profile.SymbolLen())
	for i := 0; i < numSymbols; i++ {
		symbolBits := coded[i*bitsPerSymbol : (i+1)*bitsPerSymbol]
		samples = append(samples, m.modulateSymbol(symbolBits)...)
	}
	return samples, nil
}

// ModulateSingle modulates exactly one OFDM symbol from bits (no
// repetition, no padding check beyond what the caller provides).
func (m *Modulator) ModulateSingle(bits []byte) []float64 {
	return m.modulateSymbol(bits)
}

func (m *Modulator) modulateSymbol(bits []byte) []float64 {
	dataSymbols := m.constellation.MapBits(bits)
	spectrum := InsertPilots(dataSymbols, m.profile)
	applyHermitianSymmetry(spectrum)
	timeDomain := RealIFFT(spectrum)
	withCP := addCyclicPrefix(timeDomain, m.profile.CPLen)
	normalizeAmplitude(withCP)
	return withCP
}

// Demodulator handles OFDM demodulation (audio samples → bits) for one
// profile, modulation and repetition factor.
type Demodulator struct {
	constellation *Constellation
	mod           Modulation
	profile       Profile
	repetition    int
	equalizer     *Equalizer
}

// NewDemodulator creates an OFDM demodulator with no bit repetition.
func NewDemodulator(mod Modulation, p Profile) *Demodulator {
	return NewRepeatingDemodulator(mod, p, 1)
}

// NewRepeatingDemodulator creates a demodulator that majority-votes
// over R-fold repeated bits after demapping.
func NewRepeatingDemodulator(mod Modulation, p Profile, repetition int) *Demodulator {
	if repetition < 1 {
		repetition = 1
	}
	return &Demodulator{
		constellation: NewConstellation(mod),
		mod:           mod,
		profile:       p,
		repetition:    repetition,
		equalizer:     NewEqualizerForProfile(p),
	}
}

// SetChannelEstimate sets the channel estimate used for equalization.
func (d *Demodulator) SetChannelEstimate(received, known []complex128) {
	d.equalizer.EstimateChannel(received, known)
}

// ChannelObservable reports whether the most recent channel estimate
// is usable (spec §7 ChannelUnobservable); callers should check this
// right after SetChannelEstimate and bail out rather than equalize
// against a channel estimate that is mostly zero.
func (d *Demodulator) ChannelObservable() bool {
	return d.equalizer.Observable()
}

// Demodulate converts OFDM audio samples back to data bits, undoing
// any bit repetition applied by the matching Modulator. expectedBits,
// if > 0, truncates the (post-vote) output to that many bits.
func (d *Demodulator) Demodulate(samples []float64, expectedBits int) ([]byte, error) {
	symbolLen := d.profile.SymbolLen()
	numSymbols := len(samples) / symbolLen
	if numSymbols == 0 {
		return nil, fmt.Errorf("modem: insufficient samples: %d < %d", len(samples), symbolLen)
	}

	var coded []byte
	for i := 0; i < numSymbols; i++ {
		symbolSamples := samples[i*symbolLen : (i+1)*symbolLen]
		coded = append(coded, d.demodulateSymbol(symbolSamples)...)
	}

	bits, err := fec.MajorityVote(coded, d.repetition)
	if err != nil {
		return nil, err
	}
	if expectedBits > 0 && expectedBits < len(bits) {
		bits = bits[:expectedBits]
	}
	return bits, nil
}

// DemodulateSingle demodulates exactly one OFDM symbol, without
// undoing repetition.
func (d *Demodulator) DemodulateSingle(samples []float64) []byte {
	return d.demodulateSymbol(samples)
}

func (d *Demodulator) demodulateSymbol(samples []float64) []byte {
	withoutCP := removeCyclicPrefix(samples, d.profile.CPLen)
	cx := make([]complex128, len(withoutCP))
	for i, v := range withoutCP {
		cx[i] = complex(v, 0)
	}
	spectrum := FFT(cx)

	equalized := d.equalizer.Equalize(spectrum)

	receivedPilots := ExtractPilots(equalized, d.profile)
	phaseOffset := EstimatePhaseOffset(receivedPilots)

	dataSymbols := ExtractData(equalized, d.profile)
	corrected := CorrectPhase(dataSymbols, phaseOffset)

	return d.constellation.DemapSymbols(corrected)
}

// GenerateFrame builds a complete single-shot transmittable frame:
// [P1][P2][ChannelEst][Data symbols...], ready to hand to an audio
// sink. It is the primitive the ARQ session path builds on; the
// streaming sender assembles its frames with stream.BuildTransmitSignal
// instead.
func GenerateFrame(data []byte, mod Modulation, p Profile, repetition int) []float64 {
	preambles := GeneratePreambles(p)
	modulator := NewRepeatingModulator(mod, p, repetition)

	bits := BytesToBits(data)
	dataSamples, _ := modulator.Modulate(bits)

	frame := make([]float64, 0, len(preambles.P1)+len(preambles.P2)+len(preambles.CE)+len(dataSamples))
	frame = append(frame, preambles.P1...)
	frame = append(frame, preambles.P2...)
	frame = append(frame, preambles.CE...)
	frame = append(frame, dataSamples...)
	return frame
}

// ReceiveFrame locates, aligns and demodulates a single-shot frame
// produced by GenerateFrame out of a buffer of received samples.
func ReceiveFrame(samples []float64, mod Modulation, p Profile, repetition int, expectedBits int) ([]byte, error) {
	half := p.FFTSize / 2
	coarseIdx, _ := CoarseScan(samples, half)
	if coarseIdx < 0 {
		return nil, fmt.Errorf("%w", ErrPreambleNotDetected)
	}

	preambles := GeneratePreambles(p)
	radius := 3 * p.CPLen
	fineIdx, _ := FineAlign(samples, coarseIdx, radius, preambles.P1)
	startIdx := coarseIdx
	if fineIdx >= 0 {
		startIdx = fineIdx
	}

	symbolLen := p.SymbolLen()
	ceStart := startIdx + 2*symbolLen
	if ceStart+symbolLen > len(samples) {
		return nil, fmt.Errorf("modem: insufficient samples for channel estimation")
	}

	ceSymbol := samples[ceStart : ceStart+symbolLen]
	receivedCE := EstimateChannelFromSymbol(ceSymbol, p)

	demod := NewRepeatingDemodulator(mod, p, repetition)
	demod.SetChannelEstimate(receivedCE, preambles.KnownCE)
	if !demod.ChannelObservable() {
		return nil, ErrChannelUnobservable
	}

	dataStart := ceStart + symbolLen
	if dataStart >= len(samples) {
		return nil, fmt.Errorf("modem: no data samples after channel estimation")
	}

	bits, err := demod.Demodulate(samples[dataStart:], expectedBits)
	if err != nil {
		return nil, fmt.Errorf("modem: demodulation: %w", err)
	}
	return BitsToBytes(bits), nil
}

// BytesToBits unpacks each byte into 8 MSB-first 0/1 bytes.
func BytesToBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 7; j >= 0; j-- {
			bits[i*8+(7-j)] = (b >> uint(j)) & 1
		}
	}
	return bits
}

// BitsToBytes packs 0/1 bytes MSB-first into bytes, dropping any
// trailing partial byte.
func BitsToBytes(bits []byte) []byte {
	numBytes := len(bits) / 8
	data := make([]byte, numBytes)
	for i := 0; i < numBytes; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | (bits[i*8+j] & 1)
		}
		data[i] = b
	}
	return data
}

// SamplesToFloat32 converts float64 samples to float32 for audio output.
func SamplesToFloat32(samples []float64) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}

// Float32ToSamples converts float32 audio input to float64 for processing.
func Float32ToSamples(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

// ApplyDCRemoval removes DC offset from samples with a single-pole
// high-pass filter (spec §4.J): dc runs as an EMA of the signal; each
// sample first updates the dc estimate, and the updated estimate is
// then subtracted from it.
func ApplyDCRemoval(samples []float64) []float64 {
	if len(samples) == 0 {
		return samples
	}

	const alpha = 0.999
	out := make([]float64, len(samples))
	dc := samples[0]
	for i, s := range samples {
		dc = alpha*dc + (1-alpha)*s
		out[i] = s - dc
	}
	return out
}

// ApplyAGC rescales samples so their RMS matches targetRMS.
func ApplyAGC(samples []float64, targetRMS float64) []float64 {
	if len(samples) == 0 {
		return samples
	}

	var sumSq float64
	for _, s := range samples {
		sumSq += s * s
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	if rms < 1e-10 {
		return samples
	}

	gain := targetRMS / rms
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s * gain
	}
	return out
}
