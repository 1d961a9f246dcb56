package modem

// Pilot subcarrier management for OFDM.
// Pilots are used for phase tracking and channel estimation. Pilot
// indices live on the Profile (spec §3) rather than a package-level
// variable, since the pilot set is part of the OFDM parameter set a
// session is configured with, not a process-wide default.

// PilotValue is the known pilot symbol (BPSK +1) on every pilot subcarrier.
var PilotValue = complex(1, 0)

// DataSubcarriers returns the subcarrier indices used for data
// (excluding pilots) within the profile's band.
func DataSubcarriers(p Profile) []int {
	var data []int
	for i := p.SubcarrierStart; i <= p.SubcarrierEnd; i++ {
		if !p.IsPilot(i) {
			data = append(data, i)
		}
	}
	return data
}

// InsertPilots inserts pilot symbols into the subcarrier array.
func InsertPilots(dataSymbols []complex128, p Profile) []complex128 {
	spectrum := make([]complex128, p.FFTSize)

	dataIdx := 0
	for i := p.SubcarrierStart; i <= p.SubcarrierEnd; i++ {
		if p.IsPilot(i) {
			spectrum[i] = PilotValue
		} else if dataIdx < len(dataSymbols) {
			spectrum[i] = dataSymbols[dataIdx]
			dataIdx++
		}
	}

	return spectrum
}

// ExtractPilots extracts pilot values from the received spectrum.
func ExtractPilots(spectrum []complex128, p Profile) []complex128 {
	pilots := make([]complex128, 0, len(p.Pilots))
	for _, idx := range p.Pilots {
		if idx < len(spectrum) {
			pilots = append(pilots, spectrum[idx])
		}
	}
	return pilots
}

// ExtractData extracts data symbols from the received spectrum (excluding pilots).
func ExtractData(spectrum []complex128, p Profile) []complex128 {
	var data []complex128
	for i := p.SubcarrierStart; i <= p.SubcarrierEnd; i++ {
		if !p.IsPilot(i) && i < len(spectrum) {
			data = append(data, spectrum[i])
		}
	}
	return data
}

// EstimatePhaseOffset estimates the common phase error from pilot symbols
// using the small-angle approximation theta ~= mean(Im(p)/Re(p)), ignoring
// pilots whose real part is too small to trust (spec §4.D).
func EstimatePhaseOffset(receivedPilots []complex128) float64 {
	const minRe = 1e-6

	var sumAngle float64
	count := 0
	for _, p := range receivedPilots {
		if p == 0 {
			continue
		}
		re := real(p)
		absRe := re
		if absRe < 0 {
			absRe = -absRe
		}
		if absRe < minRe {
			continue
		}
		sumAngle += imag(p) / re
		count++
	}
	if count == 0 {
		return 0
	}
	return sumAngle / float64(count)
}

// CorrectPhase applies common phase error correction to data symbols:
// X~ = (Re(X) + theta*Im(X)) + j*(Im(X) - theta*Re(X)) (spec §4.D).
func CorrectPhase(symbols []complex128, phaseOffset float64) []complex128 {
	corrected := make([]complex128, len(symbols))
	for i, s := range symbols {
		re, im := real(s), imag(s)
		corrected[i] = complex(re+phaseOffset*im, im-phaseOffset*re)
	}
	return corrected
}
