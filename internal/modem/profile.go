package modem

import "fmt"

// ProfileName identifies one of the three named OFDM parameter sets.
type ProfileName string

const (
	ProfileStandard   ProfileName = "standard"
	ProfileAcoustic   ProfileName = "acoustic"
	ProfileNarrowband ProfileName = "narrowband"
)

// Profile is an immutable OFDM parameter set. Values are passed by value
// or referenced by their Name; there is no per-profile behavioral
// subtyping and no process-wide mutable "current profile" — a session
// holds the Profile it was built with.
type Profile struct {
	Name            ProfileName
	FFTSize         int
	CPLen           int
	SampleRate      int
	SubcarrierStart int
	SubcarrierEnd   int
	Pilots          []int
}

// SymbolLen is FFTSize + CPLen, the length in samples of one OFDM symbol.
func (p Profile) SymbolLen() int { return p.FFTSize + p.CPLen }

// IsAcoustic reports whether this profile's long cyclic prefix (>= 128
// samples) marks it as the "acoustic" class that widens silence padding
// and lowers throughput budgeting (spec §3).
func (p Profile) IsAcoustic() bool { return p.CPLen >= 128 }

// IsPilot reports whether subcarrier k is one of this profile's pilots.
func (p Profile) IsPilot(k int) bool {
	for _, pilot := range p.Pilots {
		if pilot == k {
			return true
		}
	}
	return false
}

// NumDataSubcarriers returns |{k in [SubcarrierStart, SubcarrierEnd] : k not pilot}|.
func (p Profile) NumDataSubcarriers() int {
	count := 0
	for k := p.SubcarrierStart; k <= p.SubcarrierEnd; k++ {
		if !p.IsPilot(k) {
			count++
		}
	}
	return count
}

// BitsPerOFDMSymbol returns the data bits carried by one OFDM symbol
// under the given modulation.
func (p Profile) BitsPerOFDMSymbol(mod Modulation) int {
	return p.NumDataSubcarriers() * mod.BitsPerSymbol()
}

func evenlySpacedPilots(start, end, n int) []int {
	if n <= 0 {
		return nil
	}
	span := end - start
	pilots := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := start + (i+1)*span/(n+1)
		pilots = append(pilots, idx)
	}
	return pilots
}

// Standard is the wide-band, short cyclic-prefix profile: highest
// throughput, meant for clean channels (e.g. direct line-in).
var Standard = Profile{
	Name:            ProfileStandard,
	FFTSize:         512,
	CPLen:           64,
	SampleRate:      44100,
	SubcarrierStart: 12,
	SubcarrierEnd:   232,
	Pilots:          evenlySpacedPilots(12, 232, 16),
}

// Acoustic is the narrower-band, long cyclic-prefix profile for genuine
// speaker-to-microphone acoustic coupling, where multipath delay spread
// is significant.
var Acoustic = Profile{
	Name:            ProfileAcoustic,
	FFTSize:         512,
	CPLen:           128,
	SampleRate:      44100,
	SubcarrierStart: 20,
	SubcarrierEnd:   180,
	Pilots:          evenlySpacedPilots(20, 180, 12),
}

// Narrowband is the narrowest-band, longest cyclic-prefix profile for
// the most hostile acoustic channels; lowest throughput.
var Narrowband = Profile{
	Name:            ProfileNarrowband,
	FFTSize:         512,
	CPLen:           160,
	SampleRate:      44100,
	SubcarrierStart: 30,
	SubcarrierEnd:   120,
	Pilots:          evenlySpacedPilots(30, 120, 8),
}

// LookupProfile returns the named profile, or an error if unknown.
func LookupProfile(name ProfileName) (Profile, error) {
	switch name {
	case ProfileStandard:
		return Standard, nil
	case ProfileAcoustic:
		return Acoustic, nil
	case ProfileNarrowband:
		return Narrowband, nil
	default:
		return Profile{}, fmt.Errorf("modem: unknown profile %q", name)
	}
}

// ModulationScheme selects the constellation plus, via ResolveScheme, the
// OFDM profile and repetition factor used to transmit it (spec §6).
type ModulationScheme string

const (
	SchemeQPSK         ModulationScheme = "QPSK"
	Scheme16QAM        ModulationScheme = "16-QAM"
	SchemeBPSKAcoustic ModulationScheme = "BPSK-ACOUSTIC"
	SchemeBPSKRepeat   ModulationScheme = "BPSK-REPEAT"
	SchemeBPSKNarrow   ModulationScheme = "BPSK-NARROW"
)

// SchemeParams bundles the concrete modulation, profile and bit
// repetition factor that one configuration option maps to.
type SchemeParams struct {
	Mod        Modulation
	Profile    Profile
	Repetition int
}

// ResolveScheme maps a configuration option to its modulation, profile
// and repetition factor, per spec §6's table.
func ResolveScheme(scheme ModulationScheme) (SchemeParams, error) {
	switch scheme {
	case SchemeQPSK:
		return SchemeParams{Mod: ModQPSK, Profile: Standard, Repetition: 1}, nil
	case Scheme16QAM:
		return SchemeParams{Mod: Mod16QAM, Profile: Standard, Repetition: 1}, nil
	case SchemeBPSKAcoustic:
		return SchemeParams{Mod: ModBPSK, Profile: Acoustic, Repetition: 1}, nil
	case SchemeBPSKRepeat:
		return SchemeParams{Mod: ModBPSK, Profile: Acoustic, Repetition: 3}, nil
	case SchemeBPSKNarrow:
		return SchemeParams{Mod: ModBPSK, Profile: Narrowband, Repetition: 3}, nil
	default:
		return SchemeParams{}, fmt.Errorf("modem: unknown modulation scheme %q", scheme)
	}
}
