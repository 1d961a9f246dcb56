package stream

import (
	"fmt"
	"time"

	"github.com/jeongseonghan/audio-modem/internal/modem"
	"github.com/jeongseonghan/audio-modem/internal/protocol"
)

// ChunkThreshold is the file-size boundary between the legacy
// single-shot path and the chunked burst path (spec §6).
const ChunkThreshold = 32 * 1024

const (
	longLeadAcoustic  = 500 * time.Millisecond
	longLeadStandard  = 300 * time.Millisecond
	shortLeadFollowup = 50 * time.Millisecond
	trailingSilence   = 20 * time.Millisecond
)

// ChunkSizeFor returns the chunked-burst chunk size for a modulation,
// per spec §4.J's table.
func ChunkSizeFor(mod modem.Modulation) int {
	switch mod {
	case modem.Mod16QAM, modem.Mod64QAM:
		return 4096
	case modem.ModQPSK:
		return 2048
	default:
		return 512
	}
}

// AudioSink is the host collaborator a Sender plays frames through;
// *audio.AudioIO satisfies it directly.
type AudioSink interface {
	WriteSamples(samples []float32) error
}

// Sender is the file -> waveform pipeline (spec §4.J): small files
// become one legacy packet, large files become a METADATA frame
// followed by one DATA_CHUNK frame per chunk, each built one frame
// ahead of the one currently playing.
type Sender struct {
	scheme modem.SchemeParams
	sink   AudioSink

	// OnProgress, if set, is called after each frame has been handed
	// to the sink.
	OnProgress func(framesSent, framesTotal int)
}

// NewSender creates a Sender for the given scheme, writing to sink.
func NewSender(scheme modem.SchemeParams, sink AudioSink) *Sender {
	return &Sender{scheme: scheme, sink: sink}
}

// SendFile plays name/data as a legacy packet or a chunked burst,
// chosen by ChunkThreshold.
func (s *Sender) SendFile(name string, data []byte) error {
	if len(data) <= ChunkThreshold {
		return s.sendLegacy(name, data)
	}
	return s.sendChunked(name, data)
}

func (s *Sender) sendLegacy(name string, data []byte) error {
	payload, err := EncodeLegacyPacket(name, data)
	if err != nil {
		return fmt.Errorf("encode legacy packet: %w", err)
	}
	wf := s.buildFrameWaveform(payload, s.firstLeadSilence())
	if err := s.sink.WriteSamples(wf); err != nil {
		return fmt.Errorf("play legacy packet: %w", err)
	}
	s.progress(1, 1)
	return nil
}

func (s *Sender) sendChunked(name string, data []byte) error {
	chunkSize := ChunkSizeFor(s.scheme.Mod)
	totalChunks := uint32((len(data) + chunkSize - 1) / chunkSize)

	payloads := make([][]byte, 0, totalChunks+1)

	metaPayload, err := protocol.EncodeMetadata(totalChunks, uint32(len(data)), uint16(chunkSize), name)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	payloads = append(payloads, metaPayload)

	for seq := uint32(0); seq < totalChunks; seq++ {
		lo := int(seq) * chunkSize
		hi := lo + chunkSize
		if hi > len(data) {
			hi = len(data)
		}
		chunkPayload, err := protocol.EncodeDataChunk(seq, data[lo:hi])
		if err != nil {
			return fmt.Errorf("encode chunk %d: %w", seq, err)
		}
		payloads = append(payloads, chunkPayload)
	}

	// Synthesize one frame ahead of the one currently playing: the
	// producer goroutine blocks on the channel send once it's a frame
	// ahead of the consumer, which is itself blocked on the device via
	// sink.WriteSamples.
	waveforms := make(chan []float32, 1)
	synthErr := make(chan error, 1)
	go func() {
		defer close(waveforms)
		for i, payload := range payloads {
			lead := shortLeadFollowup
			if i == 0 {
				lead = s.firstLeadSilence()
			}
			waveforms <- s.buildFrameWaveform(payload, lead)
		}
		synthErr <- nil
	}()

	sent := 0
	for wf := range waveforms {
		if err := s.sink.WriteSamples(wf); err != nil {
			return fmt.Errorf("play frame %d: %w", sent, err)
		}
		sent++
		s.progress(sent, len(payloads))
	}
	return <-synthErr
}

func (s *Sender) buildFrameWaveform(payload []byte, leadSilence time.Duration) []float32 {
	preambles := modem.GeneratePreambles(s.scheme.Profile)
	modulator := modem.NewRepeatingModulator(s.scheme.Mod, s.scheme.Profile, s.scheme.Repetition)
	bits := modem.BytesToBits(payload)
	dataSamples, _ := modulator.Modulate(bits)

	preN := durationSamples(leadSilence, s.scheme.Profile.SampleRate)
	postN := durationSamples(trailingSilence, s.scheme.Profile.SampleRate)

	signal := BuildTransmitSignal(preN, preambles.P1, preambles.P2, preambles.CE, dataSamples, postN)
	return modem.SamplesToFloat32(signal)
}

func (s *Sender) firstLeadSilence() time.Duration {
	if s.scheme.Profile.IsAcoustic() {
		return longLeadAcoustic
	}
	return longLeadStandard
}

func (s *Sender) progress(sent, total int) {
	if s.OnProgress != nil {
		s.OnProgress(sent, total)
	}
}

func durationSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}
