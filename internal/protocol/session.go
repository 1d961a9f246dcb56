package protocol

import (
	"fmt"
	"log"
	"time"

	"github.com/jeongseonghan/audio-modem/internal/audio"
	"github.com/jeongseonghan/audio-modem/internal/fec"
	"github.com/jeongseonghan/audio-modem/internal/modem"
)

// transportStates lists every TransportState name, for metrics gauges
// that need to zero out states other than the current one.
var transportStates = []string{
	StateIdle.String(), StateSending.String(), StateWaitingACK.String(), StateReceiving.String(),
}

// SessionMode represents the operating mode.
type SessionMode int

const (
	ModeSend SessionMode = iota
	ModeReceive
)

// SessionStatus represents the session state.
type SessionStatus int

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
	StatusTransferring
	StatusCompleted
	StatusError
)

// String returns the status name.
func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusTransferring:
		return "transferring"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// SessionEvent is sent to listeners when session state changes.
type SessionEvent struct {
	Status   SessionStatus
	Message  string
	Progress float64 // 0.0 to 1.0
	Error    error
}

// Session manages an audio modem communication session over one OFDM
// profile, modulation and repetition factor (spec §6's SchemeParams).
type Session struct {
	audioIO     *audio.AudioIO
	modulator   *modem.Modulator
	demodulator *modem.Demodulator
	rsEncoder   *fec.RSEncoder
	transport   *Transport
	scheme      modem.SchemeParams
	mode        SessionMode
	useRS       bool

	status    SessionStatus
	eventChan chan SessionEvent
}

// SetMetrics wires an internal/metrics.Modem into the session's ARQ
// transport, so retries, handshakes and state transitions are counted
// without internal/protocol importing the Prometheus client directly.
func (s *Session) SetMetrics(m TransportMetrics) {
	s.transport.Metrics = m
	if tracker, ok := m.(transportStateTracker); ok {
		s.transport.OnStateChange = func(state TransportState) {
			tracker.SetTransportState(transportStates, state.String())
		}
	}
}

// transportStateTracker is satisfied by internal/metrics.Modem; kept
// local so internal/protocol still never imports the metrics package.
type transportStateTracker interface {
	SetTransportState(states []string, current string)
}

// ConfigureARQ overrides this session's ARQ timing, letting
// internal/config's ModemConfig.ARQ settings reach the underlying
// Transport after NewSession has already built it.
func (s *Session) ConfigureARQ(ackTimeout, turnAround time.Duration, maxRetries int) {
	s.transport.Configure(ackTimeout, turnAround, maxRetries)
}

// NewSession creates a new communication session for the given
// modulation scheme and mode. useReedSolomon wires the optional RS
// front end (spec §1) into the ARQ frame codec; when false, frames are
// sent with CRC-32 only.
func NewSession(scheme modem.SchemeParams, mode SessionMode, useReedSolomon bool) (*Session, error) {
	var rsEnc *fec.RSEncoder
	if useReedSolomon {
		enc, err := fec.NewRSEncoderForRepetition(scheme.Repetition)
		if err != nil {
			return nil, fmt.Errorf("create RS encoder: %w", err)
		}
		rsEnc = enc
	}

	s := &Session{
		audioIO:     audio.NewAudioIOWithBufferSize(scheme.Profile.SymbolLen()),
		modulator:   modem.NewRepeatingModulator(scheme.Mod, scheme.Profile, scheme.Repetition),
		demodulator: modem.NewRepeatingDemodulator(scheme.Mod, scheme.Profile, scheme.Repetition),
		rsEncoder:   rsEnc,
		scheme:      scheme,
		mode:        mode,
		useRS:       useReedSolomon,
		eventChan:   make(chan SessionEvent, 100),
	}

	s.transport = NewTransport(s.sendFrame, s.receiveFrame)
	return s, nil
}

// Open initializes the audio I/O.
func (s *Session) Open() error {
	s.setStatus(StatusConnecting, "Opening audio devices...")

	if err := s.audioIO.OpenDuplex(); err != nil {
		s.setStatus(StatusError, fmt.Sprintf("Audio open failed: %v", err))
		return err
	}

	s.setStatus(StatusConnected, "Audio devices ready")
	return nil
}

// Close releases all resources.
func (s *Session) Close() error {
	s.setStatus(StatusDisconnected, "Session closed")
	return s.audioIO.Close()
}

// Events returns the event channel for monitoring session state.
func (s *Session) Events() <-chan SessionEvent {
	return s.eventChan
}

// Transport returns the transport layer for file transfer operations.
func (s *Session) Transport() *Transport {
	return s.transport
}

// Mode returns the session's operating mode.
func (s *Session) Mode() SessionMode {
	return s.mode
}

// sendFrame modulates and transmits a protocol frame.
func (s *Session) sendFrame(frame *Frame) error {
	encoded, err := FrameToBytes(frame, s.rsEncoder)
	if err != nil {
		return err
	}

	signal := modem.GenerateFrame(encoded, s.scheme.Mod, s.scheme.Profile, s.scheme.Repetition)
	samples32 := modem.SamplesToFloat32(signal)

	if err := s.audioIO.StartOutput(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	defer s.audioIO.StopOutput()

	return s.audioIO.WriteSamples(samples32)
}

// receiveFrame receives and demodulates a protocol frame.
func (s *Session) receiveFrame(timeout time.Duration) (*Frame, error) {
	if err := s.audioIO.StartInput(); err != nil {
		return nil, fmt.Errorf("start input: %w", err)
	}
	defer s.audioIO.StopInput()

	symbolLen := s.scheme.Profile.SymbolLen()
	minSamples := 4 * symbolLen
	totalSamples := minSamples + 10*symbolLen

	deadline := time.Now().Add(timeout)
	var allSamples []float64

	for time.Now().Before(deadline) {
		samples32, err := s.audioIO.Read()
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		allSamples = append(allSamples, modem.Float32ToSamples(samples32)...)

		if len(allSamples) >= totalSamples {
			break
		}
	}

	if len(allSamples) < minSamples {
		return nil, fmt.Errorf("%w: insufficient samples (%d < %d)", ErrTimeout, len(allSamples), minSamples)
	}

	allSamples = modem.ApplyDCRemoval(allSamples)
	allSamples = modem.ApplyAGC(allSamples, 0.3)

	bitsPerSym := s.scheme.Profile.BitsPerOFDMSymbol(s.scheme.Mod)
	data, err := modem.ReceiveFrame(allSamples, s.scheme.Mod, s.scheme.Profile, s.scheme.Repetition, bitsPerSym)
	if err != nil {
		return nil, fmt.Errorf("demodulate: %w", err)
	}

	decoded, err := BytesToFrame(data, s.rsEncoder)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return decoded, nil
}

func (s *Session) setStatus(status SessionStatus, message string) {
	s.status = status
	event := SessionEvent{
		Status:  status,
		Message: message,
	}
	select {
	case s.eventChan <- event:
	default:
		log.Printf("Event channel full, dropping: %s - %s", status, message)
	}
}
