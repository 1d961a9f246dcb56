package stream

import (
	"fmt"
	"math"

	"github.com/jeongseonghan/audio-modem/internal/modem"
	"github.com/jeongseonghan/audio-modem/internal/protocol"
)

// ReceiverState is the StreamingReceiver's scan/demodulate state
// machine (spec §4.I).
type ReceiverState int

const (
	StateIdle ReceiverState = iota
	StatePreambleDetected
	StateCollectingFrame
	StateDemodulating
)

// String returns the state name.
func (s ReceiverState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePreambleDetected:
		return "PREAMBLE_DETECTED"
	case StateCollectingFrame:
		return "COLLECTING_FRAME"
	case StateDemodulating:
		return "DEMODULATING"
	default:
		return "UNKNOWN"
	}
}

// metadataProbeBytes is the payload size assumed before any METADATA
// frame has been seen -- large enough to cover a metadata frame (spec
// §4.I: "280 before any metadata is known").
const metadataProbeBytes = 280

// chunkOverheadBytes is the fixed overhead of a DATA_CHUNK payload
// (tag + seqNum + dataLen + CRC-32) added to chunkSize once metadata
// has told the scanner the real per-frame payload size.
const chunkOverheadBytes = 11

// ReceiverEvents is the event sink a StreamingReceiver reports to
// (spec §6's {metadata, chunk(seq, ok), complete(file)} stream).
// Any method left nil is simply not called.
type ReceiverEvents struct {
	OnMetadata   func(meta *protocol.ChunkMetadata)
	OnChunk      func(seqNum uint32, ok bool)
	OnComplete   func(file []byte, name string)
	OnLegacy     func(pkt *LegacyPacket)
	OnFrameError func(err error)
}

// StreamingReceiver drives the preamble-hunt -> demodulate -> assemble
// pipeline over a free-running sample stream (spec §4.I). It owns the
// ring buffer and the chunk assembler and is fed by repeated calls to
// Feed as audio blocks arrive; it never blocks and is idempotent under
// reentry with no new samples.
type StreamingReceiver struct {
	profile    modem.Profile
	mod        modem.Modulation
	repetition int

	ring      *RingBuffer
	assembler *ChunkAssembler
	events    ReceiverEvents

	dcMean float64
	dcInit bool

	state ReceiverState

	// Idle-state coarse scan.
	coarse     *modem.CoarseDetector
	acScanPos  int64
	scanning   bool
	bestMetric float64
	bestPos    int64
	pastPeak   bool

	// PreambleDetected / CollectingFrame state.
	preambleGlobalPos int64
	expectedFrameEnd  int64

	// Progress counters, surfaced for diagnostics/metrics.
	framesDecoded    int
	frameErrors      int
	preambleAbandons int

	// Metrics, if set, observes decode outcomes (spec's metrics front
	// end). Left nil, this is a no-op.
	Metrics ReceiverMetrics
}

// ReceiverMetrics is the narrow observer interface internal/metrics
// implements against Prometheus counters; kept separate from
// internal/metrics so internal/stream never imports the Prometheus
// client directly.
type ReceiverMetrics interface {
	PreambleDetected()
	PreambleAbandoned()
	FrameDecoded()
	FrameError()
	ChunkReceived(ok bool)
	FileCompleted()
}

// NewStreamingReceiver creates a receiver for the given OFDM profile,
// modulation and repetition factor, with ring capacity large enough
// for at least 3 maximum frame lengths plus margin (spec §3).
func NewStreamingReceiver(mod modem.Modulation, p modem.Profile, repetition int, store ChunkStore, events ReceiverEvents) *StreamingReceiver {
	// The largest frame is the pre-METADATA probe or a DATA_CHUNK of
	// ChunkSizeFor(mod) bytes; a METADATA frame announcing a larger
	// chunk size is not covered.
	maxPayload := metadataProbeBytes
	if chunkPayload := ChunkSizeFor(mod) + chunkOverheadBytes; maxPayload < chunkPayload {
		maxPayload = chunkPayload
	}
	maxFrameSymbols := 3 + (8*maxPayload*repetitionOrOne(repetition)+p.BitsPerOFDMSymbol(mod)-1)/maxInt(p.BitsPerOFDMSymbol(mod), 1)
	capacity := 3*maxFrameSymbols*p.SymbolLen() + 8*p.SymbolLen()

	return &StreamingReceiver{
		profile:    p,
		mod:        mod,
		repetition: repetitionOrOne(repetition),
		ring:       NewRingBuffer(capacity),
		assembler:  NewChunkAssembler(store),
		events:     events,
		coarse:     modem.NewCoarseDetector(p.FFTSize / 2),
	}
}

func repetitionOrOne(r int) int {
	if r < 1 {
		return 1
	}
	return r
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Assembler returns the receiver's chunk assembler, for callers that
// want to inspect progress or pull a Partial result directly.
func (r *StreamingReceiver) Assembler() *ChunkAssembler { return r.assembler }

// State reports the receiver's current scanner state.
func (r *StreamingReceiver) State() ReceiverState { return r.state }

// Feed appends one block of captured samples and advances the scanner
// (spec §4.I). It is safe to call with an empty block -- a no-op
// reentry, per spec §9's coroutine contract.
func (r *StreamingReceiver) Feed(samples []float64) {
	if len(samples) == 0 {
		return
	}
	cleaned := r.removeDC(samples)
	r.ring.Write(cleaned)
	r.advance()
}

// removeDC applies the exponential-moving-average DC removal filter
// (spec §4.I step 1), carrying the running mean across Feed calls.
func (r *StreamingReceiver) removeDC(samples []float64) []float64 {
	const alpha = 0.999
	if !r.dcInit {
		r.dcMean = samples[0]
		r.dcInit = true
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		r.dcMean = alpha*r.dcMean + (1-alpha)*s
		out[i] = s - r.dcMean
	}
	return out
}

// advance runs the scanner state machine as far as currently-buffered
// samples allow, then returns -- it never blocks waiting for more.
func (r *StreamingReceiver) advance() {
	for {
		switch r.state {
		case StateIdle:
			if !r.scanIdle() {
				return
			}
		case StatePreambleDetected:
			if !r.refinePreamble() {
				return
			}
		case StateCollectingFrame:
			if !r.collectFrame() {
				return
			}
		case StateDemodulating:
			r.demodulateFrame()
			// loops back to Idle internally; re-enter the switch.
		}
	}
}

// scanIdle slides the incremental auto-correlation detector across
// whatever new samples are available, tracking the best metric seen
// since the scan was (re)anchored at acScanPos (spec §4.I "State Idle").
func (r *StreamingReceiver) scanIdle() bool {
	total := r.ring.TotalWritten()
	if !r.scanning {
		r.coarse = modem.NewCoarseDetector(r.profile.FFTSize / 2)
		r.scanning = true
		r.bestMetric = 0
		r.pastPeak = false
	}

	half := r.profile.FFTSize / 2
	window := int64(2 * half)

	for r.acScanPos+window <= total {
		samples, err := r.ring.Read(r.acScanPos, 1)
		if err != nil {
			// Overwritten: jump to the oldest still-retained sample
			// and start the sliding window over from there.
			r.acScanPos = total - r.ring.Capacity()
			if r.acScanPos < 0 {
				r.acScanPos = 0
			}
			r.coarse = modem.NewCoarseDetector(half)
			r.bestMetric = 0
			r.pastPeak = false
			continue
		}
		metric, ready := r.coarse.Step(samples[0])
		if !ready {
			r.acScanPos++
			continue
		}
		candidatePos := r.acScanPos + 1 - window

		if metric > r.bestMetric {
			r.bestMetric = metric
			r.bestPos = candidatePos
			r.pastPeak = false
		} else if r.bestMetric > 0.5 && metric < 0.7*r.bestMetric {
			r.pastPeak = true
		}

		r.acScanPos++

		if r.pastPeak {
			r.preambleGlobalPos = r.bestPos
			r.state = StatePreambleDetected
			r.scanning = false
			if r.Metrics != nil {
				r.Metrics.PreambleDetected()
			}
			return true
		}
	}
	return false
}

// refinePreamble runs the fine cross-correlation detector once enough
// samples past the candidate have been buffered (spec §4.I "State
// PreambleDetected").
func (r *StreamingReceiver) refinePreamble() bool {
	radius := 3 * r.profile.CPLen
	symbolLen := r.profile.SymbolLen()
	need := r.preambleGlobalPos + int64(symbolLen+radius)
	if r.ring.TotalWritten() < need {
		return false
	}

	lo := r.preambleGlobalPos - int64(radius)
	if lo < 0 {
		lo = 0
	}
	span := int(need - lo)
	window, err := r.ring.Read(lo, span)
	if err != nil {
		r.abandon()
		return true
	}

	preambles := modem.GeneratePreambles(r.profile)
	fineIdx, metric := modem.FineAlign(window, int(r.preambleGlobalPos-lo), radius, preambles.P1)
	if fineIdx < 0 || metric < 0.1 {
		r.abandon()
		return true
	}
	r.preambleGlobalPos = lo + int64(fineIdx)

	payloadBytes := metadataProbeBytes
	if r.assembler.haveMetaLocked() {
		payloadBytes = int(r.assembler.ChunkSize()) + chunkOverheadBytes
	}
	totalBits := 8 * payloadBytes * r.repetition
	bitsPerSym := r.profile.BitsPerOFDMSymbol(r.mod)
	dataSymbols := (totalBits + bitsPerSym - 1) / bitsPerSym
	r.expectedFrameEnd = r.preambleGlobalPos + int64(3*symbolLen) + int64(dataSymbols*symbolLen)

	r.state = StateCollectingFrame
	return true
}

// abandon drops the current candidate and resumes scanning past it.
func (r *StreamingReceiver) abandon() {
	r.preambleAbandons++
	if r.Metrics != nil {
		r.Metrics.PreambleAbandoned()
	}
	r.acScanPos = r.preambleGlobalPos + 1
	r.scanning = false
	r.state = StateIdle
}

// collectFrame waits for the ring to hold the whole expected frame
// before handing off to demodulation (spec §4.I "State
// CollectingFrame").
func (r *StreamingReceiver) collectFrame() bool {
	if r.ring.TotalWritten() < r.expectedFrameEnd {
		return false
	}
	r.state = StateDemodulating
	return true
}

// demodulateFrame fetches the exact frame slice, equalizes and
// demaps it, routes the decoded bytes to the right payload parser, and
// always returns to Idle with the scan resumed just past this frame
// (spec §4.I "State Demodulating").
func (r *StreamingReceiver) demodulateFrame() {
	defer func() {
		r.state = StateIdle
		r.scanning = false
		r.acScanPos = r.expectedFrameEnd
	}()

	length := int(r.expectedFrameEnd - r.preambleGlobalPos)
	frame, err := r.ring.Read(r.preambleGlobalPos, length)
	if err != nil {
		r.reportFrameError(fmt.Errorf("%w: frame overwritten before demodulation", ErrOverrun))
		return
	}

	frame = normalizedCopy(frame)

	symbolLen := r.profile.SymbolLen()
	ceStart := 2 * symbolLen
	if ceStart+symbolLen > len(frame) {
		r.reportFrameError(fmt.Errorf("stream: frame too short for channel estimation"))
		return
	}
	ceSymbol := frame[ceStart : ceStart+symbolLen]
	receivedCE := modem.EstimateChannelFromSymbol(ceSymbol, r.profile)

	demod := modem.NewRepeatingDemodulator(r.mod, r.profile, r.repetition)
	demod.SetChannelEstimate(receivedCE, modem.GeneratePreambles(r.profile).KnownCE)
	if !demod.ChannelObservable() {
		r.reportFrameError(fmt.Errorf("stream: %w", modem.ErrChannelUnobservable))
		return
	}

	dataStart := 3 * symbolLen
	if dataStart >= len(frame) {
		r.reportFrameError(fmt.Errorf("stream: no data samples after channel estimation"))
		return
	}

	bits, err := demod.Demodulate(frame[dataStart:], 0)
	if err != nil {
		r.reportFrameError(fmt.Errorf("stream: demodulate: %w", err))
		return
	}
	payload := modem.BitsToBytes(bits)
	if len(payload) == 0 {
		r.reportFrameError(fmt.Errorf("stream: empty decoded payload"))
		return
	}

	r.framesDecoded++
	if r.Metrics != nil {
		r.Metrics.FrameDecoded()
	}
	r.routePayload(payload)
}

// routePayload inspects the first decoded byte and dispatches to the
// matching parser, per spec §3/§4.I.
func (r *StreamingReceiver) routePayload(payload []byte) {
	switch payload[0] {
	case protocol.TagMetadata:
		meta, err := protocol.DecodeMetadata(payload)
		if err != nil {
			r.reportFrameError(fmt.Errorf("stream: decode metadata: %w", err))
			return
		}
		if err := r.assembler.HandleMetadata(meta); err != nil {
			r.reportFrameError(fmt.Errorf("stream: apply metadata: %w", err))
			return
		}
		if meta.CRCValid && r.events.OnMetadata != nil {
			r.events.OnMetadata(meta)
		}
	case protocol.TagDataChunk:
		chunk, err := protocol.DecodeDataChunk(payload)
		if err != nil {
			r.reportFrameError(fmt.Errorf("stream: decode chunk: %w", err))
			return
		}
		if err := r.assembler.HandleDataChunk(chunk); err != nil {
			r.reportFrameError(fmt.Errorf("stream: apply chunk: %w", err))
			return
		}
		if r.Metrics != nil {
			r.Metrics.ChunkReceived(chunk.CRCValid)
		}
		if r.events.OnChunk != nil {
			r.events.OnChunk(chunk.SeqNum, chunk.CRCValid)
		}
		if r.assembler.Complete() {
			file, err := r.assembler.Assemble()
			if err != nil {
				r.reportFrameError(fmt.Errorf("stream: assemble: %w", err))
				return
			}
			if r.Metrics != nil {
				r.Metrics.FileCompleted()
			}
			if r.events.OnComplete != nil {
				r.events.OnComplete(file, r.assembler.Name())
			}
		}
	default:
		pkt, err := DecodeLegacyPacket(payload)
		if err != nil {
			r.reportFrameError(fmt.Errorf("stream: decode legacy packet: %w", err))
			return
		}
		if r.events.OnLegacy != nil {
			r.events.OnLegacy(pkt)
		}
		if pkt.CRCValid && r.events.OnComplete != nil {
			r.events.OnComplete(pkt.Data, pkt.Name)
		}
	}
}

// reportFrameError counts one bad frame and resumes scanning; the
// streaming receiver never propagates a single frame failure to the
// caller (spec §7 policy).
func (r *StreamingReceiver) reportFrameError(err error) {
	r.frameErrors++
	if r.Metrics != nil {
		r.Metrics.FrameError()
	}
	if r.events.OnFrameError != nil {
		r.events.OnFrameError(err)
	}
}

// Stats returns scanner progress counters for diagnostics.
func (r *StreamingReceiver) Stats() (framesDecoded, frameErrors, preambleAbandons int) {
	return r.framesDecoded, r.frameErrors, r.preambleAbandons
}

// normalizedCopy returns a copy of frame scaled so its own peak
// magnitude is 1.0, the independent per-frame AGC spec §4.I calls for
// ahead of demodulation.
func normalizedCopy(frame []float64) []float64 {
	out := make([]float64, len(frame))
	copy(out, frame)
	peak := 0.0
	for _, s := range out {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak < 1e-10 {
		return out
	}
	scale := 1.0 / peak
	for i := range out {
		out[i] *= scale
	}
	return out
}
