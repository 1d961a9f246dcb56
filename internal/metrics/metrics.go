// Package metrics exposes Prometheus counters and gauges for the
// streaming receiver and ARQ transport, registered with promauto the
// way madpsy-ka9q_ubersdr's PrometheusMetrics registers its decoder
// gauges.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Modem holds every metric the core emits. cmd/server leaves the
// *Modem nil when metrics are disabled, and internal/server checks it
// for nil before handing it to a session or a streaming receiver.
type Modem struct {
	preamblesDetected  prometheus.Counter
	preamblesAbandoned prometheus.Counter
	framesDecoded      prometheus.Counter
	frameErrors        prometheus.Counter
	chunksReceived     prometheus.Counter
	chunksCRCFailed    prometheus.Counter
	filesCompleted     prometheus.Counter

	arqRetries         prometheus.Counter
	arqRetriesExceeded prometheus.Counter
	arqHandshakes      prometheus.Counter

	transportState *prometheus.GaugeVec
}

// NewModem creates and registers the modem's Prometheus collectors
// against the default registry.
func NewModem() *Modem {
	return &Modem{
		preamblesDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_preambles_detected_total",
			Help: "Schmidl-Cox preambles accepted by the coarse/fine detector.",
		}),
		preamblesAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_preambles_abandoned_total",
			Help: "Coarse-detected candidates rejected by fine cross-correlation.",
		}),
		framesDecoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_frames_decoded_total",
			Help: "OFDM frames successfully demodulated to a byte payload.",
		}),
		frameErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_frame_errors_total",
			Help: "Frames dropped by the streaming receiver after demodulation failure.",
		}),
		chunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_chunks_received_total",
			Help: "DATA_CHUNK payloads accepted into the chunk assembler.",
		}),
		chunksCRCFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_chunks_crc_failed_total",
			Help: "DATA_CHUNK payloads discarded for failing their inner CRC-32.",
		}),
		filesCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_files_completed_total",
			Help: "Streamed files fully reassembled by the chunk assembler.",
		}),
		arqRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_arq_retries_total",
			Help: "Stop-and-wait ARQ frame retransmissions.",
		}),
		arqRetriesExceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_arq_retries_exceeded_total",
			Help: "ARQ sends that exhausted MAX_RETRIES.",
		}),
		arqHandshakes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "modem_arq_handshakes_total",
			Help: "Completed PING/PONG handshakes.",
		}),
		transportState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modem_transport_state",
			Help: "1 if the ARQ transport is currently in the named state, 0 otherwise.",
		}, []string{"state"}),
	}
}

// PreambleDetected implements stream.ReceiverMetrics.
func (m *Modem) PreambleDetected() { m.preamblesDetected.Inc() }

// PreambleAbandoned implements stream.ReceiverMetrics.
func (m *Modem) PreambleAbandoned() { m.preamblesAbandoned.Inc() }

// FrameDecoded implements stream.ReceiverMetrics.
func (m *Modem) FrameDecoded() { m.framesDecoded.Inc() }

// FrameError implements stream.ReceiverMetrics.
func (m *Modem) FrameError() { m.frameErrors.Inc() }

// ChunkReceived implements stream.ReceiverMetrics.
func (m *Modem) ChunkReceived(ok bool) {
	if ok {
		m.chunksReceived.Inc()
	} else {
		m.chunksCRCFailed.Inc()
	}
}

// FileCompleted implements stream.ReceiverMetrics.
func (m *Modem) FileCompleted() { m.filesCompleted.Inc() }

// Retry records one ARQ retransmission.
func (m *Modem) Retry() { m.arqRetries.Inc() }

// RetriesExceeded records an ARQ send that exhausted MAX_RETRIES.
func (m *Modem) RetriesExceeded() { m.arqRetriesExceeded.Inc() }

// HandshakeCompleted records one completed PING/PONG handshake.
func (m *Modem) HandshakeCompleted() { m.arqHandshakes.Inc() }

// SetTransportState reflects the ARQ transport's current state: the
// named state's gauge is set to 1, every other known state to 0.
func (m *Modem) SetTransportState(states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1.0
		}
		m.transportState.WithLabelValues(s).Set(v)
	}
}
