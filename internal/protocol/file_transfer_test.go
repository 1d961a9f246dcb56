package protocol

import (
	"testing"

	"github.com/jeongseonghan/audio-modem/internal/modem"
)

func TestNewFileSenderForScheme_ScalesChunkWithThroughput(t *testing.T) {
	tests := []struct {
		name   string
		scheme modem.ModulationScheme
	}{
		{name: "QPSK standard", scheme: modem.SchemeQPSK},
		{name: "16-QAM standard", scheme: modem.Scheme16QAM},
		{name: "BPSK acoustic", scheme: modem.SchemeBPSKAcoustic},
		{name: "BPSK repeat", scheme: modem.SchemeBPSKRepeat},
		{name: "BPSK narrowband", scheme: modem.SchemeBPSKNarrow},
	}

	var transport Transport
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := modem.ResolveScheme(tt.scheme)
			if err != nil {
				t.Fatalf("ResolveScheme: %v", err)
			}

			fs := NewFileSenderForScheme(&transport, params)
			if fs.chunkSize <= 0 {
				t.Fatalf("chunkSize = %d, want > 0", fs.chunkSize)
			}
			if fs.chunkSize > MaxPayloadSize {
				t.Errorf("chunkSize = %d, must never exceed MaxPayloadSize %d", fs.chunkSize, MaxPayloadSize)
			}
		})
	}
}

func TestNewFileSenderForScheme_NarrowbandChunksSmallerThanStandard(t *testing.T) {
	var transport Transport

	standard, err := modem.ResolveScheme(modem.Scheme16QAM)
	if err != nil {
		t.Fatalf("ResolveScheme standard: %v", err)
	}
	narrow, err := modem.ResolveScheme(modem.SchemeBPSKNarrow)
	if err != nil {
		t.Fatalf("ResolveScheme narrowband: %v", err)
	}

	standardSender := NewFileSenderForScheme(&transport, standard)
	narrowSender := NewFileSenderForScheme(&transport, narrow)

	if narrowSender.chunkSize >= standardSender.chunkSize {
		t.Errorf("narrowband chunkSize %d should be smaller than standard chunkSize %d",
			narrowSender.chunkSize, standardSender.chunkSize)
	}
}
