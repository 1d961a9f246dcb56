package modem

import "testing"

func TestOFDM_ModDemod_Loopback(t *testing.T) {
	mod := Mod16QAM
	p := Standard
	demodulator := NewDemodulator(mod, p)

	ceTimeDomain, knownCE := generateCE(p)

	// In loopback, "received" CE is the same as transmitted.
	receivedCE := EstimateChannelFromSymbol(ceTimeDomain, p)
	demodulator.SetChannelEstimate(receivedCE, knownCE)

	modulator := NewModulator(mod, p)
	bitsPerSym := p.BitsPerOFDMSymbol(mod)
	bits := make([]byte, bitsPerSym)
	for i := range bits {
		bits[i] = byte(i % 2)
	}
	samples := modulator.ModulateSingle(bits)

	recovered := demodulator.DemodulateSingle(samples)
	if len(recovered) < len(bits) {
		t.Fatalf("recovered length %d < input length %d", len(recovered), len(bits))
	}

	errs := 0
	for i := range bits {
		if i < len(recovered) && bits[i] != recovered[i] {
			errs++
		}
	}

	ber := float64(errs) / float64(len(bits))
	t.Logf("bit error rate: %.4f (%d errors in %d bits)", ber, errs, len(bits))
	if ber > 0.05 {
		t.Errorf("BER too high: %.4f (expected < 0.05)", ber)
	}
}

func TestOFDM_MultiSymbol(t *testing.T) {
	mod := ModQPSK
	p := Standard
	modulator := NewModulator(mod, p)

	bitsPerSym := p.BitsPerOFDMSymbol(mod)
	numSymbols := 3
	bits := make([]byte, bitsPerSym*numSymbols)
	for i := range bits {
		bits[i] = byte((i * 7) % 2)
	}

	samples, err := modulator.Modulate(bits)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}

	expectedLen := numSymbols * p.SymbolLen()
	if len(samples) != expectedLen {
		t.Errorf("expected %d samples, got %d", expectedLen, len(samples))
	}
}

func TestOFDM_RepetitionLoopback(t *testing.T) {
	mod := ModBPSK
	p := Acoustic
	const repetition = 3

	preambles := GeneratePreambles(p)
	modulator := NewRepeatingModulator(mod, p, repetition)
	demodulator := NewRepeatingDemodulator(mod, p, repetition)

	receivedCE := EstimateChannelFromSymbol(preambles.CE, p)
	demodulator.SetChannelEstimate(receivedCE, preambles.KnownCE)

	bits := []byte{1, 0, 1, 1, 0, 0, 1, 0}
	samples, err := modulator.Modulate(bits)
	if err != nil {
		t.Fatalf("Modulate error: %v", err)
	}

	recovered, err := demodulator.Demodulate(samples, len(bits))
	if err != nil {
		t.Fatalf("Demodulate error: %v", err)
	}
	if len(recovered) != len(bits) {
		t.Fatalf("recovered length %d != %d", len(recovered), len(bits))
	}
	for i := range bits {
		if bits[i] != recovered[i] {
			t.Errorf("bit %d: got %d want %d", i, recovered[i], bits[i])
		}
	}
}

func TestBytesToBits_BitsToBytes(t *testing.T) {
	data := []byte{0xAB, 0xCD, 0xEF}
	bits := BytesToBits(data)

	if len(bits) != 24 {
		t.Fatalf("expected 24 bits, got %d", len(bits))
	}

	recovered := BitsToBytes(bits)
	for i := range data {
		if data[i] != recovered[i] {
			t.Errorf("byte %d: 0x%02x != 0x%02x", i, data[i], recovered[i])
		}
	}
}

func TestNumDataSubcarriers(t *testing.T) {
	p := Standard
	n := p.NumDataSubcarriers()
	total := p.SubcarrierEnd - p.SubcarrierStart + 1
	expected := total - len(p.Pilots)

	if n != expected {
		t.Errorf("NumDataSubcarriers() = %d, expected %d (total %d - pilots %d)",
			n, expected, total, len(p.Pilots))
	}
	t.Logf("data subcarriers: %d out of %d total", n, total)
}

func TestGenerateFrame_ReceiveFrame(t *testing.T) {
	data := []byte("Hello, OFDM!")
	mod := ModQPSK
	p := Standard

	samples := GenerateFrame(data, mod, p, 1)
	t.Logf("frame length: %d samples (%.2f ms)", len(samples), float64(len(samples))/float64(p.SampleRate)*1000)
	if len(samples) == 0 {
		t.Fatal("GenerateFrame returned empty samples")
	}

	recovered, err := ReceiveFrame(samples, mod, p, 1, len(data)*8)
	if err != nil {
		t.Fatalf("ReceiveFrame error: %v", err)
	}
	if len(recovered) < len(data) {
		t.Fatalf("recovered data too short: %d < %d", len(recovered), len(data))
	}

	for i := range data {
		if data[i] != recovered[i] {
			t.Logf("original: %v", data)
			t.Logf("recovered: %v", recovered[:len(data)])
			t.Fatal("data mismatch in loopback test")
		}
	}
}

func TestSamplesToFloat32(t *testing.T) {
	samples := []float64{0.1, -0.5, 0.9, 0.0}
	f32 := SamplesToFloat32(samples)

	if len(f32) != len(samples) {
		t.Fatalf("length mismatch")
	}

	for i := range samples {
		if float64(f32[i])-samples[i] > 1e-6 {
			t.Errorf("sample %d: %v != %v", i, f32[i], samples[i])
		}
	}
}

func TestApplyDCRemoval(t *testing.T) {
	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = 0.5 + 0.1*float64(i%2)
	}

	filtered := ApplyDCRemoval(samples)

	var dcSum float64
	for i := len(filtered) - 100; i < len(filtered); i++ {
		dcSum += filtered[i]
	}
	dcAvg := dcSum / 100.0

	if dcAvg > 0.1 {
		t.Errorf("DC not sufficiently removed: avg = %v", dcAvg)
	}
}
