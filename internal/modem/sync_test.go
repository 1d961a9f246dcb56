package modem

import "testing"

func TestPreambleGeneration(t *testing.T) {
	p := Standard
	preambles := GeneratePreambles(p)

	expectedLen := p.SymbolLen()
	if len(preambles.P1) != expectedLen {
		t.Errorf("P1 length: %d, expected %d", len(preambles.P1), expectedLen)
	}
	if len(preambles.P2) != expectedLen {
		t.Errorf("P2 length: %d, expected %d", len(preambles.P2), expectedLen)
	}

	for i, s := range preambles.P1 {
		if s > 1.0 || s < -1.0 {
			t.Errorf("P1 sample %d out of range: %v", i, s)
			break
		}
	}
}

func TestPreambleGeneration_Deterministic(t *testing.T) {
	p := Acoustic
	a := GeneratePreambles(p)
	b := GeneratePreambles(p)

	for i := range a.P1 {
		if a.P1[i] != b.P1[i] {
			t.Fatalf("P1 sample %d differs between runs: %v != %v", i, a.P1[i], b.P1[i])
		}
	}
	for i := range a.KnownCE {
		if a.KnownCE[i] != b.KnownCE[i] {
			t.Fatalf("KnownCE[%d] differs between runs", i)
		}
	}
}

func TestLCG_KnownSequence(t *testing.T) {
	g := newLCG(42)
	// s <- (s*1103515245 + 12345) mod 2^31, starting from s0 = 42.
	want := uint64(42)
	for i := 0; i < 5; i++ {
		want = (want*1103515245 + 12345) % lcgModulus
		g.bit()
		if g.state != want {
			t.Fatalf("step %d: state = %d, want %d", i, g.state, want)
		}
	}
}

func TestCoarseScan_Detection(t *testing.T) {
	p := Standard
	preambles := GeneratePreambles(p)

	silence := make([]float64, 1000)
	var signal []float64
	signal = append(signal, silence...)
	signal = append(signal, preambles.P1...)
	signal = append(signal, preambles.P2...)
	signal = append(signal, make([]float64, 2000)...)

	idx, metric := CoarseScan(signal, p.FFTSize/2)
	if idx < 0 {
		t.Fatalf("preamble not detected, metric=%.3f", metric)
	}

	preambleStart := 1000
	preambleEnd := preambleStart + 2*p.SymbolLen()
	if idx < preambleStart-p.CPLen || idx > preambleEnd {
		t.Errorf("preamble detected at %d, expected within [%d, %d]", idx, preambleStart-p.CPLen, preambleEnd)
	}
	t.Logf("coarse detection at %d, metric %.3f", idx, metric)
}

func TestFineAlign_RefinesCoarse(t *testing.T) {
	p := Standard
	preambles := GeneratePreambles(p)

	silence := make([]float64, 500)
	var signal []float64
	signal = append(signal, silence...)
	signal = append(signal, preambles.P1...)
	signal = append(signal, preambles.P2...)

	coarseIdx, _ := CoarseScan(signal, p.FFTSize/2)
	if coarseIdx < 0 {
		t.Fatal("coarse detection failed")
	}

	fineIdx, metric := FineAlign(signal, coarseIdx, 3*p.CPLen, preambles.P1)
	if fineIdx < 0 {
		t.Fatalf("fine alignment failed, metric=%.3f", metric)
	}
	if metric < 0.1 {
		t.Errorf("fine alignment metric too low: %.3f", metric)
	}
	t.Logf("fine alignment at %d (coarse was %d), metric %.3f", fineIdx, coarseIdx, metric)
}

func TestChannelEstimation(t *testing.T) {
	p := Standard
	samples, known := generateCE(p)

	if len(samples) != p.SymbolLen() {
		t.Errorf("channel estimation symbol length: %d, expected %d", len(samples), p.SymbolLen())
	}

	nonZero := 0
	for k := p.SubcarrierStart; k <= p.SubcarrierEnd; k++ {
		if known[k] != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("no non-zero known symbols in channel estimation")
	}
	t.Logf("channel estimation: %d non-zero known symbols", nonZero)
}
