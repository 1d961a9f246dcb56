package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeongseonghan/audio-modem/internal/modem"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Modulation != modem.Scheme16QAM {
		t.Errorf("default modulation = %s, want %s", c.Modulation, modem.Scheme16QAM)
	}
	if c.ChunkThreshold != 32*1024 {
		t.Errorf("default chunk threshold = %d, want %d", c.ChunkThreshold, 32*1024)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modem.yaml")
	yamlSrc := "modulation: QPSK\nchunk_threshold: 4096\n"
	if err := os.WriteFile(path, []byte(yamlSrc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Modulation != modem.SchemeQPSK {
		t.Errorf("modulation = %s, want %s", c.Modulation, modem.SchemeQPSK)
	}
	if c.ChunkThreshold != 4096 {
		t.Errorf("chunk threshold = %d, want 4096", c.ChunkThreshold)
	}
	// Fields absent from the YAML keep their Default() values.
	if c.ARQ.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3 (untouched default)", c.ARQ.MaxRetries)
	}
}

func TestSchemeResolution(t *testing.T) {
	c := Default()
	c.Modulation = modem.SchemeBPSKNarrow
	scheme, err := c.Scheme()
	if err != nil {
		t.Fatalf("Scheme: %v", err)
	}
	if scheme.Profile.Name != modem.ProfileNarrowband {
		t.Errorf("profile = %s, want %s", scheme.Profile.Name, modem.ProfileNarrowband)
	}
	if scheme.Repetition != 3 {
		t.Errorf("repetition = %d, want 3", scheme.Repetition)
	}
}
