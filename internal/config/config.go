// Package config loads session/profile settings from a YAML file,
// the way the teacher's wider example pack configures a long-running
// service (madpsy-ka9q_ubersdr's Config/LoadConfig), layered under
// flag overrides from the cmd/server entry point.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/audio-modem/internal/modem"
)

// ModemConfig is the session-scoped configuration a modem endpoint is
// built from (spec §6's Configuration options, plus ARQ timing and
// the server front end's directories).
type ModemConfig struct {
	Modulation     modem.ModulationScheme `yaml:"modulation"`
	UseReedSolomon bool                   `yaml:"use_reed_solomon"`
	ChunkThreshold int                    `yaml:"chunk_threshold"`

	ARQ struct {
		ACKTimeout time.Duration `yaml:"ack_timeout"`
		TurnAround time.Duration `yaml:"turnaround"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"arq"`

	Server struct {
		Addr       string `yaml:"addr"`
		UploadDir  string `yaml:"upload_dir"`
		ReceiveDir string `yaml:"receive_dir"`
		StaticDir  string `yaml:"static_dir"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no YAML file is given,
// matching the teacher's cmd/server flag defaults.
func Default() ModemConfig {
	var c ModemConfig
	c.Modulation = modem.Scheme16QAM
	c.UseReedSolomon = false
	c.ChunkThreshold = 32 * 1024
	c.ARQ.ACKTimeout = 500 * time.Millisecond
	c.ARQ.TurnAround = 50 * time.Millisecond
	c.ARQ.MaxRetries = 3
	c.Server.Addr = "0.0.0.0:8080"
	c.Server.UploadDir = "./uploads"
	c.Server.ReceiveDir = "./received"
	c.Server.StaticDir = "./web/static"
	c.Metrics.Enabled = true
	c.Metrics.Addr = ":9090"
	return c
}

// Load reads and parses a YAML configuration file, starting from
// Default() so a file only needs to set the fields it overrides.
func Load(filename string) (ModemConfig, error) {
	c := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return c, nil
}

// Scheme resolves the configured modulation into its full OFDM scheme.
func (c ModemConfig) Scheme() (modem.SchemeParams, error) {
	return modem.ResolveScheme(c.Modulation)
}

// Save writes the configuration back out as YAML, for a front end that
// lets a user edit and persist settings.
func (c ModemConfig) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", filename, err)
	}
	return nil
}
