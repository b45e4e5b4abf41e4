// Package config loads the scsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/scsync/internal/modem"
	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

// Source kinds.
const (
	SourceFile  = "file"
	SourceAudio = "audio"
	SourceSim   = "sim"
)

var (
	ErrUnknownSource = errors.New("unknown source kind")
	ErrMissingInput  = errors.New("file source needs an input path")
	ErrInvalidChunk  = errors.New("chunk size must be positive")
)

// Config is the complete application configuration.
type Config struct {
	Sync   SyncConfig   `yaml:"sync"`
	Source SourceConfig `yaml:"source"`
	Output OutputConfig `yaml:"output"`
	Server ServerConfig `yaml:"server"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Log    LogConfig    `yaml:"log"`
}

// SyncConfig holds the synchronizer parameters.
type SyncConfig struct {
	FFTLen          int     `yaml:"fft_len"`
	CPLen           int     `yaml:"cp_len"`
	UseEvenCarriers bool    `yaml:"use_even_carriers"`
	Threshold       float64 `yaml:"threshold"`
}

// Schmidlcox converts to the synchronizer's own configuration.
func (s SyncConfig) Schmidlcox() schmidlcox.Config {
	return schmidlcox.Config{
		FFTLen:          s.FFTLen,
		CPLen:           s.CPLen,
		UseEvenCarriers: s.UseEvenCarriers,
		Threshold:       s.Threshold,
	}
}

// SourceConfig selects and configures the sample source.
type SourceConfig struct {
	Kind       string    `yaml:"kind"`
	Path       string    `yaml:"path"`
	SampleRate float64   `yaml:"sample_rate"`
	ChunkSize  int       `yaml:"chunk_size"`
	Audio      AudioSpec `yaml:"audio"`
	Sim        SimSpec   `yaml:"sim"`
}

// AudioSpec holds sound-card capture options.
type AudioSpec struct {
	DCBlock   bool    `yaml:"dc_block"`
	AGCTarget float64 `yaml:"agc_target"`
}

// SimSpec holds burst simulator options.
type SimSpec struct {
	Interval    int     `yaml:"interval"`
	DataSymbols int     `yaml:"data_symbols"`
	Modulation  string  `yaml:"modulation"`
	SNR         float64 `yaml:"snr_db"`
	CFO         float64 `yaml:"cfo"`
	Seed        int64   `yaml:"seed"`
	Samples     int64   `yaml:"samples"`
}

// OutputConfig optionally dumps both output streams to a file.
type OutputConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API. An empty Listen disables it.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig configures detection publishing. An empty Broker disables it.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	Topic          string `yaml:"topic"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

// LogConfig sets the log level name (debug, info, warn, error).
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			FFTLen:    64,
			CPLen:     16,
			Threshold: schmidlcox.DefaultThreshold,
		},
		Source: SourceConfig{
			Kind:       SourceSim,
			SampleRate: 48000,
			ChunkSize:  4096,
			Audio:      AudioSpec{DCBlock: true},
			Sim: SimSpec{
				Interval:    4000,
				DataSymbols: 8,
				Modulation:  "qpsk",
				SNR:         15,
				CFO:         0.1,
				Seed:        1,
			},
		},
		MQTT: MQTTConfig{
			Topic:          "scsync",
			ClientIDPrefix: "scsync",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads filename on top of the defaults and validates the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	if err := c.Sync.Schmidlcox().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.Source.ChunkSize <= 0 {
		return fmt.Errorf("source: %w: %d", ErrInvalidChunk, c.Source.ChunkSize)
	}

	switch c.Source.Kind {
	case SourceFile:
		if c.Source.Path == "" {
			return fmt.Errorf("source: %w", ErrMissingInput)
		}
	case SourceAudio:
		if c.Source.SampleRate <= 0 {
			return fmt.Errorf("source: sample rate must be positive, got %v", c.Source.SampleRate)
		}
	case SourceSim:
		if _, err := modem.ParseModulation(c.Source.Sim.Modulation); err != nil {
			return fmt.Errorf("source.sim: %w", err)
		}
	default:
		return fmt.Errorf("source: %w %q", ErrUnknownSource, c.Source.Kind)
	}
	return nil
}

// SimConfig builds the simulator configuration from the sync and sim
// sections. Modulation must already have been validated.
func (c *Config) SimConfig() modem.BurstConfig {
	mod, _ := modem.ParseModulation(c.Source.Sim.Modulation)
	return modem.BurstConfig{
		FFTLen:       c.Sync.FFTLen,
		CPLen:        c.Sync.CPLen,
		EvenCarriers: c.Sync.UseEvenCarriers,
		Modulation:   mod,
		DataSymbols:  c.Source.Sim.DataSymbols,
		Seed:         c.Source.Sim.Seed,
	}
}
