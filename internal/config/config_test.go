package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/scsync/internal/modem"
	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.Sync.FFTLen)
	assert.Equal(t, schmidlcox.DefaultThreshold, cfg.Sync.Threshold)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
sync:
  fft_len: 128
  use_even_carriers: true
source:
  kind: file
  path: capture.cf32
mqtt:
  broker: tcp://localhost:1883
`))
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Sync.FFTLen)
	assert.Equal(t, 16, cfg.Sync.CPLen)
	assert.True(t, cfg.Sync.UseEvenCarriers)
	assert.Equal(t, 0.9, cfg.Sync.Threshold)
	assert.Equal(t, SourceFile, cfg.Source.Kind)
	assert.Equal(t, 4096, cfg.Source.ChunkSize)
	assert.Equal(t, "scsync", cfg.MQTT.Topic)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"zero fft length", "sync: {fft_len: 0}", schmidlcox.ErrInvalidFFTLen},
		{"negative prefix", "sync: {cp_len: -2}", schmidlcox.ErrInvalidCPLen},
		{"threshold too high", "sync: {threshold: 1.2}", schmidlcox.ErrInvalidThreshold},
		{"unknown source", "source: {kind: rtlsdr}", ErrUnknownSource},
		{"file without path", "source: {kind: file}", ErrMissingInput},
		{"zero chunk", "source: {chunk_size: 0}", ErrInvalidChunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Parse([]byte("source: {sim: {modulation: 8psk}}"))
	assert.Error(t, err)

	_, err = Parse([]byte("sync: [not, a, map]"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: {level: debug}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSimConfig(t *testing.T) {
	cfg := Default()
	cfg.Sync.UseEvenCarriers = true
	cfg.Source.Sim.Modulation = "16qam"

	bc := cfg.SimConfig()
	assert.Equal(t, modem.Mod16QAM, bc.Modulation)
	assert.Equal(t, 64, bc.FFTLen)
	assert.True(t, bc.EvenCarriers)
	assert.Equal(t, 8, bc.DataSymbols)
}
