package iqsource

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/scsync/internal/modem"
	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

func simConfig() SimConfig {
	return SimConfig{
		Burst: modem.BurstConfig{
			FFTLen: 64, CPLen: 16, EvenCarriers: true, Modulation: modem.ModQPSK, DataSymbols: 3, Seed: 11,
		},
		Interval: 1000,
		SNR:      20,
		CFO:      -0.15,
		Limit:    4500,
	}
}

func TestSimSource_LimitAndInjections(t *testing.T) {
	src, err := NewSimSource(simConfig())
	require.NoError(t, err)

	got := readAll(t, src, 333)
	assert.Len(t, got, 4500)

	inj := src.Injected()
	require.Len(t, inj, 5)
	for i, in := range inj {
		// 5 symbols of 80 samples per burst, each burst ends its interval.
		assert.Equal(t, int64(i*1000+600), in.Start)
		assert.Equal(t, in.Start+80, in.Boundary)
	}

	n, err := src.Read(context.Background(), make([]complex64, 10))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestSimSource_Deterministic(t *testing.T) {
	a, err := NewSimSource(simConfig())
	require.NoError(t, err)
	b, err := NewSimSource(simConfig())
	require.NoError(t, err)

	assert.Equal(t, readAll(t, a, 100), readAll(t, b, 777))
}

func TestSimSource_RejectsShortInterval(t *testing.T) {
	cfg := simConfig()
	cfg.Interval = 400
	_, err := NewSimSource(cfg)
	assert.Error(t, err)

	cfg = simConfig()
	cfg.Burst.FFTLen = 5
	_, err = NewSimSource(cfg)
	assert.ErrorIs(t, err, modem.ErrInvalidLength)
}

func TestSimSource_Cancelled(t *testing.T) {
	src, err := NewSimSource(simConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx, make([]complex64, 8))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimSource_BurstsAreDetected(t *testing.T) {
	cfg := simConfig()
	cfg.Limit = 5000 // ends right after the fifth burst
	src, err := NewSimSource(cfg)
	require.NoError(t, err)

	s, err := schmidlcox.New(schmidlcox.Config{FFTLen: 64, CPLen: 16, UseEvenCarriers: true, Threshold: 0.8})
	require.NoError(t, err)
	var dets []schmidlcox.Detection
	s.SetDetectionHandler(func(d schmidlcox.Detection) { dets = append(dets, d) })

	in := readAll(t, src, 256)
	s.Work(in, make([]float32, len(in)), make([]float32, len(in)))

	inj := src.Injected()
	require.Len(t, dets, len(inj))
	for i, d := range dets {
		assert.GreaterOrEqual(t, d.Boundary, inj[i].Boundary-16, "burst %d", i)
		assert.LessOrEqual(t, d.Boundary, inj[i].Boundary, "burst %d", i)
		assert.InDelta(t, cfg.CFO, schmidlcox.SubcarrierOffset(d.Phase), 0.05, "burst %d", i)
	}
}

func TestSimSource_HistoryIsCapped(t *testing.T) {
	cfg := simConfig()
	cfg.Limit = 10000
	cfg.History = 3
	src, err := NewSimSource(cfg)
	require.NoError(t, err)

	readAll(t, src, 1000)

	inj := src.Injected()
	require.Len(t, inj, 3)
	for i, in := range inj {
		assert.Equal(t, int64((7+i)*1000+600), in.Start)
	}
}

func TestSimSource_DefaultHistory(t *testing.T) {
	cfg := simConfig()
	cfg.Limit = int64(DefaultHistory+10) * 1000
	src, err := NewSimSource(cfg)
	require.NoError(t, err)

	readAll(t, src, 4096)

	inj := src.Injected()
	require.Len(t, inj, DefaultHistory)
	assert.Equal(t, int64(10*1000+600), inj[0].Start)
	assert.Equal(t, int64((DefaultHistory+9)*1000+600), inj[len(inj)-1].Start)
}

func TestSimSource_SampleRatePacesReads(t *testing.T) {
	cfg := simConfig()
	cfg.Limit = 12000
	cfg.SampleRate = 20000 // 2000 samples available at once
	src, err := NewSimSource(cfg)
	require.NoError(t, err)

	start := time.Now()
	got := readAll(t, src, 1000)
	elapsed := time.Since(start)

	assert.Len(t, got, 12000)
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestSimSource_PacedReadCancelled(t *testing.T) {
	cfg := simConfig()
	cfg.Limit = 0
	cfg.SampleRate = 1000
	src, err := NewSimSource(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	n, err := src.Read(ctx, make([]complex64, 10000))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeinterleave(t *testing.T) {
	got := deinterleave([]float32{1, 2, 3, 4, 5}, nil)
	assert.Equal(t, []complex64{complex(1, 2), complex(3, 4)}, got)
}
