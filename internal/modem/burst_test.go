package modem

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

func TestBurstGenerator_Layout(t *testing.T) {
	bg, err := NewBurstGenerator(BurstConfig{
		FFTLen: 64, CPLen: 16, EvenCarriers: true, Modulation: Mod16QAM, DataSymbols: 5, Seed: 1,
	})
	require.NoError(t, err)

	b := bg.Next()
	assert.Len(t, b.Samples, 7*80)
	assert.Equal(t, bg.Len(), len(b.Samples))
	assert.Equal(t, 80, b.Boundary)

	// Payloads differ between bursts, preambles do not.
	c := bg.Next()
	assert.Equal(t, b.Samples[:160], c.Samples[:160])
	assert.NotEqual(t, b.Samples[160:], c.Samples[160:])
}

func TestBurstGenerator_Frame(t *testing.T) {
	bg, err := NewBurstGenerator(BurstConfig{FFTLen: 64, CPLen: 16, Modulation: ModQPSK, Seed: 1})
	require.NoError(t, err)
	require.Equal(t, 96, bg.BitsPerSymbol())

	// 13 bytes = 104 bits, padded to two QPSK symbols.
	b := bg.Frame([]byte("Hello, OFDM!!"))
	assert.Len(t, b.Samples, 4*80)
}

func TestBurstGenerator_Validation(t *testing.T) {
	_, err := NewBurstGenerator(BurstConfig{FFTLen: 64, CPLen: 16, DataSymbols: -1})
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = NewBurstGenerator(BurstConfig{FFTLen: 6})
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestBytesToBits(t *testing.T) {
	bits := bytesToBits([]byte{0xA5})
	assert.Equal(t, []byte{1, 0, 1, 0, 0, 1, 0, 1}, bits)
}

func TestBurst_DetectedWithCarrierOffset(t *testing.T) {
	const (
		fftLen = 64
		cpLen  = 16
		start  = 500
		cfo    = 0.1 // subcarrier spacings
	)
	rng := rand.New(rand.NewSource(5))
	bg, err := NewBurstGenerator(BurstConfig{
		FFTLen: fftLen, CPLen: cpLen, EvenCarriers: true, Modulation: ModQPSK, DataSymbols: 4, Seed: 5,
	})
	require.NoError(t, err)
	b := bg.Next()

	signal := append(Delay(b.Samples, start), make([]complex128, 400)...)
	NewRotator(cfo, fftLen).Apply(signal)
	AddNoise(rng, signal, NoiseSigma(25))

	s, err := schmidlcox.New(schmidlcox.Config{FFTLen: fftLen, CPLen: cpLen, UseEvenCarriers: true, Threshold: 0.9})
	require.NoError(t, err)
	var dets []schmidlcox.Detection
	s.SetDetectionHandler(func(d schmidlcox.Detection) { dets = append(dets, d) })

	in := ToComplex64(signal)
	s.Work(in, make([]float32, len(in)), make([]float32, len(in)))

	require.Len(t, dets, 1)
	boundary := int64(start + b.Boundary)
	assert.GreaterOrEqual(t, dets[0].Boundary, boundary-cpLen)
	assert.LessOrEqual(t, dets[0].Boundary, boundary)
	assert.InDelta(t, math.Pi*cfo, dets[0].Phase, 0.05)
	assert.InDelta(t, cfo, schmidlcox.SubcarrierOffset(dets[0].Phase), 0.02)
}
