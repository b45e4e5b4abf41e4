package iqsource

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func readAll(t require.TestingT, src Source, chunk int) []complex64 {
	var out []complex64
	buf := make([]complex64, chunk)
	for {
		n, err := src.Read(context.Background(), buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
	}
}

func TestFileSource_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 300).Draw(t, "n")
		chunk := rapid.IntRange(1, 64).Draw(t, "chunk")
		samples := make([]complex64, n)
		for i := range samples {
			samples[i] = complex(float32(i)*0.5, -float32(i))
		}

		var b bytes.Buffer
		require.NoError(t, WriteIQ(&b, samples))

		got := readAll(t, NewFileSource(&b), chunk)
		if len(samples) == 0 {
			require.Empty(t, got)
			return
		}
		require.Equal(t, samples, got)
	})
}

func TestFileSource_LittleEndianLayout(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(-2))

	buf := make([]complex64, 4)
	n, err := NewFileSource(bytes.NewReader(raw)).Read(context.Background(), buf)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, complex64(complex(1.5, -2)), buf[0])
}

func TestFileSource_TrailingPartialSampleIgnored(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, WriteIQ(&b, []complex64{1, 2, 3}))
	b.Write([]byte{0, 0, 0x80})

	got := readAll(t, NewFileSource(&b), 2)
	assert.Equal(t, []complex64{1, 2, 3}, got)
}

func TestFileSource_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileSource(bytes.NewReader(make([]byte, 80))).Read(ctx, make([]complex64, 4))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cf32")
	var b bytes.Buffer
	require.NoError(t, WriteIQ(&b, []complex64{complex(0.25, 0.75)}))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))

	src, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, []complex64{complex(0.25, 0.75)}, readAll(t, src, 16))
	assert.NoError(t, src.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.cf32"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.f32")
	sink, err := CreateFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Write([]float32{0.1, 0.2}, []float32{0, 1}))
	require.NoError(t, sink.Write([]float32{0.3}, []float32{0}))
	assert.Error(t, sink.Write([]float32{0.3}, nil))
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 3*8)

	want := []float32{0.1, 0, 0.2, 1, 0.3, 0}
	for i, w := range want {
		assert.Equal(t, w, math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])), "value %d", i)
	}
}
