package iqsource

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// bytesPerSample is the size of one interleaved float32 I/Q pair.
const bytesPerSample = 8

// FileSource reads raw interleaved little-endian float32 I/Q samples, the
// format GNU Radio's file sink writes for complex streams. A trailing
// partial sample is ignored.
type FileSource struct {
	r      *bufio.Reader
	closer io.Closer
	raw    []byte
	eof    bool
}

// OpenFile opens path as a FileSource.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open iq file: %w", err)
	}
	return NewFileSource(f), nil
}

// NewFileSource reads samples from r. r is closed by Close when it
// implements io.Closer.
func NewFileSource(r io.Reader) *FileSource {
	fs := &FileSource{r: bufio.NewReaderSize(r, 64*1024)}
	if c, ok := r.(io.Closer); ok {
		fs.closer = c
	}
	return fs
}

// Read implements Source.
func (fs *FileSource) Read(ctx context.Context, buf []complex64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if fs.eof {
		return 0, io.EOF
	}
	if len(buf) == 0 {
		return 0, nil
	}

	need := len(buf) * bytesPerSample
	if cap(fs.raw) < need {
		fs.raw = make([]byte, need)
	}
	raw := fs.raw[:need]

	n, err := io.ReadFull(fs.r, raw)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		fs.eof = true
	case err != nil:
		return 0, fmt.Errorf("read iq file: %w", err)
	}

	count := n / bytesPerSample
	if count == 0 {
		return 0, io.EOF
	}
	for i := 0; i < count; i++ {
		re := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(raw[i*8+4:]))
		buf[i] = complex(re, im)
	}
	return count, nil
}

// Close implements Source.
func (fs *FileSource) Close() error {
	if fs.closer == nil {
		return nil
	}
	return fs.closer.Close()
}

// WriteIQ encodes samples in the FileSource format.
func WriteIQ(w io.Writer, samples []complex64) error {
	raw := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*8:], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(raw[i*8+4:], math.Float32bits(imag(s)))
	}
	_, err := w.Write(raw)
	return err
}

// FileSink writes the synchronizer's two output streams as interleaved
// little-endian float32 pairs (frequency offset, timing pulse).
type FileSink struct {
	w      *bufio.Writer
	closer io.Closer
	raw    []byte
}

// CreateFileSink creates or truncates path.
func CreateFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return NewFileSink(f), nil
}

// NewFileSink writes to w. w is closed by Close when it implements io.Closer.
func NewFileSink(w io.Writer) *FileSink {
	s := &FileSink{w: bufio.NewWriterSize(w, 64*1024)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Write appends one chunk of output. freq and pulse must have equal length.
func (s *FileSink) Write(freq, pulse []float32) error {
	if len(freq) != len(pulse) {
		return fmt.Errorf("output length mismatch: %d != %d", len(freq), len(pulse))
	}
	need := len(freq) * 8
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	for i := range freq {
		binary.LittleEndian.PutUint32(raw[i*8:], math.Float32bits(freq[i]))
		binary.LittleEndian.PutUint32(raw[i*8+4:], math.Float32bits(pulse[i]))
	}
	if _, err := s.w.Write(raw); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the underlying writer.
func (s *FileSink) Close() error {
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
