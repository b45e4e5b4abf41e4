package iqsource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/jeongseonghan/scsync/internal/modem"
)

// AudioConfig configures stereo sound-card capture. The left channel is
// taken as I and the right channel as Q, the usual wiring for a quadrature
// receiver feeding a line input.
type AudioConfig struct {
	SampleRate   float64
	FramesPerBuf int
	DCBlock      bool
	AGCTarget    float64 // RMS target per buffer, 0 disables AGC
}

// AudioSource captures I/Q from the default input device.
type AudioSource struct {
	cfg    AudioConfig
	logger *log.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32 // interleaved L/R
	frame   []complex64
	pending []complex64 // unread tail of frame
	dc      *modem.DCBlocker
	overrun int
}

// OpenAudio initializes PortAudio and opens a stereo input stream. The
// stream starts immediately.
func OpenAudio(cfg AudioConfig, logger *log.Logger) (*AudioSource, error) {
	if cfg.FramesPerBuf <= 0 {
		return nil, fmt.Errorf("frames per buffer must be positive, got %d", cfg.FramesPerBuf)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	a := &AudioSource{
		cfg:    cfg,
		logger: logger,
		buf:    make([]float32, 2*cfg.FramesPerBuf),
	}
	if cfg.DCBlock {
		a.dc = modem.NewDCBlocker(0.999)
	}

	stream, err := portaudio.OpenDefaultStream(2, 0, cfg.SampleRate, cfg.FramesPerBuf, a.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	a.stream = stream
	return a, nil
}

// Read implements Source. It blocks until the sound card delivers a buffer.
func (a *AudioSource) Read(ctx context.Context, buf []complex64) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for len(a.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if a.stream == nil {
			return 0, errors.New("audio source closed")
		}
		if err := a.stream.Read(); err != nil {
			if !errors.Is(err, portaudio.InputOverflowed) {
				return 0, fmt.Errorf("read: %w", err)
			}
			a.overrun++
			if a.logger != nil {
				a.logger.Warn("audio input overflowed", "count", a.overrun)
			}
		}
		a.frame = deinterleave(a.buf, a.frame[:0])
		if a.dc != nil {
			a.dc.Process(a.frame)
		}
		if a.cfg.AGCTarget > 0 {
			modem.ApplyAGC(a.frame, a.cfg.AGCTarget)
		}
		a.pending = a.frame
	}

	n := copy(buf, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

// Overruns returns how many input overflows have been seen.
func (a *AudioSource) Overruns() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overrun
}

// Close stops the stream and releases PortAudio.
func (a *AudioSource) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil {
		return nil
	}
	var errs []error
	if err := a.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	a.stream = nil
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close audio: %w", errors.Join(errs...))
	}
	return nil
}

// deinterleave converts an L/R float32 buffer into I/Q samples appended to
// dst.
func deinterleave(lr []float32, dst []complex64) []complex64 {
	for i := 0; i+1 < len(lr); i += 2 {
		dst = append(dst, complex(lr[i], lr[i+1]))
	}
	return dst
}
