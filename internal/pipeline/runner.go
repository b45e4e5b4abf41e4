// Package pipeline drives a synchronizer from a sample source and fans its
// detections out to observers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jeongseonghan/scsync/internal/iqsource"
	"github.com/jeongseonghan/scsync/internal/metrics"
	"github.com/jeongseonghan/scsync/internal/schmidlcox"
)

// DefaultChunkSize is used when Options.ChunkSize is not set.
const DefaultChunkSize = 4096

// Event is a detection as reported to observers.
type Event struct {
	RunID         string    `json:"run_id"`
	Time          time.Time `json:"time"`
	Boundary      int64     `json:"boundary"`
	OutputIndex   int64     `json:"output_index"`
	Peak          int64     `json:"peak"`
	Metric        float64   `json:"metric"`
	Phase         float64   `json:"phase"`
	AngularOffset float64   `json:"angular_offset"`
	Offset        float64   `json:"offset_subcarriers"`
	EvenCarriers  bool      `json:"even_carriers"`
}

// Observer receives detection events. Observers are called in registration
// order on the runner's goroutine, after the chunk that produced the
// detection has been processed.
type Observer interface {
	OnDetection(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnDetection implements Observer.
func (f ObserverFunc) OnDetection(e Event) { f(e) }

// Sink receives both synchronizer outputs for every chunk.
type Sink interface {
	Write(freq, pulse []float32) error
}

// Stats summarizes a run.
type Stats struct {
	Samples    int64 `json:"samples"`
	Chunks     int64 `json:"chunks"`
	Detections int64 `json:"detections"`
}

// Options configures a Runner. Every field is optional.
type Options struct {
	ChunkSize int
	Sink      Sink
	Logger    *log.Logger
	Metrics   *metrics.Metrics
}

// Runner reads chunks from a source and feeds them through a synchronizer.
type Runner struct {
	id      uuid.UUID
	sync    *schmidlcox.Sync
	src     iqsource.Source
	opts    Options
	logger  *log.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	observers []Observer

	samples    atomic.Int64
	chunks     atomic.Int64
	detections atomic.Int64

	pending []schmidlcox.Detection
	now     func() time.Time
}

// NewRunner creates a runner with a fresh run ID.
func NewRunner(s *schmidlcox.Sync, src iqsource.Source, opts Options) *Runner {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	r := &Runner{
		id:      uuid.New(),
		sync:    s,
		src:     src,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if r.metrics != nil {
		r.metrics.SetThreshold(s.Threshold())
	}
	return r
}

// ID returns the run ID carried on every event.
func (r *Runner) ID() uuid.UUID { return r.id }

// Subscribe adds an observer. It may be called while the runner is running.
func (r *Runner) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Threshold returns the synchronizer's current threshold.
func (r *Runner) Threshold() float64 { return r.sync.Threshold() }

// SetThreshold changes the synchronizer's threshold. Safe to call while
// running; it takes effect at the next chunk.
func (r *Runner) SetThreshold(t float64) error {
	if err := r.sync.SetThreshold(t); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.SetThreshold(t)
	}
	r.logger.Info("threshold changed", "run", r.id, "threshold", t)
	return nil
}

// Stats returns the counters so far. Safe to call while running.
func (r *Runner) Stats() Stats {
	return Stats{
		Samples:    r.samples.Load(),
		Chunks:     r.chunks.Load(),
		Detections: r.detections.Load(),
	}
}

// Run processes the source until it is exhausted or ctx is cancelled; both
// end the run without error. Source and sink errors are returned wrapped.
// The detection handler of the synchronizer is owned by the runner while
// Run executes.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	r.sync.SetDetectionHandler(func(d schmidlcox.Detection) {
		r.pending = append(r.pending, d)
	})
	defer r.sync.SetDetectionHandler(nil)

	in := make([]complex64, r.opts.ChunkSize)
	freq := make([]float32, r.opts.ChunkSize)
	pulse := make([]float32, r.opts.ChunkSize)

	r.logger.Info("run started",
		"run", r.id,
		"fft_len", r.sync.FFTLen(),
		"cp_len", r.sync.CPLen(),
		"threshold", r.sync.Threshold(),
		"delay", r.sync.Delay())

	for {
		if ctx.Err() != nil {
			return r.finish("cancelled"), nil
		}

		n, err := r.src.Read(ctx, in)
		if n > 0 {
			if perr := r.process(in[:n], freq[:n], pulse[:n]); perr != nil {
				return r.Stats(), perr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return r.finish("source exhausted"), nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return r.finish("cancelled"), nil
		default:
			return r.Stats(), fmt.Errorf("read source: %w", err)
		}
	}
}

func (r *Runner) process(in []complex64, freq, pulse []float32) error {
	r.sync.Work(in, freq, pulse)
	r.samples.Add(int64(len(in)))
	r.chunks.Add(1)
	if r.metrics != nil {
		r.metrics.ObserveChunk(len(in))
	}
	r.logger.Debug("chunk", "run", r.id, "samples", len(in), "consumed", r.sync.Consumed())

	if r.opts.Sink != nil {
		if err := r.opts.Sink.Write(freq, pulse); err != nil {
			return fmt.Errorf("write sink: %w", err)
		}
	}

	for _, d := range r.pending {
		r.dispatch(d)
	}
	r.pending = r.pending[:0]
	return nil
}

func (r *Runner) dispatch(d schmidlcox.Detection) {
	r.detections.Add(1)
	if r.metrics != nil {
		r.metrics.ObserveDetection(d)
	}

	e := Event{
		RunID:         r.id.String(),
		Time:          r.now(),
		Boundary:      d.Boundary,
		OutputIndex:   d.Boundary + int64(r.sync.Delay()),
		Peak:          d.Peak,
		Metric:        d.Metric,
		Phase:         d.Phase,
		AngularOffset: schmidlcox.AngularOffset(d.Phase, r.sync.FFTLen()),
		Offset:        schmidlcox.SubcarrierOffset(d.Phase),
		EvenCarriers:  d.EvenCarriers,
	}
	r.logger.Info("preamble detected",
		"run", r.id,
		"boundary", e.Boundary,
		"metric", fmt.Sprintf("%.4f", e.Metric),
		"phase", fmt.Sprintf("%.4f", e.Phase),
		"offset", fmt.Sprintf("%.4f", e.Offset))

	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.OnDetection(e)
	}
}

func (r *Runner) finish(reason string) Stats {
	st := r.Stats()
	r.logger.Info("run finished",
		"run", r.id,
		"reason", reason,
		"samples", st.Samples,
		"chunks", st.Chunks,
		"detections", st.Detections)
	return st
}
