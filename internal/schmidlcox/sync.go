// Package schmidlcox implements Schmidl & Cox timing and fine frequency
// synchronization for OFDM as a streaming transform.
//
// Input is complex baseband. Output 0 carries the fine frequency offset
// phi-hat of the most recent detection (the normalized angular offset is
// 2*phi/fftLen, see AngularOffset). Output 1 is 1 at the first sample of the
// OFDM symbol that follows the doubled preamble symbol, 0 everywhere else.
//
// Both outputs lag the input by Delay() samples.
package schmidlcox

import (
	"fmt"
	"math"
	"sync/atomic"
)

// DefaultThreshold is the plateau detection threshold used when none is given.
const DefaultThreshold = 0.9

// Config holds the construction parameters of a Sync.
type Config struct {
	FFTLen int
	CPLen  int
	// UseEvenCarriers records whether the preamble's first symbol occupies
	// the even subcarriers (0, 2, 4, ...) rather than the odd ones. It is
	// passed through for downstream coarse estimation.
	UseEvenCarriers bool
	Threshold       float64
}

// DefaultConfig returns a configuration with the default threshold and odd
// carriers.
func DefaultConfig(fftLen, cpLen int) Config {
	return Config{
		FFTLen:    fftLen,
		CPLen:     cpLen,
		Threshold: DefaultThreshold,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FFTLen <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidFFTLen, c.FFTLen)
	}
	if c.CPLen < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCPLen, c.CPLen)
	}
	return validateThreshold(c.Threshold)
}

func validateThreshold(t float64) error {
	if !(t > 0 && t <= 1) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, t)
	}
	return nil
}

// State is the boundary state machine state.
type State int

const (
	// Searching evaluates the timing metric.
	Searching State = iota
	// HoldOff ignores the metric for FFTLen+CPLen samples after a detection.
	HoldOff
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Searching:
		return "SEARCHING"
	case HoldOff:
		return "HOLDOFF"
	default:
		return "UNKNOWN"
	}
}

// Detection describes one accepted preamble.
type Detection struct {
	// Boundary is the input sample index of the first sample after the
	// doubled symbol. The pulse for it appears at output index
	// Boundary+Delay().
	Boundary int64
	// Peak is the metric index (window start) of the plateau maximum.
	Peak         int64
	Metric       float64
	P            complex128
	R            float64
	Phase        float64
	EvenCarriers bool
}

// DetectionHandler is called from Work for every accepted preamble. It runs
// on the caller's goroutine and must not call back into the Sync.
type DetectionHandler func(Detection)

// Synchronizer is the call surface a host drives.
type Synchronizer interface {
	Threshold() float64
	SetThreshold(threshold float64) error
	Work(in []complex64, freq, pulse []float32)
}

var _ Synchronizer = (*Sync)(nil)

// slot is one pending output sample in the delay line.
type slot struct {
	pulse bool
	phase float32
}

// Sync is a streaming Schmidl & Cox synchronizer for one sample stream.
// Work must not be called concurrently; Threshold and SetThreshold may be
// called from any goroutine.
type Sync struct {
	cfg       Config
	threshold atomic.Uint64 // math.Float64bits
	handler   atomic.Pointer[DetectionHandler]

	corr    *Correlator
	plat    plateau
	state   State
	holdoff int

	n     int64 // input samples consumed
	delay int
	slots []slot
	held  float32
}

// New creates a synchronizer. Invalid configurations are rejected.
func New(cfg Config) (*Sync, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("schmidlcox: %w", err)
	}

	delay := cfg.FFTLen + cfg.CPLen
	s := &Sync{
		cfg:   cfg,
		corr:  NewCorrelator(cfg.FFTLen),
		delay: delay,
		slots: make([]slot, delay+1),
	}
	s.threshold.Store(math.Float64bits(cfg.Threshold))
	return s, nil
}

// Threshold returns the current detection threshold.
func (s *Sync) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// SetThreshold changes the detection threshold. It takes effect at the next
// call to Work; a plateau that is already open keeps its threshold.
func (s *Sync) SetThreshold(threshold float64) error {
	if err := validateThreshold(threshold); err != nil {
		return err
	}
	s.threshold.Store(math.Float64bits(threshold))
	return nil
}

// SetDetectionHandler installs h, or removes the handler when h is nil.
func (s *Sync) SetDetectionHandler(h DetectionHandler) {
	if h == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&h)
}

// FFTLen returns the configured FFT length.
func (s *Sync) FFTLen() int { return s.cfg.FFTLen }

// CPLen returns the configured cyclic prefix length.
func (s *Sync) CPLen() int { return s.cfg.CPLen }

// UseEvenCarriers returns the carrier convention the phase was produced with.
func (s *Sync) UseEvenCarriers() bool { return s.cfg.UseEvenCarriers }

// Delay returns the lag of both outputs behind the input, in samples.
func (s *Sync) Delay() int { return s.delay }

// State returns the boundary state machine state.
func (s *Sync) State() State { return s.state }

// Consumed returns the number of input samples processed since the last reset.
func (s *Sync) Consumed() int64 { return s.n }

// Reset returns the synchronizer to its freshly constructed state. The
// threshold and detection handler are kept.
func (s *Sync) Reset() {
	s.corr.Reset()
	s.plat = plateau{}
	s.state = Searching
	s.holdoff = 0
	s.n = 0
	clear(s.slots)
	s.held = 0
}

// Work consumes len(in) samples and writes the same number of samples to
// freq (output 0) and pulse (output 1). Mismatched lengths are a caller bug
// and panic.
func (s *Sync) Work(in []complex64, freq, pulse []float32) {
	if len(freq) != len(in) || len(pulse) != len(in) {
		panic(fmt.Sprintf("schmidlcox: output lengths %d and %d do not match input length %d",
			len(freq), len(pulse), len(in)))
	}

	threshold := s.Threshold()
	for i, x := range in {
		freq[i], pulse[i] = s.emit()
		s.step(complex128(x), threshold)
		s.n++
	}
}

// emit pops the output sample for input index n-delay.
func (s *Sync) emit() (float32, float32) {
	j := s.n - int64(s.delay)
	if j < 0 {
		return 0, 0
	}
	sl := &s.slots[j%int64(len(s.slots))]
	var pulse float32
	if sl.pulse {
		s.held = sl.phase
		pulse = 1
	}
	*sl = slot{}
	return s.held, pulse
}

// step pushes input sample n through the correlator and state machine.
func (s *Sync) step(x complex128, threshold float64) {
	s.corr.Push(x)
	if !s.corr.Full() {
		return
	}

	if s.state == HoldOff {
		s.holdoff--
		if s.holdoff <= 0 {
			s.state = Searching
		}
		return
	}

	d := s.n - int64(s.cfg.FFTLen) + 1
	p, r := s.corr.P(), s.corr.R()
	peak, closed := s.plat.observe(d, Metric(p, r), p, r, threshold, s.cfg.FFTLen+s.cfg.CPLen)
	if !closed {
		return
	}

	s.state = HoldOff
	s.holdoff = s.cfg.FFTLen + s.cfg.CPLen

	det := Detection{
		Boundary:     peak.Index + int64(s.cfg.FFTLen),
		Peak:         peak.Index,
		Metric:       peak.Metric,
		P:            peak.P,
		R:            peak.R,
		Phase:        Phase(peak.P),
		EvenCarriers: s.cfg.UseEvenCarriers,
	}

	// The boundary is at most one sample ahead of n and never older than
	// the delay line.
	s.slots[det.Boundary%int64(len(s.slots))] = slot{pulse: true, phase: float32(det.Phase)}

	if h := s.handler.Load(); h != nil {
		(*h)(det)
	}
}
