package iqsource

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jeongseonghan/scsync/internal/modem"
)

// DefaultHistory is the number of injections a SimSource remembers when
// SimConfig.History is not set.
const DefaultHistory = 1024

// SimConfig configures a SimSource.
type SimConfig struct {
	Burst modem.BurstConfig
	// Interval is the distance in samples between consecutive burst starts.
	// The first burst starts after Interval-burstLen samples of noise.
	Interval int
	SNR      float64 // dB, relative to the unit-power burst
	CFO      float64 // subcarrier spacings
	// Limit stops the stream after this many samples. 0 runs forever.
	Limit int64
	// SampleRate paces Read to this many samples per second. 0 generates
	// as fast as the caller reads.
	SampleRate float64
	// History is how many of the most recent injections are kept.
	History int
}

// Injection records one burst placed in the simulated stream.
type Injection struct {
	Start    int64 // first burst sample
	Boundary int64 // first sample after the doubled preamble symbol
}

// SimSource is an endless noise stream with OFDM bursts at a fixed interval,
// optionally offset in frequency.
type SimSource struct {
	cfg   SimConfig
	gen   *modem.BurstGenerator
	rot   *modem.Rotator
	rng   *rand.Rand
	sigma float64

	block   []complex128
	blockAt int64 // stream position of block[0]
	off     int   // next unread sample in block
	pos     int64

	limiter *rate.Limiter

	mu       sync.Mutex
	injected []Injection
}

// NewSimSource creates a simulator.
func NewSimSource(cfg SimConfig) (*SimSource, error) {
	gen, err := modem.NewBurstGenerator(cfg.Burst)
	if err != nil {
		return nil, fmt.Errorf("burst generator: %w", err)
	}
	if cfg.Interval <= gen.Len() {
		return nil, fmt.Errorf("burst interval %d must exceed burst length %d", cfg.Interval, gen.Len())
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	s := &SimSource{
		cfg:   cfg,
		gen:   gen,
		rot:   modem.NewRotator(cfg.CFO, cfg.Burst.FFTLen),
		rng:   rand.New(rand.NewSource(cfg.Burst.Seed + 2)),
		sigma: modem.NoiseSigma(cfg.SNR),
	}
	if cfg.SampleRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.SampleRate), max(1, int(cfg.SampleRate/10)))
	}
	return s, nil
}

// pace blocks until n more samples may be produced.
func (s *SimSource) pace(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}
	for n > 0 {
		k := min(n, s.limiter.Burst())
		if err := s.limiter.WaitN(ctx, k); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			// k never exceeds the burst, so the wait would outlast the deadline.
			return context.DeadlineExceeded
		}
		n -= k
	}
	return nil
}

// Read implements Source.
func (s *SimSource) Read(ctx context.Context, buf []complex64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.cfg.Limit > 0 {
		left := s.cfg.Limit - s.pos
		if left <= 0 {
			return 0, io.EOF
		}
		if int64(len(buf)) > left {
			buf = buf[:left]
		}
	}
	if err := s.pace(ctx, len(buf)); err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		if s.off == len(s.block) {
			s.nextBlock()
		}
		for ; n < len(buf) && s.off < len(s.block); n++ {
			buf[n] = complex64(s.block[s.off])
			s.off++
		}
	}
	s.pos += int64(n)
	return n, nil
}

// nextBlock synthesizes one interval: leading noise then a burst.
func (s *SimSource) nextBlock() {
	s.blockAt += int64(len(s.block))
	burst := s.gen.Next()
	gap := s.cfg.Interval - len(burst.Samples)

	block := modem.Delay(burst.Samples, gap)
	s.rot.Apply(block)
	modem.AddNoise(s.rng, block, s.sigma)
	s.block = block
	s.off = 0

	start := s.blockAt + int64(gap)
	s.mu.Lock()
	if len(s.injected) == s.cfg.History {
		n := copy(s.injected, s.injected[1:])
		s.injected = s.injected[:n]
	}
	s.injected = append(s.injected, Injection{
		Start:    start,
		Boundary: start + int64(burst.Boundary),
	})
	s.mu.Unlock()
}

// Injected returns the most recent bursts generated, oldest first, at most
// SimConfig.History of them. Bursts at the end of the last block may not
// have been read yet.
func (s *SimSource) Injected() []Injection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Injection(nil), s.injected...)
}

// Close implements Source.
func (s *SimSource) Close() error { return nil }
