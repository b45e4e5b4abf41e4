package modem

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Schmidl-Cox preamble generation in complex baseband.

// ErrInvalidLength is returned for FFT or cyclic prefix lengths the
// generators cannot work with.
var ErrInvalidLength = errors.New("invalid symbol length")

// ActiveCarriers returns the signed subcarrier numbers that carry energy for
// an FFT of fftLen: everything except DC and a guard band of fftLen/8 on
// each edge.
func ActiveCarriers(fftLen int) []int {
	guard := max(1, fftLen/8)
	edge := fftLen/2 - guard
	var ks []int
	for k := -edge; k <= edge; k++ {
		if k != 0 {
			ks = append(ks, k)
		}
	}
	return ks
}

func validateLengths(fftLen, cpLen int) error {
	if fftLen < 8 || fftLen%2 != 0 {
		return fmt.Errorf("%w: fft length %d must be even and at least 8", ErrInvalidLength, fftLen)
	}
	if cpLen < 0 || cpLen > fftLen {
		return fmt.Errorf("%w: cyclic prefix %d must be within [0, %d]", ErrInvalidLength, cpLen, fftLen)
	}
	return nil
}

// PreambleGenerator generates Schmidl-Cox preambles.
type PreambleGenerator struct {
	fftLen       int
	cpLen        int
	evenCarriers bool
	seed         int64
}

// NewPreambleGenerator creates a generator. With evenCarriers the first
// symbol uses only even subcarriers and its two halves are identical; with
// odd carriers the second half is the negated first half.
func NewPreambleGenerator(fftLen, cpLen int, evenCarriers bool, seed int64) (*PreambleGenerator, error) {
	if err := validateLengths(fftLen, cpLen); err != nil {
		return nil, err
	}
	return &PreambleGenerator{
		fftLen:       fftLen,
		cpLen:        cpLen,
		evenCarriers: evenCarriers,
		seed:         seed,
	}, nil
}

// SymbolLen returns the length of one preamble symbol including its cyclic
// prefix.
func (pg *PreambleGenerator) SymbolLen() int { return pg.fftLen + pg.cpLen }

// Generate returns the two preamble symbols, each with its cyclic prefix and
// scaled to unit RMS. Symbol 1 is the doubled symbol used for timing, symbol
// 2 carries a PN sequence on every active subcarrier. The same generator
// always returns the same preamble.
func (pg *PreambleGenerator) Generate() (symbol1, symbol2 []complex128) {
	rng := rand.New(rand.NewSource(pg.seed))

	parity := 1
	if pg.evenCarriers {
		parity = 0
	}
	spec1 := make([]complex128, pg.fftLen)
	spec2 := make([]complex128, pg.fftLen)
	for _, k := range ActiveCarriers(pg.fftLen) {
		if abs(k)%2 == parity {
			spec1[binIndex(k, pg.fftLen)] = pnBPSK(rng)
		}
		spec2[binIndex(k, pg.fftLen)] = pnBPSK(rng)
	}

	symbol1 = addCyclicPrefix(IFFT(spec1), pg.cpLen)
	normalizeRMS(symbol1)
	symbol2 = addCyclicPrefix(IFFT(spec2), pg.cpLen)
	normalizeRMS(symbol2)
	return
}

// Samples returns both preamble symbols back to back.
func (pg *PreambleGenerator) Samples() []complex128 {
	s1, s2 := pg.Generate()
	return append(s1, s2...)
}

// BoundaryOffset returns the offset, from the first preamble sample, of the
// first sample after the doubled symbol.
func (pg *PreambleGenerator) BoundaryOffset() int { return pg.cpLen + pg.fftLen }

func pnBPSK(rng *rand.Rand) complex128 {
	if rng.Intn(2) == 0 {
		return 1
	}
	return -1
}

func abs(k int) int {
	if k < 0 {
		return -k
	}
	return k
}

func addCyclicPrefix(samples []complex128, cpLen int) []complex128 {
	n := len(samples)
	out := make([]complex128, cpLen+n)
	copy(out, samples[n-cpLen:])
	copy(out[cpLen:], samples)
	return out
}

func normalizeRMS(samples []complex128) {
	var sumSq float64
	for _, s := range samples {
		sumSq += real(s)*real(s) + imag(s)*imag(s)
	}
	if sumSq == 0 {
		return
	}
	scale := complex(1/math.Sqrt(sumSq/float64(len(samples))), 0)
	for i := range samples {
		samples[i] *= scale
	}
}
