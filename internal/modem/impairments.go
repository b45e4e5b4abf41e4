package modem

import (
	"math"
	"math/cmplx"
	"math/rand"
)

// NoiseSigma returns the noise standard deviation that puts a unit-power
// signal at snrDB.
func NoiseSigma(snrDB float64) float64 {
	return math.Pow(10, -snrDB/20)
}

// Noise returns n samples of circular complex Gaussian noise with variance
// sigma^2.
func Noise(rng *rand.Rand, n int, sigma float64) []complex128 {
	out := make([]complex128, n)
	AddNoise(rng, out, sigma)
	return out
}

// AddNoise adds circular complex Gaussian noise with variance sigma^2 to x.
func AddNoise(rng *rand.Rand, x []complex128, sigma float64) {
	s := sigma / math.Sqrt2
	for i := range x {
		x[i] += complex(rng.NormFloat64()*s, rng.NormFloat64()*s)
	}
}

// Rotator applies a carrier frequency offset. The offset is given in
// subcarrier spacings, so over half a symbol the phase advances by
// pi*offset. Phase is continuous across calls.
type Rotator struct {
	step  float64
	phase float64
}

// NewRotator creates a rotator for offset subcarrier spacings at fftLen.
func NewRotator(offset float64, fftLen int) *Rotator {
	return &Rotator{step: 2 * math.Pi * offset / float64(fftLen)}
}

// Apply rotates x in place.
func (r *Rotator) Apply(x []complex128) {
	for i := range x {
		x[i] *= cmplx.Rect(1, r.phase)
		r.phase = math.Remainder(r.phase+r.step, 2*math.Pi)
	}
}

// Delay prepends n zero samples to x.
func Delay(x []complex128, n int) []complex128 {
	out := make([]complex128, n+len(x))
	copy(out[n:], x)
	return out
}

// DCBlocker removes a slowly varying DC offset with a one-pole high-pass
// filter. State carries over between calls.
type DCBlocker struct {
	alpha  float64
	dc     complex128
	primed bool
}

// NewDCBlocker creates a DC blocker. alpha close to 1 tracks slowly.
func NewDCBlocker(alpha float64) *DCBlocker {
	return &DCBlocker{alpha: alpha}
}

// Process filters x in place.
func (b *DCBlocker) Process(x []complex64) {
	if len(x) == 0 {
		return
	}
	if !b.primed {
		b.dc = complex128(x[0])
		b.primed = true
	}
	a := complex(b.alpha, 0)
	for i, s := range x {
		b.dc = a*b.dc + (1-a)*complex128(s)
		x[i] = s - complex64(b.dc)
	}
}

// ApplyAGC scales x in place to targetRMS. Near-silent blocks are left
// alone.
func ApplyAGC(x []complex64, targetRMS float64) {
	if len(x) == 0 {
		return
	}

	var sumSq float64
	for _, s := range x {
		sumSq += float64(real(s))*float64(real(s)) + float64(imag(s))*float64(imag(s))
	}
	rms := math.Sqrt(sumSq / float64(len(x)))
	if rms < 1e-10 {
		return
	}

	gain := complex(float32(targetRMS/rms), 0)
	for i := range x {
		x[i] *= gain
	}
}

// ToComplex64 narrows x for the synchronizer input.
func ToComplex64(x []complex128) []complex64 {
	out := make([]complex64, len(x))
	for i, v := range x {
		out[i] = complex64(v)
	}
	return out
}
