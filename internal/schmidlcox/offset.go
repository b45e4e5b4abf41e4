package schmidlcox

import (
	"math"
	"math/cmplx"
)

// Phase returns arg(p) in (-pi, pi]. This is the fine frequency offset
// scaled by the half-symbol duration, phi-hat in Schmidl & Cox.
//
// When the preamble occupies every second subcarrier the phase is only known
// modulo the half-symbol period; resolving that needs a coarse estimate.
func Phase(p complex128) float64 {
	phi := cmplx.Phase(p)
	if phi <= -math.Pi {
		return math.Pi
	}
	return phi
}

// AngularOffset converts phi-hat to a normalized angular frequency offset in
// radians per sample (2*phi/fftLen).
func AngularOffset(phase float64, fftLen int) float64 {
	return 2 * phase / float64(fftLen)
}

// SubcarrierOffset converts phi-hat to a frequency offset in units of the
// subcarrier spacing.
func SubcarrierOffset(phase float64) float64 {
	return phase / math.Pi
}
