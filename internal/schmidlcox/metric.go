package schmidlcox

import (
	"math"
	"math/cmplx"
)

// Metric returns the timing metric M = |P|^2 / R^2, clamped to [0, 1].
// A silent window (R == 0) gives 0. The ratio is formed before squaring so
// tiny energies do not underflow.
func Metric(p complex128, r float64) float64 {
	if !(r > 0) {
		return 0
	}
	a := cmplx.Abs(p) / r
	m := a * a
	if math.IsNaN(m) {
		return 0
	}
	if m > 1 {
		// Cauchy-Schwarz bounds M by 1; anything above is rounding.
		return 1
	}
	return m
}

// Peak is the best metric sample of a closed plateau.
type Peak struct {
	Index  int64 // metric index d, i.e. the first sample of the window
	Metric float64
	P      complex128
	R      float64
}

// plateau follows one run of consecutive metric values at or above the
// threshold and reduces it to a single peak.
type plateau struct {
	open      bool
	threshold float64 // latched when the plateau opens
	length    int
	best      Peak
}

// observe feeds the metric at index d. It returns the plateau's peak once the
// plateau closes: either the metric fell below the latched threshold, or the
// plateau reached maxLen samples. Ties keep the earliest index.
func (pl *plateau) observe(d int64, m float64, p complex128, r, threshold float64, maxLen int) (Peak, bool) {
	if !pl.open {
		if !(m >= threshold) {
			return Peak{}, false
		}
		pl.open = true
		pl.threshold = threshold
		pl.length = 1
		pl.best = Peak{Index: d, Metric: m, P: p, R: r}
		return pl.closeIfLong(maxLen)
	}

	if !(m >= pl.threshold) {
		return pl.close(), true
	}

	pl.length++
	if m > pl.best.Metric {
		pl.best = Peak{Index: d, Metric: m, P: p, R: r}
	}
	return pl.closeIfLong(maxLen)
}

func (pl *plateau) closeIfLong(maxLen int) (Peak, bool) {
	if pl.length < maxLen {
		return Peak{}, false
	}
	return pl.close(), true
}

func (pl *plateau) close() Peak {
	best := pl.best
	*pl = plateau{}
	return best
}
