package schmidlcox

// Correlator keeps the Schmidl & Cox running sums over a sliding window of
// fftLen samples:
//
//	P(d) = sum_{k=0}^{L-1} conj(r[d+k]) * r[d+k+L],  L = fftLen/2
//	R(d) = 1/2 * sum_{k=0}^{fftLen-1} |r[d+k]|^2
//
// R covers both halves of the window, not only the second one.
//
// For odd fftLen, P is taken over the last 2*L samples of the window.
//
// The incremental updates leave rounding residue in both sums. A window of
// exact zeros always reports P = 0 and R = 0, and a large drop in energy
// triggers an exact recomputation.
//
// A Correlator is not safe for concurrent use.
type Correlator struct {
	fftLen  int
	halfLen int

	ring []complex128 // last fftLen samples, ring[pos] is the oldest
	pos  int

	p         complex128
	energy    float64 // sum |r|^2 over the window, R = energy/2
	refEnergy float64 // energy at the last resync
	nonzero   int     // window samples that are not exactly 0

	count       int64 // samples pushed since reset
	sinceResync int
}

// NewCorrelator creates a correlator for a window of fftLen samples.
func NewCorrelator(fftLen int) *Correlator {
	return &Correlator{
		fftLen:  fftLen,
		halfLen: fftLen / 2,
		ring:    make([]complex128, fftLen),
	}
}

// Push slides the window forward by one sample.
func (c *Correlator) Push(x complex128) {
	oldest := c.ring[c.pos]
	if c.halfLen > 0 {
		// r[n-2L] leaves the correlation, r[n-L] moves from the second
		// half into the first.
		first := c.ring[(c.pos+c.fftLen-2*c.halfLen)%c.fftLen]
		mid := c.ring[(c.pos+c.fftLen-c.halfLen)%c.fftLen]
		c.p += conj(mid)*x - conj(first)*mid
	}
	c.energy += sqMag(x) - sqMag(oldest)
	if oldest != 0 {
		c.nonzero--
	}
	if x != 0 {
		c.nonzero++
	}

	c.ring[c.pos] = x
	c.pos++
	if c.pos == c.fftLen {
		c.pos = 0
	}
	c.count++

	c.sinceResync++
	switch {
	case c.nonzero == 0:
		c.p = 0
		c.energy = 0
	case c.sinceResync >= c.fftLen, c.energy < resyncDrop*c.refEnergy:
		c.resync()
	}
}

// resyncDrop is the energy ratio to the last resync below which the residue
// could dominate the sums.
const resyncDrop = 1e-9

// resync recomputes both sums from the window contents, discarding the
// rounding error accumulated by the incremental updates.
func (c *Correlator) resync() {
	var p complex128
	var e float64
	base := c.fftLen - 2*c.halfLen
	for k := 0; k < c.fftLen; k++ {
		e += sqMag(c.at(k))
	}
	for k := 0; k < c.halfLen; k++ {
		p += conj(c.at(base+k)) * c.at(base+k+c.halfLen)
	}
	c.p = p
	c.energy = e
	c.refEnergy = e
	c.sinceResync = 0
}

// at returns window sample k, where k=0 is the oldest.
func (c *Correlator) at(k int) complex128 {
	return c.ring[(c.pos+k)%c.fftLen]
}

// P returns the current half-symbol cross-correlation.
func (c *Correlator) P() complex128 { return c.p }

// R returns the current half-symbol energy estimate. Never negative.
func (c *Correlator) R() float64 {
	if c.energy <= 0 {
		return 0
	}
	return 0.5 * c.energy
}

// Full reports whether a complete window has been pushed.
func (c *Correlator) Full() bool { return c.count >= int64(c.fftLen) }

// Count returns the number of samples pushed since the last reset.
func (c *Correlator) Count() int64 { return c.count }

// Reset clears the window and both sums.
func (c *Correlator) Reset() {
	clear(c.ring)
	c.pos = 0
	c.p = 0
	c.energy = 0
	c.refEnergy = 0
	c.nonzero = 0
	c.count = 0
	c.sinceResync = 0
}

func conj(x complex128) complex128 { return complex(real(x), -imag(x)) }

func sqMag(x complex128) float64 { return real(x)*real(x) + imag(x)*imag(x) }
