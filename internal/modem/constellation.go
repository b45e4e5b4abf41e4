package modem

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Modulation selects the constellation used on data subcarriers of a
// synthetic burst.
type Modulation int

const (
	ModQPSK  Modulation = 2 // 2 bits per symbol
	Mod16QAM Modulation = 4 // 4 bits per symbol
	Mod64QAM Modulation = 6 // 6 bits per symbol
)

// BitsPerSymbol returns the number of bits per constellation symbol.
func (m Modulation) BitsPerSymbol() int {
	return int(m)
}

// String returns the modulation name.
func (m Modulation) String() string {
	switch m {
	case ModQPSK:
		return "QPSK"
	case Mod16QAM:
		return "16-QAM"
	case Mod64QAM:
		return "64-QAM"
	default:
		return "Unknown"
	}
}

// ParseModulation accepts the names used in configuration files: "qpsk",
// "16qam" and "64qam" (case and dashes ignored).
func ParseModulation(s string) (Modulation, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "") {
	case "qpsk", "":
		return ModQPSK, nil
	case "16qam":
		return Mod16QAM, nil
	case "64qam":
		return Mod64QAM, nil
	}
	return 0, fmt.Errorf("unknown modulation %q", s)
}

// Constellation holds Gray-coded square QAM points scaled to unit average
// power. QPSK is the order-2 square.
type Constellation struct {
	Mod    Modulation
	points []complex128
}

// NewConstellation creates the constellation for mod. Unknown modulations
// fall back to QPSK.
func NewConstellation(mod Modulation) *Constellation {
	side := 2
	switch mod {
	case Mod16QAM:
		side = 4
	case Mod64QAM:
		side = 8
	default:
		mod = ModQPSK
	}

	c := &Constellation{Mod: mod, points: make([]complex128, side*side)}
	var power float64
	for i := range c.points {
		// Per-axis bit labels sit on levels -side+1 .. side-1 in steps of 2,
		// ordered so that neighbouring levels carry Gray-adjacent labels.
		lr, lc := grayLevel(i/side), grayLevel(i%side)
		p := complex(float64(2*lc-side+1), float64(2*lr-side+1))
		c.points[i] = p
		power += real(p)*real(p) + imag(p)*imag(p)
	}

	scale := complex(1/math.Sqrt(power/float64(len(c.points))), 0)
	for i := range c.points {
		c.points[i] *= scale
	}
	return c
}

// grayLevel returns the level index whose Gray code is label.
func grayLevel(label int) int {
	level := label
	for shift := label >> 1; shift != 0; shift >>= 1 {
		level ^= shift
	}
	return level
}

// Size returns the number of points.
func (c *Constellation) Size() int { return len(c.points) }

// Point returns point idx. idx is taken modulo Size.
func (c *Constellation) Point(idx int) complex128 {
	return c.points[idx%len(c.points)]
}

// Map maps one symbol's worth of bits (one bit per byte, MSB first).
func (c *Constellation) Map(bits []byte) complex128 {
	idx := 0
	for _, b := range bits {
		idx = idx<<1 | int(b&1)
	}
	return c.Point(idx)
}

// MapBits maps a bit slice to constellation symbols. Trailing bits that do
// not fill a symbol are ignored.
func (c *Constellation) MapBits(bits []byte) []complex128 {
	bps := c.Mod.BitsPerSymbol()
	symbols := make([]complex128, len(bits)/bps)
	for i := range symbols {
		symbols[i] = c.Map(bits[i*bps : (i+1)*bps])
	}
	return symbols
}

// Random draws n uniformly distributed points.
func (c *Constellation) Random(rng *rand.Rand, n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = c.points[rng.Intn(len(c.points))]
	}
	return out
}
