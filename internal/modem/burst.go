package modem

import (
	"fmt"
	"math/rand"
)

// BurstConfig describes the synthetic OFDM bursts produced by a
// BurstGenerator.
type BurstConfig struct {
	FFTLen       int
	CPLen        int
	EvenCarriers bool
	Modulation   Modulation
	DataSymbols  int   // OFDM data symbols after the preamble
	Seed         int64 // seeds both the preamble PN sequence and the payload
}

// Burst is one generated transmission.
type Burst struct {
	Samples []complex128
	// Boundary is the offset of the first sample after the doubled preamble
	// symbol, which is where a synchronizer should place its timing pulse.
	Boundary int
}

// BurstGenerator builds bursts of [preamble symbol 1][preamble symbol 2]
// [data symbols...], every symbol carrying its own cyclic prefix.
type BurstGenerator struct {
	cfg           BurstConfig
	preamble      []complex128
	boundary      int
	constellation *Constellation
	carriers      []int
	rng           *rand.Rand
}

// NewBurstGenerator creates a burst generator.
func NewBurstGenerator(cfg BurstConfig) (*BurstGenerator, error) {
	if cfg.DataSymbols < 0 {
		return nil, fmt.Errorf("%w: %d data symbols", ErrInvalidLength, cfg.DataSymbols)
	}
	pg, err := NewPreambleGenerator(cfg.FFTLen, cfg.CPLen, cfg.EvenCarriers, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &BurstGenerator{
		cfg:           cfg,
		preamble:      pg.Samples(),
		boundary:      pg.BoundaryOffset(),
		constellation: NewConstellation(cfg.Modulation),
		carriers:      ActiveCarriers(cfg.FFTLen),
		rng:           rand.New(rand.NewSource(cfg.Seed + 1)),
	}, nil
}

// Len returns the length of every burst from Next.
func (bg *BurstGenerator) Len() int {
	return len(bg.preamble) + bg.cfg.DataSymbols*(bg.cfg.FFTLen+bg.cfg.CPLen)
}

// BitsPerSymbol returns the payload bits carried by one data symbol.
func (bg *BurstGenerator) BitsPerSymbol() int {
	return len(bg.carriers) * bg.cfg.Modulation.BitsPerSymbol()
}

// Next returns a burst with a random payload.
func (bg *BurstGenerator) Next() Burst {
	points := bg.constellation.Random(bg.rng, bg.cfg.DataSymbols*len(bg.carriers))
	return bg.assemble(points)
}

// Frame returns a burst carrying data, padded with zero bits up to a whole
// number of OFDM symbols. The DataSymbols setting is ignored.
func (bg *BurstGenerator) Frame(data []byte) Burst {
	bits := bytesToBits(data)
	if rem := len(bits) % bg.BitsPerSymbol(); rem != 0 {
		bits = append(bits, make([]byte, bg.BitsPerSymbol()-rem)...)
	}
	return bg.assemble(bg.constellation.MapBits(bits))
}

func (bg *BurstGenerator) assemble(points []complex128) Burst {
	symLen := bg.cfg.FFTLen + bg.cfg.CPLen
	nsym := len(points) / len(bg.carriers)

	samples := make([]complex128, 0, len(bg.preamble)+nsym*symLen)
	samples = append(samples, bg.preamble...)
	for s := 0; s < nsym; s++ {
		samples = append(samples, bg.modulateSymbol(points[s*len(bg.carriers):(s+1)*len(bg.carriers)])...)
	}
	return Burst{Samples: samples, Boundary: bg.boundary}
}

func (bg *BurstGenerator) modulateSymbol(points []complex128) []complex128 {
	spectrum := make([]complex128, bg.cfg.FFTLen)
	for i, k := range bg.carriers {
		spectrum[binIndex(k, bg.cfg.FFTLen)] = points[i]
	}
	withCP := addCyclicPrefix(IFFT(spectrum), bg.cfg.CPLen)
	normalizeRMS(withCP)
	return withCP
}

func bytesToBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 7; j >= 0; j-- {
			bits[i*8+(7-j)] = (b >> uint(j)) & 1
		}
	}
	return bits
}
