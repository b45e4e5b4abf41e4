package modem

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT computes the forward DFT of x. Any length is accepted.
func FFT(x []complex128) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}
	return fourier.NewCmplxFFT(n).Coefficients(nil, x)
}

// IFFT computes the inverse DFT of x, scaled by 1/N so that IFFT(FFT(x)) == x.
func IFFT(x []complex128) []complex128 {
	n := len(x)
	if n == 0 {
		return nil
	}
	out := fourier.NewCmplxFFT(n).Sequence(nil, x)

	// gonum leaves the inverse unnormalized
	scale := complex(1/float64(n), 0)
	for i := range out {
		out[i] *= scale
	}
	return out
}

// binIndex maps a signed subcarrier number to its FFT bin.
func binIndex(k, n int) int {
	if k < 0 {
		return n + k
	}
	return k
}
