package schmidlcox

import "errors"

var (
	// ErrInvalidFFTLen indicates the FFT length is not positive.
	ErrInvalidFFTLen = errors.New("fft length must be positive")
	// ErrInvalidCPLen indicates a negative cyclic prefix length.
	ErrInvalidCPLen = errors.New("cyclic prefix length must not be negative")
	// ErrInvalidThreshold indicates a threshold outside (0, 1].
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")
)
