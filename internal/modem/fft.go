package modem

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FFT computes the discrete Fourier transform of x. Any length is accepted.
func FFT(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		out := make([]complex128, n)
		copy(out, x)
		return out
	}
	return fourier.NewCmplxFFT(n).Coefficients(nil, x)
}

// FFTShift reorders DFT coefficients so index 0 holds the most negative
// frequency and index n/2 holds DC.
func FFTShift(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	half := n / 2
	for k := range out {
		out[k] = x[(k-half+n)%n]
	}
	return out
}

// BinFrequency returns the frequency in Hz of index k of a shifted spectrum
// of length n sampled at sampleRate.
func BinFrequency(k, n int, sampleRate float64) float64 {
	return float64(k-n/2) * sampleRate / float64(n)
}

// MagnitudeSpectrum returns |FFTShift(FFT(x))|.
func MagnitudeSpectrum(x []complex128) []float64 {
	shifted := FFTShift(FFT(x))
	mag := make([]float64, len(shifted))
	for i, c := range shifted {
		mag[i] = cmplx.Abs(c)
	}
	return mag
}
