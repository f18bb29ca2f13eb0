package modem

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// FrequencyEstimate is the result of the 4th-power spectral peak search.
type FrequencyEstimate struct {
	PeakHz       float64 // peak of the 4th-power spectrum
	OffsetHz     float64 // carrier offset removed, PeakHz/4
	PeakBin      int     // index into the shifted spectrum
	ResolutionHz float64 // spectral bin width
}

// EstimateCoarseFrequency finds the carrier offset of a QPSK signal by
// locating the tone that the 4th power leaves at four times the offset.
func EstimateCoarseFrequency(samples []complex128, sampleRate float64) (FrequencyEstimate, error) {
	if len(samples) == 0 {
		return FrequencyEstimate{}, fmt.Errorf("%w: no samples for frequency estimate", ErrInvalidInput)
	}
	if sampleRate <= 0 {
		return FrequencyEstimate{}, fmt.Errorf("%w: sample rate must be positive", ErrInvalidInput)
	}

	power4 := make([]complex128, len(samples))
	nonZero := false
	for i, s := range samples {
		s2 := s * s
		power4[i] = s2 * s2
		if s != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return FrequencyEstimate{}, fmt.Errorf("%w: all-zero input has no spectral peak", ErrInvalidInput)
	}

	n := len(samples)
	mag := MagnitudeSpectrum(power4)
	peak := floats.MaxIdx(mag) // first index wins on ties
	peakHz := BinFrequency(peak, n, sampleRate)

	return FrequencyEstimate{
		PeakHz:       peakHz,
		OffsetHz:     peakHz / 4,
		PeakBin:      peak,
		ResolutionHz: sampleRate / float64(n),
	}, nil
}

// CorrectFrequency removes a constant carrier offset: y[t] = x[t]·exp(-j2π·f·t/fs).
func CorrectFrequency(samples []complex128, offsetHz, sampleRate float64) []complex128 {
	out := make([]complex128, len(samples))
	w := -2 * math.Pi * offsetHz / sampleRate
	for i, s := range samples {
		out[i] = s * cmplx.Exp(complex(0, w*float64(i)))
	}
	return out
}

// CoarseFrequencySync estimates and removes the coarse carrier offset.
// The returned sequence has the same length as the input.
func CoarseFrequencySync(samples []complex128, sampleRate float64) ([]complex128, FrequencyEstimate, error) {
	est, err := EstimateCoarseFrequency(samples, sampleRate)
	if err != nil {
		return nil, FrequencyEstimate{}, err
	}
	return CorrectFrequency(samples, est.OffsetHz, sampleRate), est, nil
}
