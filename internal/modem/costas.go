package modem

import (
	"math"
	"math/cmplx"
)

const twoPi = 2 * math.Pi

// CostasLoop tracks residual carrier phase and frequency of a QPSK signal,
// one symbol at a time. The zero value has zero gains; use NewCostasLoop.
type CostasLoop struct {
	alpha float64 // proportional gain
	beta  float64 // integral gain

	phase     float64 // radians, kept in [0, 2π)
	frequency float64 // radians per symbol
}

// NewCostasLoop creates a loop with the given proportional and integral gains.
func NewCostasLoop(alpha, beta float64) *CostasLoop {
	return &CostasLoop{alpha: alpha, beta: beta}
}

// Step derotates s by the current phase estimate, then updates the loop.
// The returned sample is the corrected symbol.
func (c *CostasLoop) Step(s complex128) complex128 {
	corrected := s * cmplx.Exp(complex(0, -c.phase))
	det := phaseDetector4(corrected)

	c.frequency += c.beta * det
	c.phase = wrapPhase(c.phase + c.frequency + c.alpha*det)
	return corrected
}

// Phase returns the current phase estimate in radians.
func (c *CostasLoop) Phase() float64 {
	return c.phase
}

// Frequency returns the current frequency estimate in radians per symbol.
func (c *CostasLoop) Frequency() float64 {
	return c.frequency
}

// FrequencyHz converts the frequency estimate to Hz at the given rate.
func (c *CostasLoop) FrequencyHz(sampleRate float64) float64 {
	return c.frequency * sampleRate / twoPi
}

// phaseDetector4 is zero on the four diagonal constellation points and does
// not care which quadrant the symbol is in.
func phaseDetector4(s complex128) float64 {
	a, b := -1.0, -1.0
	if real(s) > 0 {
		a = 1
	}
	if imag(s) > 0 {
		b = 1
	}
	return a*imag(s) - b*real(s)
}

// wrapPhase brings p into [0, 2π) by whole turns.
func wrapPhase(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	// Subtracting 2π stops changing p long before float64 runs out of range.
	if math.Abs(p) > 1e6 {
		p = math.Mod(p, twoPi)
	}
	for p >= twoPi {
		p -= twoPi
	}
	for p < 0 {
		p += twoPi
	}
	// p just below zero rounds up to exactly 2π.
	if p >= twoPi {
		p -= twoPi
	}
	return p
}

// TrackingResult holds carrier-corrected symbols and the frequency trace.
type TrackingResult struct {
	Symbols        []complex128
	FrequencyTrace []float64 // Hz, one per symbol
}

// FineFrequencyPhaseTracker runs a Costas loop across symbols. Each output
// depends on every previous symbol, so the loop is strictly sequential.
func FineFrequencyPhaseTracker(symbols []complex128, sampleRate, alpha, beta float64) TrackingResult {
	res := TrackingResult{
		Symbols:        make([]complex128, len(symbols)),
		FrequencyTrace: make([]float64, len(symbols)),
	}
	loop := NewCostasLoop(alpha, beta)
	for i, s := range symbols {
		res.Symbols[i] = loop.Step(s)
		res.FrequencyTrace[i] = loop.FrequencyHz(sampleRate)
	}
	return res
}
