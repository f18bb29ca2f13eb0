package modem

import (
	"math"
	"math/cmplx"
)

// TimingLoop is a decision-directed Mueller & Muller symbol timing recovery
// loop. It consumes an oversampled sequence and emits one sample per symbol.
//
// The first two outputs of the textbook formulation only seed the two-symbol
// lookback; they are held as zero history here and never emitted.
type TimingLoop struct {
	in        []complex128
	sps       float64
	gain      float64
	lookahead int

	mu      float64
	cursor  int
	emitted int

	// [0] is n-1, [1] is n-2.
	sample [2]complex128
	rail   [2]complex128

	lastErr float64
}

// NewTimingLoop creates a timing loop over in with samplesPerSymbol nominal
// oversampling, loop gain and the required input lookahead margin.
func NewTimingLoop(in []complex128, samplesPerSymbol int, gain float64, lookahead int) *TimingLoop {
	return &TimingLoop{
		in:        in,
		sps:       float64(samplesPerSymbol),
		gain:      gain,
		lookahead: lookahead,
	}
}

// Done reports whether the input can no longer satisfy the lookahead margin.
func (l *TimingLoop) Done() bool {
	// The output index of the textbook loop starts at 2 and is bounded by the
	// input length.
	return l.emitted+2 >= len(l.in) || l.cursor+l.lookahead >= len(l.in)
}

// Step emits the next symbol and advances the loop. ok is false once Done.
func (l *TimingLoop) Step() (sym complex128, ok bool) {
	if l.Done() {
		return 0, false
	}

	s := l.in[l.cursor]
	r := sliceRail(s)

	// Both lookback terms use n-1 and n-2 of the sample and rail histories.
	y := (s - l.sample[1]) * cmplx.Conj(l.rail[0])
	x := (r - l.rail[1]) * cmplx.Conj(l.sample[0])
	l.lastErr = real(y - x)

	l.mu += l.sps + l.gain*l.lastErr
	adv := math.Floor(l.mu)
	l.mu -= adv
	l.cursor += int(adv)
	if l.cursor < 0 {
		l.cursor = 0
	}

	l.sample[1], l.sample[0] = l.sample[0], s
	l.rail[1], l.rail[0] = l.rail[0], r
	l.emitted++

	return s, true
}

// Mu returns the fractional timing offset carried to the next step.
func (l *TimingLoop) Mu() float64 {
	return l.mu
}

// Cursor returns the index of the next input sample.
func (l *TimingLoop) Cursor() int {
	return l.cursor
}

// LastError returns the timing error computed by the most recent Step.
func (l *TimingLoop) LastError() float64 {
	return l.lastErr
}

// sliceRail hard-slices s onto the nearest (±1, ±1) corner.
func sliceRail(s complex128) complex128 {
	re, im := -1.0, -1.0
	if real(s) > 0 {
		re = 1
	}
	if imag(s) > 0 {
		im = 1
	}
	return complex(re, im)
}

// TimingResult holds the one-sample-per-symbol output and its diagnostics.
type TimingResult struct {
	Symbols    []complex128
	MuTrace    []float64 // fractional offset after each symbol
	ErrorTrace []float64 // Mueller & Muller error per symbol
}

// SymbolTimingRecovery resamples an oversampled sequence to one sample per
// symbol. Inputs shorter than lookahead+2 samples yield an empty result.
func SymbolTimingRecovery(samples []complex128, samplesPerSymbol int, gain float64, lookahead int) TimingResult {
	var res TimingResult
	if len(samples) < lookahead+2 || samplesPerSymbol < 1 {
		return res
	}

	capHint := len(samples)/samplesPerSymbol + 1
	res.Symbols = make([]complex128, 0, capHint)
	res.MuTrace = make([]float64, 0, capHint)
	res.ErrorTrace = make([]float64, 0, capHint)

	loop := NewTimingLoop(samples, samplesPerSymbol, gain, lookahead)
	for {
		sym, ok := loop.Step()
		if !ok {
			break
		}
		res.Symbols = append(res.Symbols, sym)
		res.MuTrace = append(res.MuTrace, loop.Mu())
		res.ErrorTrace = append(res.ErrorTrace, loop.LastError())
	}
	return res
}
