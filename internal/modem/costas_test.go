package modem

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWrapPhase_Range(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.Float64Range(-1e9, 1e9).Draw(t, "phase")
		got := wrapPhase(p)
		if got < 0 || got >= twoPi {
			t.Fatalf("wrapPhase(%v) = %v outside [0, 2π)", p, got)
		}
	})
}

func TestWrapPhase_WholeTurns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.Float64Range(-4*math.Pi, 6*math.Pi).Draw(t, "phase")
		got := wrapPhase(p)
		turns := (p - got) / twoPi
		if math.Abs(turns-math.Round(turns)) > 1e-9 {
			t.Fatalf("wrapPhase(%v) = %v is not a whole number of turns away", p, got)
		}
	})
}

func TestWrapPhase_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"smallest negative", -math.SmallestNonzeroFloat64, 0},
		{"one ulp below zero turn", -4.440892098500626e-16, 0},
		{"full turn", twoPi, 0},
		{"just under a turn", math.Nextafter(twoPi, 0), math.Nextafter(twoPi, 0)},
		{"minus a turn", -twoPi, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapPhase(tt.in)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, twoPi)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCostasLoop_PhaseStaysBelowTurn(t *testing.T) {
	c := NewCostasLoop(0.01, 0)
	c.Step(complex(1, 1-1e-14))
	assert.GreaterOrEqual(t, c.Phase(), 0.0)
	assert.Less(t, c.Phase(), twoPi)
}

func TestWrapPhase_NonFinite(t *testing.T) {
	assert.Zero(t, wrapPhase(math.NaN()))
	assert.Zero(t, wrapPhase(math.Inf(1)))
	assert.Zero(t, wrapPhase(math.Inf(-1)))
}

func TestPhaseDetector4_ZeroOnDiagonals(t *testing.T) {
	for _, s := range qpskCorners {
		assert.Zero(t, phaseDetector4(s*0.5), "detector at %v", s)
	}
	// A small counter-clockwise rotation gives a positive error in every quadrant.
	rot := cmplx.Exp(complex(0, 0.1))
	for _, s := range qpskCorners {
		assert.Greater(t, phaseDetector4(s*rot), 0.0, "detector at %v", s)
	}
}

func randomSymbols(rng *rand.Rand, n int) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = qpskCorners[rng.Intn(4)]
	}
	return out
}

func TestCostasLoop_LocksToPhaseOffset(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const offset = 0.3

	loop := NewCostasLoop(DefaultCostasAlpha, DefaultCostasBeta)
	rot := cmplx.Exp(complex(0, offset))
	for _, s := range randomSymbols(rng, 3000) {
		loop.Step(s * rot)
	}

	assert.InDelta(t, offset, loop.Phase(), 1e-3)
	assert.InDelta(t, 0, loop.Frequency(), 1e-5)
}

func TestCostasLoop_TracksFrequencyRamp(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	const w = 1e-3 // radians per symbol

	loop := NewCostasLoop(DefaultCostasAlpha, DefaultCostasBeta)
	symbols := randomSymbols(rng, 6000)
	var last complex128
	for i, s := range symbols {
		last = loop.Step(s * cmplx.Exp(complex(0, w*float64(i))))
	}

	assert.InDelta(t, w, loop.Frequency(), 1e-5)
	assert.InDelta(t, w*1e6/twoPi, loop.FrequencyHz(1e6), 2)
	assert.InDelta(t, 0, phaseDetector4(last), 0.01)
}

func TestFineFrequencyPhaseTracker_Lengths(t *testing.T) {
	res := FineFrequencyPhaseTracker(qpskCorners, 1e6, DefaultCostasAlpha, DefaultCostasBeta)
	require.Len(t, res.Symbols, len(qpskCorners))
	require.Len(t, res.FrequencyTrace, len(qpskCorners))

	// Ideal symbols leave the loop at rest.
	assert.Equal(t, qpskCorners, res.Symbols)
	for _, f := range res.FrequencyTrace {
		assert.Zero(t, f)
	}

	empty := FineFrequencyPhaseTracker(nil, 1e6, DefaultCostasAlpha, DefaultCostasBeta)
	assert.Empty(t, empty.Symbols)
}

func TestCoarseAndFineRecoverBits(t *testing.T) {
	const fs = 1e6
	rng := rand.New(rand.NewSource(3))
	c := NewConstellation(LabelingSign)

	bits := randomBits(rng, 2*4096)
	symbols := c.MapBits(bits)
	rx := make([]complex128, len(symbols))
	for i, s := range symbols {
		rx[i] = s * cmplx.Exp(complex(0, 2*math.Pi*250*float64(i)/fs+0.2))
	}

	synced, _, err := CoarseFrequencySync(rx, fs)
	require.NoError(t, err)
	tracked := FineFrequencyPhaseTracker(synced, fs, DefaultCostasAlpha, DefaultCostasBeta)

	assert.Equal(t, bits, c.DemapSymbols(tracked.Symbols))
}
