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

func TestRRCKernel_Shape(t *testing.T) {
	p := DefaultParams()
	k, err := NewRRCKernel(p.RRCOrder, p.RRCRolloff, p.SymbolPeriod(), p.SampleRate)
	require.NoError(t, err)

	require.Equal(t, 101, k.Len())
	taps := k.Taps()
	tm := k.Time()

	center := k.Len() / 2
	assert.InDelta(t, 1-0.2+4*0.2/math.Pi, taps[center], 1e-12)
	assert.Equal(t, 0.0, tm[center])
	assert.InDelta(t, -50e-6, tm[0], 1e-15)

	for i, v := range taps {
		assert.LessOrEqual(t, math.Abs(v), taps[center], "tap %d exceeds the peak", i)
	}
}

func TestRRCKernel_SingularityIsContinuous(t *testing.T) {
	// With alpha 0.2 and 8 samples per symbol, t = Ts/(4α) falls on tap offset 10.
	p := DefaultParams()
	k, err := NewRRCKernel(p.RRCOrder, p.RRCRolloff, p.SymbolPeriod(), p.SampleRate)
	require.NoError(t, err)

	taps := k.Taps()
	center := k.Len() / 2
	atSingularity := taps[center+10]
	neighbours := (taps[center+9] + taps[center+11]) / 2

	assert.False(t, math.IsNaN(atSingularity) || math.IsInf(atSingularity, 0))
	assert.InDelta(t, neighbours, atSingularity, 0.05)
	assert.Equal(t, taps[center-10], atSingularity)
}

func TestRRCKernel_Symmetric(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		order := 2 * rapid.IntRange(0, 80).Draw(t, "half-order")
		rolloff := rapid.Float64Range(0, 1).Draw(t, "rolloff")
		sps := rapid.IntRange(2, 16).Draw(t, "sps")
		fs := 48000.0

		k, err := NewRRCKernel(order, rolloff, float64(sps)/fs, fs)
		if err != nil {
			t.Fatalf("NewRRCKernel: %v", err)
		}
		if k.Len()%2 != 1 {
			t.Fatalf("kernel length %d is even", k.Len())
		}
		taps := k.Taps()
		for i := range taps {
			j := len(taps) - 1 - i
			if math.Abs(taps[i]-taps[j]) > 1e-9 {
				t.Fatalf("taps[%d]=%v != taps[%d]=%v", i, taps[i], j, taps[j])
			}
		}
	})
}

func TestRRCKernel_RejectsOddOrder(t *testing.T) {
	_, err := NewRRCKernel(99, 0.2, 8e-6, 1e6)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatchedFilter_FullConvolution(t *testing.T) {
	k := &Kernel{taps: []float64{1, 2, 1}, time: []float64{-1, 0, 1}}
	x := []complex128{1, complex(0, 1), -1}

	got, err := MatchedFilter(x, k, 0.5)
	require.NoError(t, err)

	want := []complex128{
		0.5,
		complex(1, 0.5),
		complex(0, 1),
		complex(-1, 0.5),
		-0.5,
	}
	require.Len(t, got, len(x)+k.Len()-1)
	for i := range want {
		assert.InDelta(t, 0, cmplx.Abs(got[i]-want[i]), 1e-12, "sample %d: got %v want %v", i, got[i], want[i])
	}
}

func TestMatchedFilter_ChunksMatchSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := make([]complex128, 3*convChunk+17)
	for i := range x {
		x[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	p := DefaultParams()
	k, err := NewRRCKernel(p.RRCOrder, p.RRCRolloff, p.SymbolPeriod(), p.SampleRate)
	require.NoError(t, err)

	got, err := MatchedFilter(x, k, p.FilterGain)
	require.NoError(t, err)

	want := make([]complex128, len(x)+k.Len()-1)
	convolveRange(want, x, k.taps, p.FilterGain, 0, len(want))
	assert.Equal(t, want, got)
}

func TestMatchedFilter_Errors(t *testing.T) {
	k := &Kernel{taps: []float64{1}, time: []float64{0}}

	_, err := MatchedFilter([]complex128{1}, &Kernel{}, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = MatchedFilter([]complex128{1}, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = MatchedFilter(nil, k, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
