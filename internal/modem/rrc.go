package modem

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// convChunk is the number of output samples handled by one convolution worker.
const convChunk = 4096

// Kernel is an immutable root-raised-cosine filter kernel.
type Kernel struct {
	taps []float64
	time []float64 // seconds, centred on zero
}

// NewRRCKernel builds an order+1 tap root-raised-cosine kernel.
// symbolPeriod and sampleRate are in seconds and Hz respectively.
func NewRRCKernel(order int, rolloff, symbolPeriod, sampleRate float64) (*Kernel, error) {
	if order < 0 || order%2 != 0 {
		return nil, fmt.Errorf("%w: rrc order must be even and non-negative, got %d", ErrInvalidInput, order)
	}
	if symbolPeriod <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: symbol period and sample rate must be positive", ErrInvalidInput)
	}

	n := order + 1
	k := &Kernel{
		taps: make([]float64, n),
		time: make([]float64, n),
	}
	ts := symbolPeriod
	for i := 0; i < n; i++ {
		t := float64(i-order/2) / sampleRate
		k.time[i] = t
		k.taps[i] = rrcTap(t, rolloff, ts)
	}
	return k, nil
}

func rrcTap(t, alpha, ts float64) float64 {
	if t == 0 {
		return 1 - alpha + 4*alpha/math.Pi
	}
	// t = ±Ts/(4α) is a removable singularity of the general expression.
	if alpha != 0 && math.Abs(math.Abs(4*alpha*t/ts)-1) < 1e-9 {
		return alpha / math.Sqrt2 * ((1+2/math.Pi)*math.Sin(math.Pi/(4*alpha)) +
			(1-2/math.Pi)*math.Cos(math.Pi/(4*alpha)))
	}
	x := t / ts
	num := math.Sin(math.Pi*x*(1-alpha)) + 4*alpha*x*math.Cos(math.Pi*x*(1+alpha))
	den := math.Pi * x * (1 - (4*alpha*x)*(4*alpha*x))
	return num / den
}

// Len returns the number of taps.
func (k *Kernel) Len() int {
	return len(k.taps)
}

// Taps returns a copy of the filter coefficients.
func (k *Kernel) Taps() []float64 {
	out := make([]float64, len(k.taps))
	copy(out, k.taps)
	return out
}

// Time returns a copy of the tap time axis in seconds.
func (k *Kernel) Time() []float64 {
	out := make([]float64, len(k.time))
	copy(out, k.time)
	return out
}

// MatchedFilter returns the full linear convolution of samples with the kernel,
// scaled by gain. The output has len(samples)+kernel.Len()-1 samples.
func MatchedFilter(samples []complex128, kernel *Kernel, gain float64) ([]complex128, error) {
	if kernel == nil || kernel.Len() == 0 {
		return nil, fmt.Errorf("%w: empty filter kernel", ErrInvalidInput)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to filter", ErrInvalidInput)
	}

	return convolve(samples, kernel.taps, gain)
}

// convolve computes the full convolution of x with real taps h, scaled by gain.
func convolve(x []complex128, h []float64, gain float64) ([]complex128, error) {
	out := make([]complex128, len(x)+len(h)-1)

	// Every output sample is independent, so chunks can run in any order.
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < len(out); lo += convChunk {
		hi := min(lo+convChunk, len(out))
		g.Go(func() error {
			convolveRange(out, x, h, gain, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func convolveRange(out, x []complex128, h []float64, gain float64, lo, hi int) {
	n := len(x)
	for k := lo; k < hi; k++ {
		jStart := max(0, k-n+1)
		jEnd := min(len(h)-1, k)
		var re, im float64
		for j := jStart; j <= jEnd; j++ {
			s := x[k-j]
			re += h[j] * real(s)
			im += h[j] * imag(s)
		}
		out[k] = complex(re*gain, im*gain)
	}
}
