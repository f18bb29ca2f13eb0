package modem

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
)

// Modulator turns bits into RRC pulse-shaped QPSK baseband samples. It is the
// transmit side of the receiver and is used to synthesise captures.
type Modulator struct {
	constellation *Constellation
	kernel        *Kernel
	sps           int
}

// NewModulator creates a QPSK modulator using the receiver's pulse shape.
func NewModulator(p Params) (*Modulator, error) {
	kernel, err := NewRRCKernel(p.RRCOrder, p.RRCRolloff, p.SymbolPeriod(), p.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("pulse shape: %w", err)
	}
	return &Modulator{
		constellation: NewConstellation(p.Labeling),
		kernel:        kernel,
		sps:           p.SamplesPerSymbol,
	}, nil
}

// Modulate converts bits into pulse-shaped samples.
// bits: slice of 0/1 bytes, length must be even.
func (m *Modulator) Modulate(bits []byte) ([]complex128, error) {
	if len(bits)%BitsPerSymbol != 0 {
		return nil, fmt.Errorf("bit count %d is not multiple of %d", len(bits), BitsPerSymbol)
	}
	if len(bits) == 0 {
		return nil, fmt.Errorf("%w: no bits to modulate", ErrInvalidInput)
	}

	symbols := m.constellation.MapBits(bits)

	// Upsample with impulses, then shape.
	up := make([]complex128, len(symbols)*m.sps)
	for i, s := range symbols {
		up[i*m.sps] = s
	}
	return convolve(up, m.kernel.taps, 1)
}

// AlignmentDelay returns the number of leading samples that puts the
// transmit and receive filter delay on a whole symbol boundary.
func (m *Modulator) AlignmentDelay() int {
	return (m.sps - (m.kernel.Len()-1)%m.sps) % m.sps
}

// FrameOptions controls the bits placed around the preamble and payload.
type FrameOptions struct {
	LeadSymbols int // random symbols before the preamble
	TailSymbols int // random symbols after the payload
	Seed        int64
}

// DefaultFrameOptions returns a short random lead-in and tail.
func DefaultFrameOptions() FrameOptions {
	return FrameOptions{
		LeadSymbols: 256,
		TailSymbols: 64,
		Seed:        42,
	}
}

// FrameBits lays out one transmitted frame:
// [lead-in][preamble minus its last PreambleAlignment bits][payload][tail]
//
// The payload overlaps the preamble tail, so the receiver's payload offset
// lands on the first payload bit. The last lead-in bits are the complement of
// the preamble head so a periodic preamble cannot match one period early.
func FrameBits(payload, preamble []byte, opts FrameOptions) ([]byte, error) {
	if len(preamble) < PreambleAlignment {
		return nil, fmt.Errorf("%w: preamble too short", ErrInvalidInput)
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	lead := randomBits(rng, opts.LeadSymbols*BitsPerSymbol)
	guard := min(len(lead), len(preamble), 8)
	for i := 0; i < guard; i++ {
		lead[len(lead)-guard+i] = preamble[i] ^ 1
	}

	var bits []byte
	bits = append(bits, lead...)
	bits = append(bits, preamble[:len(preamble)-PreambleAlignment]...)
	bits = append(bits, payload...)
	bits = append(bits, randomBits(rng, opts.TailSymbols*BitsPerSymbol)...)

	if len(bits)%BitsPerSymbol != 0 {
		bits = append(bits, 0)
	}
	return bits, nil
}

func randomBits(rng *rand.Rand, n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
	}
	return bits
}

// GenerateFrame modulates a complete frame carrying payload.
func (m *Modulator) GenerateFrame(payload, preamble []byte, opts FrameOptions) ([]complex128, error) {
	bits, err := FrameBits(payload, preamble, opts)
	if err != nil {
		return nil, err
	}
	return m.Modulate(bits)
}

// Impairments describes a simulated channel.
type Impairments struct {
	FrequencyOffsetHz float64
	PhaseOffset       float64 // radians
	NoiseStdDev       float64 // per rail
	Delay             int     // leading zero samples
	Seed              int64
}

// ApplyImpairments returns a copy of samples passed through the channel.
func ApplyImpairments(samples []complex128, sampleRate float64, imp Impairments) []complex128 {
	out := make([]complex128, imp.Delay+len(samples))
	copy(out[imp.Delay:], samples)

	rng := rand.New(rand.NewSource(imp.Seed))
	w := 2 * math.Pi * imp.FrequencyOffsetHz / sampleRate
	for i := range out {
		out[i] *= cmplx.Exp(complex(0, w*float64(i)+imp.PhaseOffset))
		if imp.NoiseStdDev > 0 {
			out[i] += complex(rng.NormFloat64()*imp.NoiseStdDev, rng.NormFloat64()*imp.NoiseStdDev)
		}
	}
	return out
}
