package modem

import (
	"fmt"
)

// PreambleAlignment is how many bits before the end of the matched preamble
// the payload starts. The lab transmitter overlaps its first payload bits
// with the preamble tail.
const PreambleAlignment = 2

// PreambleSegment is a bit pattern repeated Repeat times.
type PreambleSegment struct {
	Pattern []byte
	Repeat  int
}

// BuildPreamble concatenates repeated segments into one template.
func BuildPreamble(segments ...PreambleSegment) []byte {
	var out []byte
	for _, seg := range segments {
		for i := 0; i < seg.Repeat; i++ {
			out = append(out, seg.Pattern...)
		}
	}
	return out
}

// DefaultPreamble returns the lab preamble: 1001 fifty times, then 00 fifty times.
func DefaultPreamble() []byte {
	return BuildPreamble(
		PreambleSegment{Pattern: []byte{1, 0, 0, 1}, Repeat: 50},
		PreambleSegment{Pattern: []byte{0, 0}, Repeat: 50},
	)
}

// FrameSynchronizer locates a known preamble in a demodulated bit stream.
type FrameSynchronizer struct {
	template []float64 // bipolar copy of the preamble
	length   int
}

// NewFrameSynchronizer creates a synchronizer for the given preamble bits.
func NewFrameSynchronizer(preamble []byte) (*FrameSynchronizer, error) {
	if len(preamble) < PreambleAlignment {
		return nil, fmt.Errorf("%w: preamble must have at least %d bits, got %d", ErrInvalidInput, PreambleAlignment, len(preamble))
	}
	fs := &FrameSynchronizer{
		template: make([]float64, len(preamble)),
		length:   len(preamble),
	}
	for i, b := range preamble {
		fs.template[i] = bipolar(b)
	}
	return fs, nil
}

func bipolar(b byte) float64 {
	if b&1 == 1 {
		return 1
	}
	return -1
}

// Correlate returns the full cross-correlation of bits against the preamble.
// Index k corresponds to the preamble starting at bit k-len(preamble)+1.
func (fs *FrameSynchronizer) Correlate(bits []byte) []float64 {
	if len(bits) == 0 {
		return nil
	}
	m := fs.length
	corr := make([]float64, len(bits)+m-1)
	for k := range corr {
		start := k - m + 1
		jStart := max(0, -start)
		jEnd := min(m, len(bits)-start)
		var sum float64
		for j := jStart; j < jEnd; j++ {
			sum += bipolar(bits[start+j]) * fs.template[j]
		}
		corr[k] = sum
	}
	return corr
}

// FrameMatch describes where the preamble was found.
type FrameMatch struct {
	Peak         int     // index into the full correlation
	Start        int     // bit index of the preamble start
	PayloadStart int     // bit index of the first payload bit
	Score        float64 // correlation at the peak
	Inverted     bool    // the peak is negative: preamble bits arrived inverted
}

// Locate finds the correlation peak of largest magnitude. The lowest index
// wins on ties.
func (fs *FrameSynchronizer) Locate(bits []byte) (FrameMatch, error) {
	corr := fs.Correlate(bits)
	if len(corr) == 0 {
		return FrameMatch{}, fmt.Errorf("%w: empty bit stream", ErrSynchronization)
	}

	bestIdx := 0
	bestMag := -1.0
	for k, c := range corr {
		mag := c
		if mag < 0 {
			mag = -mag
		}
		if mag > bestMag {
			bestMag = mag
			bestIdx = k
		}
	}

	start := bestIdx - fs.length + 1
	return FrameMatch{
		Peak:         bestIdx,
		Start:        start,
		PayloadStart: start + fs.length - PreambleAlignment,
		Score:        corr[bestIdx],
		Inverted:     corr[bestIdx] < 0,
	}, nil
}

// Extract locates the preamble and returns the payloadBits bits that follow
// it. A window that does not fit inside bits is an error and no partial
// payload is returned.
func (fs *FrameSynchronizer) Extract(bits []byte, payloadBits int) ([]byte, FrameMatch, error) {
	match, err := fs.Locate(bits)
	if err != nil {
		return nil, FrameMatch{}, err
	}
	if payloadBits < 0 {
		return nil, match, fmt.Errorf("%w: negative payload length %d", ErrInvalidInput, payloadBits)
	}

	end := match.PayloadStart + payloadBits
	if match.PayloadStart < 0 || end > len(bits) {
		return nil, match, fmt.Errorf("%w: payload window [%d, %d) outside %d demodulated bits",
			ErrSynchronization, match.PayloadStart, end, len(bits))
	}

	payload := make([]byte, payloadBits)
	copy(payload, bits[match.PayloadStart:end])
	return payload, match, nil
}
