package modem

import (
	"fmt"
	"strings"
)

// BitsPerSymbol is fixed by the quaternary constellation.
const BitsPerSymbol = 2

// Labeling selects how the four QPSK quadrants map to bit pairs.
type Labeling int

const (
	// LabelingSign takes each bit from one rail: (Re>0 ? 0 : 1, Im>0 ? 0 : 1).
	LabelingSign Labeling = iota
	// LabelingQAM numbers the points -1-j, -1+j, 1+j, 1-j as 00, 01, 10, 11,
	// the order used by the lab's square QAM-4 modem.
	LabelingQAM
)

// String returns the labeling name used in configuration files.
func (l Labeling) String() string {
	switch l {
	case LabelingSign:
		return "sign"
	case LabelingQAM:
		return "qam"
	default:
		return fmt.Sprintf("Labeling(%d)", int(l))
	}
}

// ParseLabeling parses a labeling name.
func ParseLabeling(s string) (Labeling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sign", "gray", "":
		return LabelingSign, nil
	case "qam", "qam4":
		return LabelingQAM, nil
	default:
		return 0, fmt.Errorf("unknown labeling %q", s)
	}
}

// Constellation is a unit-spaced QPSK constellation at (±1, ±1).
type Constellation struct {
	Labeling Labeling
	// points is indexed by the 2-bit label.
	points [4]complex128
	// labels is indexed by quadrant: bit 1 set when Re <= 0, bit 0 set when Im <= 0.
	labels [4]byte
}

// NewConstellation creates a QPSK constellation with the given labeling.
func NewConstellation(l Labeling) *Constellation {
	c := &Constellation{Labeling: l}
	switch l {
	case LabelingQAM:
		c.points = [4]complex128{
			complex(-1, -1), // 00
			complex(-1, 1),  // 01
			complex(1, 1),   // 10
			complex(1, -1),  // 11
		}
	default:
		c.points = [4]complex128{
			complex(1, 1),   // 00
			complex(1, -1),  // 01
			complex(-1, 1),  // 10
			complex(-1, -1), // 11
		}
	}
	for label, p := range c.points {
		c.labels[quadrant(p)] = byte(label)
	}
	return c
}

func quadrant(s complex128) int {
	q := 0
	if real(s) <= 0 {
		q |= 2
	}
	if imag(s) <= 0 {
		q |= 1
	}
	return q
}

// Map maps two bits to a constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	return c.points[bitsToIndex(bits)&3]
}

// Demap hard-slices a symbol to its quadrant and returns the two bits.
func (c *Constellation) Demap(symbol complex128) []byte {
	return indexToBits(int(c.labels[quadrant(symbol)]), BitsPerSymbol)
}

// MapBits maps a bit slice to constellation symbols.
// A trailing odd bit is ignored.
func (c *Constellation) MapBits(bits []byte) []complex128 {
	numSymbols := len(bits) / BitsPerSymbol
	symbols := make([]complex128, numSymbols)

	for i := 0; i < numSymbols; i++ {
		symbols[i] = c.Map(bits[i*BitsPerSymbol : (i+1)*BitsPerSymbol])
	}
	return symbols
}

// DemapSymbols demodulates symbols to a bit sequence of length 2*len(symbols).
func (c *Constellation) DemapSymbols(symbols []complex128) []byte {
	bits := make([]byte, 0, len(symbols)*BitsPerSymbol)

	for _, s := range symbols {
		label := c.labels[quadrant(s)]
		bits = append(bits, (label>>1)&1, label&1)
	}
	return bits
}

func bitsToIndex(bits []byte) int {
	idx := 0
	for _, b := range bits {
		idx = (idx << 1) | int(b&1)
	}
	return idx
}

func indexToBits(idx, numBits int) []byte {
	bits := make([]byte, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
