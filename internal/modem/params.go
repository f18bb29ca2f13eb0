package modem

import (
	"fmt"
)

// Receiver defaults, matching the lab capture.
const (
	DefaultSampleRate       = 1e6
	DefaultSamplesPerSymbol = 8
	DefaultRRCOrder         = 100
	DefaultRRCRolloff       = 0.2
	DefaultFilterGain       = 0.1
	DefaultTimingGain       = 0.7
	DefaultTimingLookahead  = 16
	DefaultCostasAlpha      = 0.01
	DefaultCostasBeta       = 0.0001
	DefaultImageWidth       = 40
	DefaultImageHeight      = 46
	DefaultBitsPerPixel     = 8
)

// Params holds every tunable of the receive chain.
type Params struct {
	SampleRate       float64 // Hz
	SamplesPerSymbol int

	RRCOrder   int
	RRCRolloff float64
	FilterGain float64

	TimingGain      float64
	TimingLookahead int

	CostasAlpha float64
	CostasBeta  float64

	Labeling Labeling
	Preamble []byte

	ImageWidth   int
	ImageHeight  int
	BitsPerPixel int
}

// DefaultParams returns the lab receiver configuration.
func DefaultParams() Params {
	return Params{
		SampleRate:       DefaultSampleRate,
		SamplesPerSymbol: DefaultSamplesPerSymbol,
		RRCOrder:         DefaultRRCOrder,
		RRCRolloff:       DefaultRRCRolloff,
		FilterGain:       DefaultFilterGain,
		TimingGain:       DefaultTimingGain,
		TimingLookahead:  DefaultTimingLookahead,
		CostasAlpha:      DefaultCostasAlpha,
		CostasBeta:       DefaultCostasBeta,
		Labeling:         LabelingSign,
		Preamble:         DefaultPreamble(),
		ImageWidth:       DefaultImageWidth,
		ImageHeight:      DefaultImageHeight,
		BitsPerPixel:     DefaultBitsPerPixel,
	}
}

// SymbolPeriod returns the symbol duration in seconds.
func (p Params) SymbolPeriod() float64 {
	return float64(p.SamplesPerSymbol) / p.SampleRate
}

// PayloadBits returns the number of bits carried by one image.
func (p Params) PayloadBits() int {
	return p.ImageWidth * p.ImageHeight * p.BitsPerPixel
}

// Validate checks that the parameters describe a usable receiver.
func (p Params) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %v", p.SampleRate)
	case p.SamplesPerSymbol < 1:
		return fmt.Errorf("samples per symbol must be >= 1, got %d", p.SamplesPerSymbol)
	case p.RRCOrder < 0 || p.RRCOrder%2 != 0:
		return fmt.Errorf("rrc order must be even and non-negative, got %d", p.RRCOrder)
	case p.RRCRolloff < 0 || p.RRCRolloff > 1:
		return fmt.Errorf("rrc rolloff must be in [0, 1], got %v", p.RRCRolloff)
	case p.FilterGain == 0:
		return fmt.Errorf("filter gain must be non-zero")
	case p.TimingLookahead < 0:
		return fmt.Errorf("timing lookahead must be non-negative, got %d", p.TimingLookahead)
	case p.CostasAlpha < 0 || p.CostasBeta < 0:
		return fmt.Errorf("costas gains must be non-negative, got alpha=%v beta=%v", p.CostasAlpha, p.CostasBeta)
	case len(p.Preamble) < 2:
		return fmt.Errorf("preamble must have at least 2 bits, got %d", len(p.Preamble))
	case p.ImageWidth < 1 || p.ImageHeight < 1 || p.BitsPerPixel < 1:
		return fmt.Errorf("image geometry must be positive, got %dx%dx%d", p.ImageWidth, p.ImageHeight, p.BitsPerPixel)
	}
	for i, b := range p.Preamble {
		if b > 1 {
			return fmt.Errorf("preamble bit %d is %d, want 0 or 1", i, b)
		}
	}
	if _, err := ParseLabeling(p.Labeling.String()); err != nil {
		return err
	}
	return nil
}
