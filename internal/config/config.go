// Package config loads receiver tunables from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
)

// DefaultConfigPath is where the binaries look when no --config is given.
const DefaultConfigPath = "configs/receiver.yaml"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config mirrors modem.Params in a file-friendly shape.
type Config struct {
	SampleRate       float64 `yaml:"sample_rate"`
	SamplesPerSymbol int     `yaml:"samples_per_symbol"`

	Filter   FilterConfig    `yaml:"filter"`
	Timing   TimingConfig    `yaml:"timing"`
	Costas   CostasConfig    `yaml:"costas"`
	Labeling string          `yaml:"labeling"`
	Preamble []SegmentConfig `yaml:"preamble"`
	Image    ImageConfig     `yaml:"image"`
}

// FilterConfig configures the RRC matched filter.
type FilterConfig struct {
	Order   int     `yaml:"order"`
	Rolloff float64 `yaml:"rolloff"`
	Gain    float64 `yaml:"gain"`
}

// TimingConfig configures the Mueller & Muller loop.
type TimingConfig struct {
	Gain      float64 `yaml:"gain"`
	Lookahead int     `yaml:"lookahead"`
}

// CostasConfig configures the carrier tracking loop.
type CostasConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
}

// SegmentConfig is a preamble pattern written as a string of 0 and 1.
type SegmentConfig struct {
	Pattern string `yaml:"pattern"`
	Repeat  int    `yaml:"repeat"`
}

// ImageConfig is the geometry of the transmitted picture.
type ImageConfig struct {
	Width        int `yaml:"width"`
	Height       int `yaml:"height"`
	BitsPerPixel int `yaml:"bits_per_pixel"`
}

// Default returns the lab configuration.
func Default() *Config {
	return &Config{
		SampleRate:       modem.DefaultSampleRate,
		SamplesPerSymbol: modem.DefaultSamplesPerSymbol,
		Filter: FilterConfig{
			Order:   modem.DefaultRRCOrder,
			Rolloff: modem.DefaultRRCRolloff,
			Gain:    modem.DefaultFilterGain,
		},
		Timing: TimingConfig{
			Gain:      modem.DefaultTimingGain,
			Lookahead: modem.DefaultTimingLookahead,
		},
		Costas: CostasConfig{
			Alpha: modem.DefaultCostasAlpha,
			Beta:  modem.DefaultCostasBeta,
		},
		Labeling: modem.LabelingSign.String(),
		Preamble: []SegmentConfig{
			{Pattern: "1001", Repeat: 50},
			{Pattern: "00", Repeat: 50},
		},
		Image: ImageConfig{
			Width:        modem.DefaultImageWidth,
			Height:       modem.DefaultImageHeight,
			BitsPerPixel: modem.DefaultBitsPerPixel,
		},
	}
}

// Load reads a YAML config file. Fields missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration by building the receiver parameters.
func (c *Config) Validate() error {
	p, err := c.Params()
	if err != nil {
		return err
	}
	return p.Validate()
}

// Params converts the configuration to receiver parameters.
func (c *Config) Params() (modem.Params, error) {
	labeling, err := modem.ParseLabeling(c.Labeling)
	if err != nil {
		return modem.Params{}, err
	}
	preamble, err := c.preambleBits()
	if err != nil {
		return modem.Params{}, err
	}

	return modem.Params{
		SampleRate:       c.SampleRate,
		SamplesPerSymbol: c.SamplesPerSymbol,
		RRCOrder:         c.Filter.Order,
		RRCRolloff:       c.Filter.Rolloff,
		FilterGain:       c.Filter.Gain,
		TimingGain:       c.Timing.Gain,
		TimingLookahead:  c.Timing.Lookahead,
		CostasAlpha:      c.Costas.Alpha,
		CostasBeta:       c.Costas.Beta,
		Labeling:         labeling,
		Preamble:         preamble,
		ImageWidth:       c.Image.Width,
		ImageHeight:      c.Image.Height,
		BitsPerPixel:     c.Image.BitsPerPixel,
	}, nil
}

func (c *Config) preambleBits() ([]byte, error) {
	segments := make([]modem.PreambleSegment, 0, len(c.Preamble))
	for i, s := range c.Preamble {
		if s.Repeat < 0 {
			return nil, fmt.Errorf("preamble segment %d: negative repeat %d", i, s.Repeat)
		}
		pattern, err := ParseBits(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("preamble segment %d: %w", i, err)
		}
		segments = append(segments, modem.PreambleSegment{Pattern: pattern, Repeat: s.Repeat})
	}
	return modem.BuildPreamble(segments...), nil
}

// ParseBits converts a string such as "1001" to bits. Spaces and
// underscores are ignored.
func ParseBits(s string) ([]byte, error) {
	var bits []byte
	for _, r := range s {
		switch r {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case ' ', '_':
		default:
			return nil, fmt.Errorf("invalid bit %q in pattern %q", r, s)
		}
	}
	if len(bits) == 0 {
		return nil, fmt.Errorf("empty bit pattern %q", strings.TrimSpace(s))
	}
	return bits, nil
}
