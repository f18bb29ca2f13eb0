// Command iqsynth writes a synthetic QPSK capture carrying an image, for
// exercising iqdecode without a radio.
package main

import (
	"fmt"
	"image"
	"math/rand"
	"os"

	"github.com/spf13/pflag"

	"github.com/jeongseonghan/qpsk-receiver/internal/config"
	"github.com/jeongseonghan/qpsk-receiver/internal/iq"
	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
	"github.com/jeongseonghan/qpsk-receiver/internal/raster"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Receiver config file (default "+config.DefaultConfigPath+" if present).")
	imagePath := pflag.StringP("image", "i", "", "Grayscale PNG to transmit. A test pattern is used when empty.")
	format := pflag.StringP("format", "f", "", "Capture format: csv, cf32 or cu8. Inferred from the extension when empty.")
	offsetHz := pflag.Float64("offset-hz", 1000, "Carrier frequency offset in Hz.")
	phase := pflag.Float64("phase", 0.3, "Carrier phase offset in radians.")
	noise := pflag.Float64("noise", 0.02, "Noise standard deviation per rail.")
	seed := pflag.Int64("seed", 1, "Random seed for noise and padding bits.")
	lead := pflag.Int("lead", modem.DefaultFrameOptions().LeadSymbols, "Random symbols before the preamble.")
	tail := pflag.Int("tail", modem.DefaultFrameOptions().TailSymbols, "Random symbols after the payload.")
	logLevel := pflag.String("log-level", "info", "Log level: debug, info, warn or error.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Synthesise a QPSK IQ capture\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] OUTPUT\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(1)
	}

	logger, err := config.NewLogger("iqsynth", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Fatal("receiver parameters", "err", err)
	}

	payload, err := loadPayload(*imagePath, params, *seed)
	if err != nil {
		logger.Fatal("payload", "err", err)
	}

	mod, err := modem.NewModulator(params)
	if err != nil {
		logger.Fatal("modulator", "err", err)
	}
	opts := modem.FrameOptions{LeadSymbols: *lead, TailSymbols: *tail, Seed: *seed}
	tx, err := mod.GenerateFrame(payload, params.Preamble, opts)
	if err != nil {
		logger.Fatal("generate frame", "err", err)
	}

	capture := modem.ApplyImpairments(tx, params.SampleRate, modem.Impairments{
		FrequencyOffsetHz: *offsetHz,
		PhaseOffset:       *phase,
		NoiseStdDev:       *noise,
		Delay:             mod.AlignmentDelay(),
		Seed:              *seed,
	})

	var f iq.Format
	if *format != "" {
		if f, err = iq.ParseFormat(*format); err != nil {
			logger.Fatal("format", "err", err)
		}
	}
	out := pflag.Arg(0)
	if err := iq.WriteFile(out, capture, f); err != nil {
		logger.Fatal("write capture", "err", err)
	}
	logger.Info("capture written", "path", out, "samples", len(capture), "payload_bits", len(payload),
		"offset_hz", *offsetHz, "noise", *noise)
}

func loadPayload(path string, p modem.Params, seed int64) ([]byte, error) {
	if p.BitsPerPixel != 8 {
		return nil, fmt.Errorf("only 8 bits per pixel can be synthesised, got %d", p.BitsPerPixel)
	}

	var img *image.Gray
	if path == "" {
		img = testPattern(p.ImageWidth, p.ImageHeight, seed)
	} else {
		var err error
		if img, err = raster.ReadPNG(path); err != nil {
			return nil, err
		}
	}

	if b := img.Bounds(); b.Dx() != p.ImageWidth || b.Dy() != p.ImageHeight {
		return nil, fmt.Errorf("image is %dx%d, receiver expects %dx%d", b.Dx(), b.Dy(), p.ImageWidth, p.ImageHeight)
	}
	return raster.Unpack(img), nil
}

// testPattern draws a diagonal gradient with a little noise.
func testPattern(w, h int, seed int64) *image.Gray {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (x*255/max(w-1, 1) + y*255/max(h-1, 1)) / 2
			img.Pix[y*img.Stride+x] = uint8(min(255, v+rng.Intn(16)))
		}
	}
	return img
}
