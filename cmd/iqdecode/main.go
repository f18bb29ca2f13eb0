// Command iqdecode recovers the image carried by a recorded QPSK capture.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/qpsk-receiver/internal/config"
	"github.com/jeongseonghan/qpsk-receiver/internal/iq"
	"github.com/jeongseonghan/qpsk-receiver/internal/modem"
	"github.com/jeongseonghan/qpsk-receiver/internal/raster"
	"github.com/jeongseonghan/qpsk-receiver/internal/scope"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Receiver config file (default "+config.DefaultConfigPath+" if present).")
	format := pflag.StringP("format", "f", "", "Capture format: csv, cf32 or cu8. Inferred from the extension when empty.")
	output := pflag.StringP("output", "o", "received.png", "Output PNG path.")
	plotDir := pflag.StringP("plots", "p", "", "Write diagnostic plots to this directory.")
	labeling := pflag.String("labeling", "", "Override the bit labeling: sign or qam.")
	logLevel := pflag.String("log-level", "info", "Log level: debug, info, warn or error.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - Decode an image from a QPSK IQ capture\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] CAPTURE\n", os.Args[0])
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

	logger, err := config.NewLogger("iqdecode", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	if *labeling != "" {
		cfg.Labeling = *labeling
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Fatal("receiver parameters", "err", err)
	}

	if err := run(logger, params, pflag.Arg(0), iq.Format(*format), *output, *plotDir); err != nil {
		logger.Fatal("decode failed", "err", err)
	}
}

func run(logger *log.Logger, params modem.Params, capture string, format iq.Format, output, plotDir string) error {
	if format != "" {
		f, err := iq.ParseFormat(string(format))
		if err != nil {
			return err
		}
		format = f
	}

	samples, err := iq.ReadFile(capture, format)
	if err != nil {
		return err
	}
	logger.Info("capture loaded", "file", capture, "samples", len(samples))

	opts := []modem.Option{modem.WithLogger(logger)}
	var rec *scope.Recorder
	if plotDir != "" {
		kernel, err := modem.NewRRCKernel(params.RRCOrder, params.RRCRolloff, params.SymbolPeriod(), params.SampleRate)
		if err != nil {
			return err
		}
		rec = scope.NewRecorder(params.SampleRate, kernel)
		opts = append(opts, modem.WithObserver(rec))
	}

	rx, err := modem.NewReceiver(params, opts...)
	if err != nil {
		return err
	}

	res, recvErr := rx.Receive(samples)

	// Written even when decoding fails.
	if rec != nil {
		savePlots(logger, rec, plotDir)
	}
	if recvErr != nil {
		return recvErr
	}

	img, err := raster.Pack(res.Payload, params.ImageWidth, params.ImageHeight, params.BitsPerPixel)
	if err != nil {
		return err
	}
	if err := raster.WritePNG(output, img); err != nil {
		return err
	}

	logger.Info("image written",
		"path", output,
		"offset_hz", fmt.Sprintf("%.2f", res.Estimate.OffsetHz),
		"symbols", len(res.Symbols),
		"payload_start", res.Frame.PayloadStart,
		"inverted", res.Frame.Inverted,
	)
	return nil
}

func savePlots(logger *log.Logger, rec *scope.Recorder, dir string) {
	files, err := rec.SaveAll(dir)
	if err != nil {
		logger.Warn("plots", "err", err)
		return
	}
	logger.Info("plots written", "dir", dir, "files", len(files))
}
