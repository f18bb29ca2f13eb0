// Command server exposes the QPSK receiver over HTTP: captures are uploaded,
// decoded in the background and progress is pushed over a websocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/jeongseonghan/qpsk-receiver/internal/config"
	"github.com/jeongseonghan/qpsk-receiver/internal/server"
)

func main() {
	addr := pflag.StringP("addr", "a", "0.0.0.0:8080", "Server address.")
	configPath := pflag.StringP("config", "c", "", "Receiver config file (default "+config.DefaultConfigPath+" if present).")
	staticDir := pflag.String("static-dir", "./web/static", "Static file directory. Empty disables it.")
	logLevel := pflag.String("log-level", "info", "Log level: debug, info, warn or error.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - QPSK receiver decode server\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger, err := config.NewLogger("server", *logLevel)
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

	if *staticDir != "" {
		if _, err := os.Stat(*staticDir); err != nil {
			logger.Warn("static directory unavailable, serving API only", "dir", *staticDir, "err", err)
			*staticDir = ""
		}
	}

	handlers, err := server.NewHandlers(params, logger)
	if err != nil {
		logger.Fatal("handlers", "err", err)
	}
	srv := server.NewServer(*addr, handlers, *staticDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("server error", "err", err)
	}
	logger.Info("shut down")
}
