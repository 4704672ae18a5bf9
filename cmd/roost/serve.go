package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/roostlabs/roost/harness"
	"github.com/roostlabs/roost/internal/config"
	"github.com/roostlabs/roost/internal/logging"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default ~/.config/roost/config.yaml)")
	streamAddr := fs.String("stream-addr", "", "control-plane listen address (overrides config)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (overrides config)")
	dataDir := fs.String("data-dir", "", "data directory (overrides config)")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(args)

	if *showVersion {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *streamAddr != "" {
		cfg.StreamAddr = *streamAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logging.Setup(cfg.LogFormat)
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	logging.SetLevel(level)

	srv, err := harness.New(cfg)
	if err != nil {
		return err
	}

	// Banner carries the resolved addresses so a ":0" bind prints the
	// real ports.
	logging.PrintBanner(version, srv.StreamAddr(), srv.HTTPAddr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
