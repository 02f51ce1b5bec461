// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Quic License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/n-quic/internal/bench"
	"github.com/nishisan-dev/n-quic/internal/config"
	"github.com/nishisan-dev/n-quic/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to bench config file (empty = defaults)")
	flag.Parse()

	var cfg *config.BenchConfig
	if *configPath != "" {
		loaded, err := config.LoadBenchConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultBenchConfig()
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Path)
	defer logCloser.Close()

	// Context com cancelamento via signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := bench.Run(ctx, cfg, logger); err != nil && err != context.Canceled {
		logger.Error("bench error", "error", err)
		os.Exit(1)
	}
}
