// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/existential-birds/amelia-sub002/internal/config"
	"github.com/existential-birds/amelia-sub002/internal/log"
	"github.com/existential-birds/amelia-sub002/internal/server"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (default: ~/.config/amelia/config.yaml)")
		host        = flag.String("host", "", "Host to bind")
		port        = flag.Int("port", 0, "Port to bind")
		dbPath      = flag.String("db", "", "Path to the SQLite database")
		pidFile     = flag.String("pid-file", "", "Write the daemon pid to this file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ameliad %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ameliad: %v\n", err)
		os.Exit(1)
	}

	// CLI flag overrides
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Workflows.DatabasePath = *dbPath
	}
	if *pidFile != "" {
		cfg.Server.PIDFile = *pidFile
	}

	// Environment wins over the config file for log settings.
	logCfg := log.FromEnv()
	if os.Getenv("AMELIA_DEBUG") == "" && os.Getenv("AMELIA_LOG_LEVEL") == "" && os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = cfg.Log.Level
	}
	if os.Getenv("LOG_FORMAT") == "" && cfg.Log.Format != "" {
		logCfg.Format = log.Format(cfg.Log.Format)
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, version, logger)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("daemon exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
