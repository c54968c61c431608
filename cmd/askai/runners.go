// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/askai/pkg/logging"
	"github.com/AleutianAI/askai/services/orchestrator"
	"github.com/AleutianAI/askai/services/orchestrator/config"
	"github.com/AleutianAI/askai/services/orchestrator/retrieval"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var logger *logging.Logger

// setupLogging installs the process-wide slog logger. The level comes from
// --log-level, else from the config file, else info.
func setupLogging(cmd *cobra.Command) error {
	level := logLevel
	dir := ""
	if cmd != versionCmd && cmd != configInitCmd {
		if cfg, err := config.Load(configPath); err == nil {
			if level == "" {
				level = cfg.Log.Level
			}
			dir = cfg.Log.Dir
		}
	}
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  dir,
		Service: "askai",
		JSON:    logJSON,
	})
	slog.SetDefault(logger.Slog())
	return nil
}

func closeLogging() {
	if logger != nil {
		_ = logger.Close()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	slog.Info("Starting askai",
		"version", version,
		"port", cfg.Server.Port,
		"llm_backend", cfg.LLM.Backend,
		"vector_backend", cfg.Vector.Backend,
	)
	svc, err := orchestrator.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return svc.Run(ctx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	paths := args
	if len(paths) == 0 {
		paths = cfg.Ingest.Documents
	}
	if len(paths) == 0 {
		return fmt.Errorf("no paths given and ingest.documents is empty")
	}
	if cfg.Vector.Backend == config.VectorMemory {
		slog.Warn("The in-memory vector index does not outlive this command; use the weaviate backend to keep ingested documents")
	}
	if forceIngest {
		cfg.Ingest.Policy = false
	}
	// Startup ingestion is skipped; the paths are ingested unconditionally below.
	cfg.Ingest.Documents = nil

	ctx, stop := signalContext()
	defer stop()

	svc, err := orchestrator.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	defer svc.Close()

	ingester := svc.Ingester()
	if ingester == nil {
		return fmt.Errorf("LLM backend %q cannot embed documents", cfg.LLM.Backend)
	}
	return ingestPaths(ctx, cmd, ingester, paths, watchPaths)
}

func ingestPaths(ctx context.Context, cmd *cobra.Command, ingester *retrieval.Ingester, paths []string, watch bool) error {
	n, err := ingester.IngestPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("ingest failed after %d chunks: %w", n, err)
	}
	cmd.Printf("Ingested %d chunks from %d path(s)\n", n, len(paths))
	if !watch {
		return nil
	}
	cmd.Println("Watching for changes. Press Ctrl+C to stop.")
	if err := ingester.Watch(ctx, paths, retrieval.DefaultSettleDelay); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	cmd.Printf("Wrote default configuration to %s\n", path)
	return nil
}

// runConfigShow prints the loaded configuration with secrets masked.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.LLM.APIKey = mask(cfg.LLM.APIKey)
	cfg.Tools.NinjasAPIKey = mask(cfg.Tools.NinjasAPIKey)
	cfg.Server.APIToken = mask(cfg.Server.APIToken)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	cmd.Print(string(out))
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
