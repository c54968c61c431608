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
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath  string
	logLevel    string
	logJSON     bool
	watchPaths  bool
	forceIngest bool

	rootCmd = &cobra.Command{
		Use:   "askai",
		Short: "Route questions to a chat model, documents and tools",
		Long: `askai serves an HTTP API that answers questions directly, from an
indexed document set, or by calling tools such as weather and stock quotes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeLogging()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	ingestCmd = &cobra.Command{
		Use:     "ingest [path...]",
		Short:   "Ingest documents into the vector index",
		Long:    "Ingest files or directories. Without arguments the configured ingest.documents paths are used.",
		Aliases: []string{"i"},
		RunE:    runIngest,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the askai configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the askai version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("askai %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to askai.yaml (default $ASKAI_CONFIG or ~/.askai/askai.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log.level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write console logs as JSON")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolVarP(&watchPaths, "watch", "w", false,
		"Keep running and re-ingest files as they change")
	ingestCmd.Flags().BoolVar(&forceIngest, "force", false,
		"Force ingestion, skipping the data policy secret checks")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	rootCmd.AddCommand(versionCmd)
}
