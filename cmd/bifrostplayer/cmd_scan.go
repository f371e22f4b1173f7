/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/bifrost_player/internal/db"
	"github.com/friendsincode/bifrost_player/internal/library"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the media root into the local library",
	Long: `Walk the configured media root once and bring the library index
up to date: new files are indexed, changed files re-read, and rows
whose file disappeared are removed.

The running server watches the media root on its own; this command is
for provisioning a library before first boot or for cron-driven
re-indexing of slow network mounts the watcher cannot see.

Examples:
  # Scan and print a human summary
  bifrostplayer scan

  # Scan and emit the result as JSON
  bifrostplayer scan --json
`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Print the scan result as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	svc, err := library.NewService(cfg, database, nil, logger)
	if err != nil {
		return fmt.Errorf("initialize library service: %w", err)
	}

	result, err := svc.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("scan media root: %w", err)
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Scanned %s\n", cfg.MediaRoot)
	fmt.Printf("  files seen:      %d\n", result.TotalFiles)
	fmt.Printf("  new tracks:      %d\n", result.NewTracks)
	fmt.Printf("  updated tracks:  %d\n", result.UpdatedTracks)
	fmt.Printf("  removed tracks:  %d\n", result.RemovedTracks)
	fmt.Printf("  errors:          %d\n", result.Errors)
	fmt.Printf("  took:            %s\n", result.Duration.Round(time.Millisecond))
	return nil
}
