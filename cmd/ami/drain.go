// Copyright 2025 Esmero
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/esmero/ami/internal/errors"
	"github.com/esmero/ami/internal/ui"
	"github.com/esmero/ami/pkg/ami"
	"github.com/esmero/ami/pkg/batch"
)

// runDrain executes the 'drain' CLI command: resume processing an
// existing queue without reseeding the source. This is the recovery
// path after an interrupted or suspended ingest.
func runDrain(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	maxTicks := fs.Int("max-ticks", 0, "Stop after N queue ticks (0 = drain to completion)")
	timeout := fs.Duration("timeout", 0, "Overall deadline for the drain (0 = none)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ami drain [options]

Description:
  Picks up where a previous 'ami ingest' left off. The queue under the
  set's work directory is drained item by item; items whose lease
  expired (for example after a crash) become claimable again. Run
  progress carries over from the stored run state.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  ami drain
  ami drain --max-ticks 100
  ami drain --timeout 30m
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadSet(globals)
	logger, closeReport := setLogger(cfg, globals, *debug)
	defer closeReport()

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	q := openQueue(cfg, false, globals)
	defer q.Close()
	store := openStore(cfg, globals)
	defer store.Close()

	count, err := q.Count(ctx)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot read the AMI queue database",
			err.Error(),
			"Close other AMI instances or run: ami reset --yes",
			err,
		), globals.JSON)
	}
	if count == 0 {
		if !globals.Quiet {
			ui.Info("Queue is empty; nothing to drain")
		}
		return
	}

	renderer, err := ami.NewTemplateRenderer(cfg.TemplateDir, cfg.AdoMapping)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load metadata templates",
			err.Error(),
			"Fix the template files under "+cfg.TemplateDir+" or unset 'templates'",
			err,
		), globals.JSON)
	}
	fetcher := &ami.LocalFetcher{
		BaseDir:  filepath.Dir(cfg.Source),
		SpoolDir: filepath.Join(cfg.WorkDir, "spool"),
		ZipPath:  cfg.ZipSource,
	}

	if !globals.Quiet {
		ui.Header("Draining set " + cfg.SetID)
		ui.Info(fmt.Sprintf("%d items remaining", count))
	}

	consumer := ami.NewConsumer(cfg, store, renderer, fetcher, q, logger)
	runStore := batch.NewRunStateStore(cfg.WorkDir)
	driver := batch.NewDriver(cfg.SetID, q, consumer, runStore, logger)

	summary := driveWithProgress(ctx, driver, *maxTicks, globals)
	reportSummary(summary, driver.State(), globals)
}
