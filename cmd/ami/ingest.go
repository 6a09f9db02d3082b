// Copyright 2025 Esmero
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/esmero/ami/internal/errors"
	"github.com/esmero/ami/internal/output"
	"github.com/esmero/ami/internal/ui"
	"github.com/esmero/ami/pkg/ami"
	"github.com/esmero/ami/pkg/batch"
)

// runIngest executes the 'ingest' CLI command: seed the set's queue with
// its source and drain it until the run finishes.
//
// Flags:
//   - --mem: use an in-memory queue (fast, but the run cannot resume)
//   - --debug: enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//   - --max-ticks: stop after N queue ticks (0 = drain to completion)
//
// Examples:
//
//	ami ingest                    Ingest the set described by set.yaml
//	ami ingest --mem              One-shot run with an in-memory queue
//	ami ingest --metrics-addr :9464
func runIngest(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	mem := fs.Bool("mem", false, "Use an in-memory queue (run cannot resume)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	maxTicks := fs.Int("max-ticks", 0, "Stop after N queue ticks (0 = drain to completion)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ami ingest [options]

Reads the set's delimited source, resolves parent references between
rows, and processes the resulting work queue until it is empty. Queue
state and run progress live under the set's work directory, so an
interrupted run resumes with 'ami drain'.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadSet(globals)
	ensureWorkDir(cfg, globals)
	logger, closeReport := setLogger(cfg, globals, *debug)
	defer closeReport()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	q := openQueue(cfg, *mem, globals)
	defer q.Close()
	store := openStore(cfg, globals)
	defer store.Close()

	if err := q.Create(ctx); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot initialize the AMI queue database",
			err.Error(),
			"Close other AMI instances or run: ami reset --yes",
			err,
		), globals.JSON)
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

	seed := &ami.WorkItem{
		Kind:        ami.KindCsv,
		SetID:       cfg.SetID,
		QueueName:   cfg.QueueName(),
		Attempt:     1,
		SubmittedAt: time.Now().UTC(),
		Csv:         &ami.CsvItem{SourcePath: cfg.Source, ZipPath: cfg.ZipSource},
	}
	payload, err := ami.EncodeItem(seed)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot encode the seed work item",
			err.Error(),
			"This is a bug. Please report it at github.com/esmero/ami/issues",
			err,
		), globals.JSON)
	}
	if _, err := q.Enqueue(ctx, payload); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot enqueue the source item",
			err.Error(),
			"Close other AMI instances or run: ami reset --yes",
			err,
		), globals.JSON)
	}

	if !globals.Quiet {
		ui.Header("Ingesting set " + cfg.SetID)
		ui.Info(fmt.Sprintf("Source: %s (op: %s)", cfg.Source, cfg.Op))
	}

	consumer := ami.NewConsumer(cfg, store, renderer, fetcher, q, logger)
	runStore := batch.NewRunStateStore(cfg.WorkDir)
	driver := batch.NewDriver(cfg.SetID, q, consumer, runStore, logger)

	summary := driveWithProgress(ctx, driver, *maxTicks, globals)
	reportSummary(summary, driver.State(), globals)
}

// driveWithProgress ticks the driver to completion, feeding a progress
// bar from the run's counters.
func driveWithProgress(ctx context.Context, driver *batch.Driver, maxTicks int, globals GlobalFlags) *batch.Summary {
	pcfg := NewProgressConfig(globals)
	bar := NewProgressBar(pcfg, 1, "ingesting")

	ticks := 0
	for driver.State() == batch.Running {
		if ctx.Err() != nil {
			break
		}
		if maxTicks > 0 && ticks >= maxTicks {
			break
		}
		if _, err := driver.Tick(ctx); err != nil {
			errors.FatalError(errors.NewDatabaseError(
				"Queue operation failed mid-run",
				err.Error(),
				"Re-run 'ami drain' to resume, or 'ami reset --yes' to start over",
				err,
			), globals.JSON)
		}
		ticks++

		if bar != nil {
			p := driver.Progress()
			if p.Max > 0 {
				bar.ChangeMax(p.Max)
				_ = bar.Set(p.Processed)
			}
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return driver.Summary()
}

// reportSummary prints the run outcome in the requested format.
func reportSummary(summary *batch.Summary, state batch.State, globals GlobalFlags) {
	if globals.JSON {
		payload := struct {
			*batch.Summary
			State string `json:"state"`
		}{summary, state.String()}
		if err := output.JSON(payload); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	fmt.Println()
	if state == batch.Finished {
		ui.Success(fmt.Sprintf("Set %s finished: %d items processed", summary.SetID, summary.Processed))
	} else {
		ui.Info(fmt.Sprintf("Set %s paused: %d items processed so far", summary.SetID, summary.Processed))
		fmt.Println("Resume with: ami drain")
	}
	for _, msg := range summary.Errors {
		ui.Warning(msg)
	}
	if len(summary.Errors) > 0 {
		os.Exit(errors.ExitInternal)
	}
}
