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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/esmero/ami/internal/errors"
	"github.com/esmero/ami/pkg/ami"
	"github.com/esmero/ami/pkg/queue"
)

// loadSet reads the set configuration named by --set and resolves its
// work directory. Fatal on any problem: no command can run without it.
func loadSet(globals GlobalFlags) *ami.SetConfig {
	cfg, err := ami.LoadSetConfig(globals.SetPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load set configuration",
			err.Error(),
			"Run 'ami init' to create a starter set.yaml, or pass --set <path>",
			err,
		), globals.JSON)
	}

	if cfg.WorkDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			errors.FatalError(errors.NewConfigError(
				"Cannot resolve the set work directory",
				"No workdir is configured and the home directory is unknown",
				"Set 'workdir' in the set configuration",
				err,
			), globals.JSON)
		}
		cfg.WorkDir = filepath.Join(home, ".ami", cfg.SetID)
	}
	return cfg
}

// ensureWorkDir creates the set's work directory tree.
func ensureWorkDir(cfg *ami.SetConfig, globals GlobalFlags) {
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot create the set work directory",
			"Permission denied for "+cfg.WorkDir,
			"Run with appropriate permissions or change 'workdir' in the set configuration",
			err,
		), globals.JSON)
	}
}

// openQueue opens the set's work queue: SQLite under the work directory,
// or an in-memory queue when mem is set.
func openQueue(cfg *ami.SetConfig, mem bool, globals GlobalFlags) queue.Queue {
	if mem {
		return queue.NewMemoryQueue(queue.DefaultLease)
	}
	q, err := queue.OpenSQLite(filepath.Join(cfg.WorkDir, "queue.db"), cfg.QueueName(), queue.DefaultLease)
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open the AMI queue database",
			err.Error(),
			"Close other AMI instances or run: ami reset --yes",
			err,
		), globals.JSON)
	}
	return q
}

// openStore opens the set's local object database.
func openStore(cfg *ami.SetConfig, globals GlobalFlags) *ami.SQLiteStore {
	store, err := ami.OpenSQLiteStore(filepath.Join(cfg.WorkDir, "objects.db"))
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open the object database",
			err.Error(),
			"Close other AMI instances or run: ami reset --yes",
			err,
		), globals.JSON)
	}
	return store
}

// newLogger builds the command's slog logger from the global flags.
func newLogger(globals GlobalFlags, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || globals.Verbose > 0 {
		level = slog.LevelDebug
	}
	if globals.Quiet {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// setLogger builds the command logger and attaches the set's report
// file: JSON lines appended to <workdir>/report.log, so every run
// leaves a reviewable per-set record regardless of terminal verbosity.
// Falls back to stderr-only logging when the file cannot be opened.
func setLogger(cfg *ami.SetConfig, globals GlobalFlags, debug bool) (*slog.Logger, func()) {
	base := newLogger(globals, debug)
	f, err := os.OpenFile(filepath.Join(cfg.WorkDir, "report.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		base.Warn("report.open.failed", "path", filepath.Join(cfg.WorkDir, "report.log"), "error", err)
		return base, func() {}
	}
	report := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(teeHandler{term: base.Handler(), report: report})
	slog.SetDefault(logger)
	return logger, func() { _ = f.Close() }
}

// teeHandler fans one record out to the terminal handler and the
// per-set report file, each honoring its own level.
type teeHandler struct {
	term   slog.Handler
	report slog.Handler
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.term.Enabled(ctx, level) || t.report.Enabled(ctx, level)
}

func (t teeHandler) Handle(ctx context.Context, rec slog.Record) error {
	if t.term.Enabled(ctx, rec.Level) {
		_ = t.term.Handle(ctx, rec.Clone())
	}
	if t.report.Enabled(ctx, rec.Level) {
		return t.report.Handle(ctx, rec)
	}
	return nil
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{term: t.term.WithAttrs(attrs), report: t.report.WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{term: t.term.WithGroup(name), report: t.report.WithGroup(name)}
}
