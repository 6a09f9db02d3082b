// Copyright 2025 Esmero
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
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/esmero/ami/pkg/batch"
)

func runReset(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	keepObjects := fs.Bool("keep-objects", false, "Keep the object database, wipe only queue and run state")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ami reset [options]

Destroys the set's queue, run state, and spooled files so the next
'ami ingest' starts from a clean slate. The object database is deleted
too unless --keep-objects is passed.

WARNING: This operation is destructive and cannot be undone!

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		fmt.Fprintf(os.Stderr, "Error: you must pass --yes to confirm the reset\n")
		fmt.Fprintf(os.Stderr, "This will delete all queued work and run state for the set.\n")
		os.Exit(1)
	}

	cfg := loadSet(globals)

	if _, err := os.Stat(cfg.WorkDir); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No local data found for set %s\n", cfg.SetID)
		os.Exit(0)
	}

	fmt.Printf("Resetting set %s (work dir %s)...\n", cfg.SetID, cfg.WorkDir)

	// Destroy through the queue so a shared queue database only loses
	// this set's rows.
	q := openQueue(cfg, false, globals)
	if err := q.Destroy(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not destroy queue: %v\n", err)
	}
	q.Close()

	if err := batch.NewRunStateStore(cfg.WorkDir).Clear(cfg.SetID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not clear run state: %v\n", err)
	}
	if err := os.RemoveAll(filepath.Join(cfg.WorkDir, "spool")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not remove spool: %v\n", err)
	}
	if !*keepObjects {
		if err := os.Remove(filepath.Join(cfg.WorkDir, "objects.db")); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: could not remove object database: %v\n", err)
		}
	}

	fmt.Println("Reset complete.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  ami ingest    Re-run the set from its source")
}
