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

// Package main implements the AMI CLI for batch-ingesting tabular
// metadata sources into an object repository.
//
// Usage:
//
//	ami init                       Create a starter set configuration
//	ami ingest [--mem] [--debug]   Run a set's ingestion end to end
//	ami drain [--max-ticks N]      Resume draining a set's queue
//	ami status [--json]            Show a set's queue and run state
//	ami reset --yes                Destroy a set's queue and run state
package main

import (
	"flag"
	"fmt"
	"os"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries the options every command honors.
type GlobalFlags struct {
	// SetPath is the set configuration file to operate on.
	SetPath string

	// JSON switches machine-readable output on (implies Quiet).
	JSON bool

	// Quiet suppresses progress bars and informational chatter.
	Quiet bool

	// NoColor disables colored terminal output.
	NoColor bool

	// Verbose raises log verbosity (0 = info, 1+ = debug).
	Verbose int
}

// main is the entry point for the AMI CLI.
//
// It parses global flags and dispatches to command handlers.
func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		setPath     = flag.String("set", "set.yaml", "Path to the set configuration file")
		jsonOut     = flag.Bool("json", false, "Machine-readable JSON output")
		quiet       = flag.Bool("quiet", false, "Suppress progress output")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
		verbose     = flag.Int("v", 0, "Log verbosity (0=info, 1=debug)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `AMI - Archipelago Metadata Importer

AMI turns spreadsheets into digital objects. It reads a delimited
source, resolves parent/child references between rows, and drains the
resulting work queue into an object store one record at a time, with
resumable progress tracking.

Usage:
  ami <command> [options]

Commands:
  init     Create a starter set configuration (set.yaml)
  ingest   Enqueue a set's source and drain it end to end
  drain    Resume draining an existing queue without reseeding
  status   Show queue depth and run state for a set
  reset    Destroy the set's queue, run state, and spool (destructive!)

Global Options:
  --set       Path to the set configuration file (default: set.yaml)
  --json      Machine-readable JSON output
  --quiet     Suppress progress output
  --no-color  Disable colored output
  --version   Show version and exit

Examples:
  ami init                           Write a starter set.yaml
  ami ingest                         Ingest the set described by set.yaml
  ami ingest --mem                   Use an in-memory queue (no resume)
  ami status --json                  Run state as JSON
  ami reset --yes                    Wipe everything for this set

Getting Started:
  1. Create a configuration:  ami init
  2. Edit set.yaml:           point it at your CSV and column mapping
  3. Run the ingest:          ami ingest
  4. Check progress:          ami status

Data Storage:
  Each set keeps its queue, object database, run state, and spooled
  files under its work directory (default: ~/.ami/<set_id>/).

For detailed command help: ami <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("ami version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	globals := GlobalFlags{
		SetPath: *setPath,
		JSON:    *jsonOut,
		Quiet:   *quiet || *jsonOut,
		NoColor: *noColor,
		Verbose: *verbose,
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "ingest":
		runIngest(cmdArgs, globals)
	case "drain":
		runDrain(cmdArgs, globals)
	case "status":
		runStatus(cmdArgs, globals)
	case "reset":
		runReset(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
