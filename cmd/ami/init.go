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
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/esmero/ami/pkg/ami"
)

// runInit executes the 'init' CLI command, creating a starter set
// configuration file.
//
// Flags:
//   - --force: Overwrite an existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --set-id: Set identifier (default: directory name)
//   - --source: Path to the delimited source file (default: objects.csv)
//   - --op: Operation mode: create, update, patch, sync, action
//
// Examples:
//
//	ami init                       Interactive setup
//	ami init -y                    Use all defaults
//	ami init --source data.csv --op update
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite existing configuration")
	yes := fs.Bool("y", false, "Non-interactive mode, use all defaults")
	setID := fs.String("set-id", "", "Set identifier (default: directory name)")
	source := fs.String("source", "objects.csv", "Path to the delimited source file")
	op := fs.String("op", "create", "Operation mode (create, update, patch, sync, action)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ami init [options]

Writes a starter set configuration (set.yaml by default, or the path
given with --set) describing one ingestion run: the source file, the
operation mode, and the column mapping.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := globals.SetPath
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", path)
		os.Exit(1)
	}

	id := *setID
	if id == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
			os.Exit(1)
		}
		id = filepath.Base(cwd)
	}

	cfg := &ami.SetConfig{
		SetID:  id,
		Source: *source,
		Op:     ami.OpMode(*op),
		AdoMapping: ami.AdoMapping{
			UUIDColumn:    "node_uuid",
			TypeColumn:    "type",
			ParentColumns: []string{"ismemberof", "ispartof"},
			FileColumns:   map[string][]string{"*": {"images", "documents"}},
		},
	}
	cfg.ApplyDefaults()

	if !*yes {
		reader := bufio.NewReader(os.Stdin)
		cfg.SetID = prompt(reader, "Set id", cfg.SetID)
		cfg.Source = prompt(reader, "Source file", cfg.Source)
		cfg.Op = ami.OpMode(prompt(reader, "Operation (create/update/patch/sync/action)", string(cfg.Op)))
		cfg.AdoMapping.UUIDColumn = prompt(reader, "UUID column", cfg.AdoMapping.UUIDColumn)
		cfg.AdoMapping.TypeColumn = prompt(reader, "Type column", cfg.AdoMapping.TypeColumn)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Point 'source' at your CSV:  %s\n", cfg.Source)
	fmt.Println("  2. Adjust the column mapping under 'adomapping'")
	fmt.Println("  3. Run the ingest:              ami ingest")
}

// prompt reads one line with a default.
func prompt(reader *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
