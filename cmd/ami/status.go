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

	"github.com/esmero/ami/internal/errors"
	"github.com/esmero/ami/internal/output"
	"github.com/esmero/ami/internal/ui"
	"github.com/esmero/ami/pkg/batch"
)

// setStatus is the status report for one set.
type setStatus struct {
	SetID       string          `json:"set_id"`
	Source      string          `json:"source"`
	Op          string          `json:"op"`
	WorkDir     string          `json:"workdir"`
	QueueDepth  int             `json:"queue_depth"`
	RunState    *batch.Progress `json:"run_state,omitempty"`
	HasRunState bool            `json:"has_run_state"`
}

// runStatus executes the 'status' CLI command, reporting queue depth and
// run state for the set.
func runStatus(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: ami status [--json]

Shows the set's queue depth and stored run progress. Pair with --json
for machine consumption.
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadSet(globals)

	st := setStatus{
		SetID:   cfg.SetID,
		Source:  cfg.Source,
		Op:      string(cfg.Op),
		WorkDir: cfg.WorkDir,
	}

	// A set that never ran has no queue database; that is a valid state,
	// not an error.
	if _, err := os.Stat(cfg.WorkDir); err == nil {
		q := openQueue(cfg, false, globals)
		defer q.Close()
		depth, err := q.Count(context.Background())
		if err != nil {
			errors.FatalError(errors.NewDatabaseError(
				"Cannot read the AMI queue database",
				err.Error(),
				"Close other AMI instances or run: ami reset --yes",
				err,
			), globals.JSON)
		}
		st.QueueDepth = depth

		progress, err := batch.NewRunStateStore(cfg.WorkDir).Load(cfg.SetID)
		if err == nil && progress != nil {
			st.RunState = progress
			st.HasRunState = true
		}
	}

	if globals.JSON {
		if err := output.JSON(st); err != nil {
			errors.FatalError(err, true)
		}
		return
	}

	ui.Header("AMI Set Status")
	fmt.Printf("%s %s\n", ui.Label("Set ID:"), st.SetID)
	fmt.Printf("%s %s\n", ui.Label("Source:"), st.Source)
	fmt.Printf("%s %s\n", ui.Label("Operation:"), st.Op)
	fmt.Printf("%s %s\n", ui.Label("Work dir:"), st.WorkDir)
	fmt.Printf("%s %s\n", ui.Label("Queue depth:"), ui.CountText(st.QueueDepth))
	if st.HasRunState {
		fmt.Printf("%s %d/%d processed (%.0f%%), %d errors\n",
			ui.Label("Run state:"),
			st.RunState.Processed, st.RunState.Max,
			st.RunState.FinishedFraction*100, len(st.RunState.Errors))
	} else {
		fmt.Printf("%s %s\n", ui.Label("Run state:"), ui.DimText("none"))
	}
}
