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

package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Progress tracks one batch run's counters. Max only ever rises; the
// finished fraction is derived from Max and the queue's remaining count.
type Progress struct {
	SetID            string    `json:"set_id"`
	Max              int       `json:"max"`
	Processed        int       `json:"processed"`
	Errors           []string  `json:"errors,omitempty"`
	FinishedFraction float64   `json:"finished_fraction"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RaiseMax lifts Max to count when the queue grew; Max is never lowered,
// so the fraction cannot run backwards when expansion adds items
// mid-run.
func (p *Progress) RaiseMax(count int) {
	if count > p.Max {
		p.Max = count
	}
}

// Update recomputes the finished fraction from the remaining queue
// depth.
func (p *Progress) Update(remaining int) {
	if p.Max <= 0 {
		p.FinishedFraction = 1
		return
	}
	p.FinishedFraction = float64(p.Max-remaining) / float64(p.Max)
	if p.FinishedFraction < 0 {
		p.FinishedFraction = 0
	}
	if p.FinishedFraction > 1 {
		p.FinishedFraction = 1
	}
}

// RunStateStore persists Progress across process restarts, one JSON file
// per set under dir.
type RunStateStore struct {
	dir string
}

// NewRunStateStore creates a store rooted at dir.
func NewRunStateStore(dir string) *RunStateStore {
	return &RunStateStore{dir: dir}
}

// Load reads the persisted progress for a set. A missing file yields
// (nil, nil): the run simply has no prior state.
func (s *RunStateStore) Load(setID string) (*Progress, error) {
	data, err := os.ReadFile(s.path(setID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse run state: %w", err)
	}
	return &p, nil
}

// Save writes progress atomically (temp file + rename) so a crash
// mid-write never leaves a torn state file.
func (s *RunStateStore) Save(p *Progress) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create run state dir: %w", err)
	}

	p.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	path := s.path(p.SetID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write run state temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename run state: %w", err)
	}
	return nil
}

// Clear removes a set's run state file.
func (s *RunStateStore) Clear(setID string) error {
	if err := os.Remove(s.path(setID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove run state: %w", err)
	}
	return nil
}

func (s *RunStateStore) path(setID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("runstate-%s.json", setID))
}
