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

package ami

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemKind discriminates the WorkItem payload union.
type ItemKind string

const (
	KindCsv    ItemKind = "csv"
	KindRecord ItemKind = "record"
	KindAction ItemKind = "action"
)

// WorkItem is the queue payload: one of CsvItem, RecordItem, or
// ActionItem, plus bookkeeping.
type WorkItem struct {
	Kind        ItemKind  `json:"kind"`
	SetID       string    `json:"set_id"`
	QueueName   string    `json:"queue_name"`
	Attempt     int       `json:"attempt"`
	SubmittedAt time.Time `json:"submitted_at"`

	Csv    *CsvItem    `json:"csv,omitempty"`
	Record *RecordItem `json:"record,omitempty"`
	Action *ActionItem `json:"action,omitempty"`
}

// CsvItem references a whole tabular source awaiting expansion.
type CsvItem struct {
	SourcePath string `json:"source_path"`
	ZipPath    string `json:"zip_path,omitempty"`
}

// RecordItem carries one resolved row plus the flags its ingest needs.
type RecordItem struct {
	Row         Row    `json:"row"`
	Op          OpMode `json:"op"`
	SecondaryOp OpMode `json:"secondary_op,omitempty"`
	Status      string `json:"status,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Safety      Safety `json:"safety"`
}

// ActionItem carries one chunk of UUIDs for a named action.
type ActionItem struct {
	ActionID   string            `json:"action_id"`
	Config     map[string]string `json:"config,omitempty"`
	UUIDs      []string          `json:"uuids"`
	BatchTotal int               `json:"batch_total"`
}

// EncodeItem serializes a WorkItem for the queue.
func EncodeItem(wi *WorkItem) ([]byte, error) {
	data, err := json.Marshal(wi)
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}
	return data, nil
}

// DecodeItem deserializes a queue payload.
func DecodeItem(payload []byte) (*WorkItem, error) {
	var wi WorkItem
	if err := json.Unmarshal(payload, &wi); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if wi.Kind == "" {
		return nil, fmt.Errorf("decode work item: missing kind")
	}
	return &wi, nil
}
