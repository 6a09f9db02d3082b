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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esmero/ami/pkg/queue"
	"github.com/esmero/ami/pkg/tabular"
)

// Expander consumes a whole-source item, resolves it, and fans the
// surviving rows out as individual work items on the same queue.
type Expander struct {
	cfg    *SetConfig
	store  ObjectStore
	q      queue.Queue
	logger *slog.Logger
}

// NewExpander creates an expansion worker for one set.
func NewExpander(cfg *SetConfig, store ObjectStore, q queue.Queue, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{cfg: cfg, store: store, q: q, logger: logger}
}

// Expand processes one source item end to end and returns the number of
// items enqueued. Structural configuration problems and unreadable
// sources are logged and swallowed: the run has nothing to do, it did
// not crash.
func (e *Expander) Expand(ctx context.Context, wi *WorkItem) (int, error) {
	if wi.Csv == nil {
		return 0, fmt.Errorf("expand: item %s has no source payload", wi.Kind)
	}
	start := time.Now()

	table, err := tabular.Read(wi.Csv.SourcePath)
	if err != nil {
		e.logger.Error("ami.expand.source.unreadable",
			"set_id", e.cfg.SetID, "source", wi.Csv.SourcePath, "error", err)
		return 0, nil
	}

	resolver := NewResolver(e.cfg, e.store, e.logger)
	result, err := resolver.Resolve(ctx, table)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			e.logger.Warn("ami.expand.config.invalid",
				"set_id", e.cfg.SetID, "reason", cfgErr.Reason, "missing", cfgErr.Missing)
			return 0, nil
		}
		return 0, fmt.Errorf("resolve source: %w", err)
	}
	observeResolve(time.Since(start).Seconds())

	for i, reason := range result.Invalid {
		e.logger.Warn("ami.expand.row.invalid",
			"set_id", e.cfg.SetID, "row", i+2, "reason", string(reason))
	}

	var enqueued int
	switch e.cfg.Op {
	case OpAction:
		enqueued, err = e.enqueueActionChunks(ctx, e.cfg.Action.ID, e.cfg.Action.Config, result.Rows, true)
	case OpSync:
		enqueued, err = e.expandSync(ctx, result.Rows)
	default:
		enqueued, err = e.enqueueRecords(ctx, result.Rows, e.cfg.Op)
	}
	if err != nil {
		return enqueued, err
	}

	if enqueued == 0 {
		e.logger.Warn("ami.expand.empty",
			"set_id", e.cfg.SetID, "source", wi.Csv.SourcePath,
			"rows_read", table.Stats.RowsRead, "rows_invalid", len(result.Invalid))
	} else {
		e.logger.Info("ami.expand.complete",
			"set_id", e.cfg.SetID, "op", string(e.cfg.Op),
			"rows_resolved", len(result.Rows), "rows_invalid", len(result.Invalid),
			"cycles", result.Cycles, "items_enqueued", enqueued,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return enqueued, nil
}

// enqueueRecords emits one record item per row, preserving the
// resolver's parents-first order.
func (e *Expander) enqueueRecords(ctx context.Context, rows []Row, op OpMode) (int, error) {
	var enqueued int
	for _, row := range rows {
		item := &WorkItem{
			Kind:        KindRecord,
			SetID:       e.cfg.SetID,
			QueueName:   e.cfg.QueueName(),
			Attempt:     1,
			SubmittedAt: time.Now().UTC(),
			Record: &RecordItem{
				Row:         row,
				Op:          op,
				SecondaryOp: e.cfg.SecondaryOp,
				Status:      e.cfg.Status,
				UserID:      e.cfg.UserID,
				Safety:      e.cfg.Safety,
			},
		}
		if err := e.enqueue(ctx, item); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

// expandSync routes each row by its per-row directive: creates and
// updates become record items, deletes are pooled into action chunks.
func (e *Expander) expandSync(ctx context.Context, rows []Row) (int, error) {
	var (
		enqueued int
		deletes  []Row
	)
	for _, row := range rows {
		directive := strings.ToLower(strings.TrimSpace(row.Data[SyncColumn]))
		switch directive {
		case "", "create":
			if err := e.enqueueOneRecord(ctx, row, OpCreate); err != nil {
				return enqueued, err
			}
			enqueued++
		case "update":
			if err := e.enqueueOneRecord(ctx, row, OpUpdate); err != nil {
				return enqueued, err
			}
			enqueued++
		case "delete":
			deletes = append(deletes, row)
		default:
			e.logger.Warn("ami.expand.sync.directive.unknown",
				"set_id", e.cfg.SetID, "row", row.RowNumber(), "directive", directive)
		}
	}

	if len(deletes) > 0 {
		n, err := e.enqueueActionChunks(ctx, "delete", nil, deletes, false)
		enqueued += n
		if err != nil {
			return enqueued, err
		}
	}
	return enqueued, nil
}

func (e *Expander) enqueueOneRecord(ctx context.Context, row Row, op OpMode) error {
	return e.enqueue(ctx, &WorkItem{
		Kind:        KindRecord,
		SetID:       e.cfg.SetID,
		QueueName:   e.cfg.QueueName(),
		Attempt:     1,
		SubmittedAt: time.Now().UTC(),
		Record: &RecordItem{
			Row:    row,
			Op:     op,
			Status: e.cfg.Status,
			UserID: e.cfg.UserID,
			Safety: e.cfg.Safety,
		},
	})
}

// enqueueActionChunks access-checks every row's UUID (when checkAccess
// is set), then emits the survivors in fixed-size chunks. BatchTotal on
// every chunk carries the full survivor count so progress is reported
// against the whole action, not one chunk.
func (e *Expander) enqueueActionChunks(ctx context.Context, actionID string, config map[string]string, rows []Row, checkAccess bool) (int, error) {
	uuids := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.UUID == "" {
			continue
		}
		if checkAccess {
			allowed, err := e.store.AccessCheck(ctx, row.UUID, OpAction, e.cfg.UserID)
			if err != nil {
				return 0, fmt.Errorf("access check %s: %w", row.UUID, err)
			}
			if !allowed {
				e.logger.Warn("ami.expand.action.denied",
					"set_id", e.cfg.SetID, "row", row.RowNumber(), "uuid", row.UUID)
				continue
			}
		}
		uuids = append(uuids, row.UUID)
	}

	size := e.cfg.ActionBatchSize
	var enqueued int
	for off := 0; off < len(uuids); off += size {
		end := off + size
		if end > len(uuids) {
			end = len(uuids)
		}
		item := &WorkItem{
			Kind:        KindAction,
			SetID:       e.cfg.SetID,
			QueueName:   e.cfg.QueueName(),
			Attempt:     1,
			SubmittedAt: time.Now().UTC(),
			Action: &ActionItem{
				ActionID:   actionID,
				Config:     config,
				UUIDs:      uuids[off:end],
				BatchTotal: len(uuids),
			},
		}
		if err := e.enqueue(ctx, item); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

func (e *Expander) enqueue(ctx context.Context, wi *WorkItem) error {
	payload, err := EncodeItem(wi)
	if err != nil {
		return err
	}
	if _, err := e.q.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("enqueue %s item: %w", wi.Kind, err)
	}
	recordEnqueued(1)
	return nil
}
