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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/esmero/ami/pkg/batch"
	"github.com/esmero/ami/pkg/queue"
)

// RecordWorker ingests one resolved row at a time: render metadata,
// resolve files, link parents, persist. It also applies action chunks.
//
// Failure policy: missing parent dependencies get a bounded requeue;
// content failures (render, conflict, vanished target) are permanent and
// drop the item with a log entry; a dead store suspends the whole batch.
type RecordWorker struct {
	cfg      *SetConfig
	store    ObjectStore
	renderer MetadataRenderer
	fetcher  FileFetcher
	q        queue.Queue
	logger   *slog.Logger
}

// NewRecordWorker creates an ingest worker for one set.
func NewRecordWorker(cfg *SetConfig, store ObjectStore, renderer MetadataRenderer, fetcher FileFetcher, q queue.Queue, logger *slog.Logger) *RecordWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordWorker{cfg: cfg, store: store, renderer: renderer, fetcher: fetcher, q: q, logger: logger}
}

// Process handles one record or action item.
func (w *RecordWorker) Process(ctx context.Context, wi *WorkItem) (batch.Disposition, error) {
	switch {
	case wi.Kind == KindRecord && wi.Record != nil:
		return w.processRecord(ctx, wi)
	case wi.Kind == KindAction && wi.Action != nil:
		return w.processAction(ctx, wi)
	default:
		return batch.Done, fmt.Errorf("record worker cannot handle %s item", wi.Kind)
	}
}

func (w *RecordWorker) processRecord(ctx context.Context, wi *WorkItem) (batch.Disposition, error) {
	start := time.Now()
	rec := wi.Record
	row := rec.Row

	// Parents must already exist so children can link by entity id.
	parentIDs, missing, err := w.loadParents(ctx, row)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return batch.Suspend, err
		}
		return batch.Done, err
	}
	if len(missing) > 0 {
		return w.retryOrDrop(ctx, wi, missing)
	}

	var previous *ObjectRecord
	if rec.Op == OpUpdate || rec.Op == OpPatch {
		previous, err = w.store.LoadByUUID(ctx, row.UUID)
		if err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				return batch.Suspend, err
			}
			return batch.Done, fmt.Errorf("load %s: %w", row.UUID, err)
		}
		if previous == nil {
			w.logger.Warn("ami.record.target.vanished",
				"set_id", wi.SetID, "row", row.RowNumber(), "uuid", row.UUID)
			recordDropped()
			return batch.Done, nil
		}
	}

	rendered, err := w.renderer.Render(ctx, row, previous)
	if err != nil || !json.Valid(rendered) {
		if err == nil {
			err = fmt.Errorf("renderer produced invalid JSON")
		}
		w.logger.Error("ami.record.render.failed",
			"set_id", wi.SetID, "row", row.RowNumber(), "uuid", row.UUID, "error", err)
		recordRenderError()
		return batch.Done, nil
	}

	var body map[string]any
	if err := json.Unmarshal(rendered, &body); err != nil {
		w.logger.Error("ami.record.render.failed",
			"set_id", wi.SetID, "row", row.RowNumber(), "uuid", row.UUID, "error", err)
		recordRenderError()
		return batch.Done, nil
	}

	w.attachFiles(ctx, wi, row, body)

	// Link by entity id, not UUID: the target store's relationship
	// fields reference numeric entity ids.
	for pc, id := range parentIDs {
		body[pc] = id
	}

	status := rec.Status
	if status == "" {
		status = row.Data["status"]
	}
	obj := &ObjectRecord{UUID: row.UUID, Body: body, Status: status}

	if err := w.persist(ctx, wi, obj, rec.Op); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return batch.Suspend, err
		}
		return batch.Done, err
	}

	observeRecord(time.Since(start).Seconds())
	return batch.Done, nil
}

// loadParents resolves every non-empty parent reference to its entity
// id. The missing list names parent columns whose target does not exist
// yet.
func (w *RecordWorker) loadParents(ctx context.Context, row Row) (map[string]int64, []string, error) {
	ids := make(map[string]int64)
	var missing []string
	for pc, parentUUID := range row.ParentRefs {
		if parentUUID == "" {
			continue
		}
		parent, err := w.store.LoadByUUID(ctx, parentUUID)
		if err != nil {
			return nil, nil, fmt.Errorf("load parent %s: %w", parentUUID, err)
		}
		if parent == nil {
			missing = append(missing, pc)
			continue
		}
		ids[pc] = parent.ID
	}
	return ids, missing, nil
}

// retryOrDrop requeues a copy of the item with its attempt counter
// bumped, or drops it once the attempt budget is spent. Both paths
// return Done: the claimed item itself is always consumed.
func (w *RecordWorker) retryOrDrop(ctx context.Context, wi *WorkItem, missing []string) (batch.Disposition, error) {
	row := wi.Record.Row
	if wi.Attempt >= w.cfg.MaxAttempts {
		w.logger.Error("ami.record.dependency.exhausted",
			"set_id", wi.SetID, "row", row.RowNumber(), "uuid", row.UUID,
			"missing", strings.Join(missing, ","), "attempts", wi.Attempt)
		recordDropped()
		return batch.Done, nil
	}

	retry := *wi
	retry.Attempt = wi.Attempt + 1
	payload, err := EncodeItem(&retry)
	if err != nil {
		return batch.Done, err
	}
	if _, err := w.q.Enqueue(ctx, payload); err != nil {
		return batch.Done, fmt.Errorf("requeue row %d: %w", row.RowNumber(), err)
	}
	w.logger.Warn("ami.record.dependency.missing",
		"set_id", wi.SetID, "row", row.RowNumber(), "uuid", row.UUID,
		"missing", strings.Join(missing, ","), "attempt", wi.Attempt)
	recordRequeued()
	return batch.Done, nil
}

// attachFiles resolves the row's file tokens and writes the resulting
// identifiers into the body under the file column's name. Unresolvable
// tokens are logged and skipped, never fatal.
func (w *RecordWorker) attachFiles(ctx context.Context, wi *WorkItem, row Row, body map[string]any) {
	if w.fetcher == nil {
		return
	}
	columns := append([]string{}, w.cfg.AdoMapping.FileColumns["*"]...)
	columns = append(columns, w.cfg.AdoMapping.FileColumns[row.Type]...)

	for _, col := range columns {
		cell := strings.TrimSpace(row.Data[col])
		if cell == "" {
			continue
		}
		var resolved []string
		for _, token := range strings.Split(cell, ";") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			id, err := w.fetcher.Fetch(ctx, token)
			if err != nil || id == "" {
				w.logger.Warn("ami.record.file.unresolved",
					"set_id", wi.SetID, "row", row.RowNumber(), "column", col,
					"token", token, "error", err)
				recordFileMissing()
				continue
			}
			resolved = append(resolved, id)
			recordFileResolved()
		}
		if len(resolved) > 0 {
			body[col] = resolved
		}
	}
}

func (w *RecordWorker) persist(ctx context.Context, wi *WorkItem, obj *ObjectRecord, op OpMode) error {
	row := wi.Record.Row
	switch op {
	case OpCreate:
		err := w.store.Create(ctx, obj)
		if errors.Is(err, ErrObjectExists) {
			w.logger.Warn("ami.record.create.conflict",
				"set_id", wi.SetID, "row", row.RowNumber(), "uuid", obj.UUID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", obj.UUID, err)
		}
		recordCreated()
		w.logger.Info("ami.record.created",
			"set_id", wi.SetID, "row", row.RowNumber(), "uuid", obj.UUID)
	case OpUpdate, OpPatch:
		if err := w.store.Update(ctx, obj, op); err != nil {
			return fmt.Errorf("%s %s: %w", op, obj.UUID, err)
		}
		recordUpdated()
		w.logger.Info("ami.record.updated",
			"set_id", wi.SetID, "row", row.RowNumber(), "uuid", obj.UUID, "op", string(op))
	default:
		return fmt.Errorf("unsupported persist operation %q", op)
	}
	return nil
}

func (w *RecordWorker) processAction(ctx context.Context, wi *WorkItem) (batch.Disposition, error) {
	act := wi.Action
	err := w.store.ApplyAction(ctx, act.ActionID, act.UUIDs, act.Config)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return batch.Suspend, err
		}
		w.logger.Error("ami.action.failed",
			"set_id", wi.SetID, "action", act.ActionID,
			"chunk_size", len(act.UUIDs), "batch_total", act.BatchTotal, "error", err)
		return batch.Done, nil
	}
	recordActionApplied()
	w.logger.Info("ami.action.applied",
		"set_id", wi.SetID, "action", act.ActionID,
		"chunk_size", len(act.UUIDs), "batch_total", act.BatchTotal)
	return batch.Done, nil
}
