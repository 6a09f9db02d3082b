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
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/esmero/ami/pkg/queue"
)

// Disposition is the consumer's verdict on one claimed item.
type Disposition int

const (
	// Done means the item was handled; the driver deletes it.
	Done Disposition = iota

	// Requeue means a transient condition blocked the item; the driver
	// releases it so a later tick can retry.
	Requeue

	// Suspend means a batch-wide fatal condition; the driver releases
	// the item, records the error, and finishes the run early.
	Suspend
)

// Consumer processes one claimed item. Returning a non-nil error with
// Done is the "unexpected error" path: the driver records the message
// and leaves the item leased in place for inspection.
type Consumer func(ctx context.Context, item *queue.Item) (Disposition, error)

// State is the driver's run state.
type State int

const (
	Running State = iota
	Finished
)

func (s State) String() string {
	if s == Finished {
		return "finished"
	}
	return "running"
}

// Summary is the aggregate result reported when a run finishes.
type Summary struct {
	SetID     string   `json:"set_id"`
	Processed int      `json:"processed"`
	Errors    []string `json:"errors,omitempty"`
}

// Driver drains one set's queue, one item per tick.
type Driver struct {
	setID    string
	q        queue.Queue
	consumer Consumer
	store    *RunStateStore // optional
	logger   *slog.Logger

	state    State
	progress *Progress
}

// NewDriver creates a driver for the given set. The store may be nil,
// in which case progress lives only in memory.
func NewDriver(setID string, q queue.Queue, consumer Consumer, store *RunStateStore, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	progress := &Progress{SetID: setID, StartedAt: time.Now()}
	if store != nil {
		if prior, err := store.Load(setID); err != nil {
			logger.Warn("batch.runstate.load.error", "set_id", setID, "err", err)
		} else if prior != nil {
			progress = prior
		}
	}

	return &Driver{
		setID:    setID,
		q:        q,
		consumer: consumer,
		store:    store,
		logger:   logger,
		state:    Running,
		progress: progress,
	}
}

// State returns the current run state.
func (d *Driver) State() State {
	return d.state
}

// Progress returns the live progress counters.
func (d *Driver) Progress() *Progress {
	return d.progress
}

// Tick claims and processes at most one item. It returns the state after
// the tick; once Finished, further ticks are no-ops.
func (d *Driver) Tick(ctx context.Context) (State, error) {
	if d.state == Finished {
		return d.state, nil
	}

	count, err := d.q.Count(ctx)
	if err != nil {
		return d.state, fmt.Errorf("count queue: %w", err)
	}
	d.progress.RaiseMax(count)

	item, ok, err := d.q.Claim(ctx)
	if err != nil {
		return d.state, fmt.Errorf("claim item: %w", err)
	}
	if !ok {
		d.progress.FinishedFraction = 1
		return d.finish(ctx), nil
	}

	disposition, consumeErr := d.consumer(ctx, item)
	switch {
	case disposition == Suspend:
		if err := d.q.Release(ctx, item.ID); err != nil {
			d.logger.Warn("batch.release.error", "set_id", d.setID, "item_id", item.ID, "err", err)
		}
		msg := "batch suspended"
		if consumeErr != nil {
			msg = consumeErr.Error()
		}
		d.progress.Errors = append(d.progress.Errors, msg)
		d.progress.FinishedFraction = 1
		d.logger.Error("batch.suspend", "set_id", d.setID, "item_id", item.ID, "err", msg)
		return d.finish(ctx), nil

	case consumeErr != nil:
		// Unexpected error: the item stays leased, neither deleted nor
		// released, so an operator can inspect it and a later run can
		// retry it after the lease lapses.
		d.progress.Errors = append(d.progress.Errors, consumeErr.Error())
		d.logger.Error("batch.item.error", "set_id", d.setID, "item_id", item.ID, "err", consumeErr)

	case disposition == Requeue:
		if err := d.q.Release(ctx, item.ID); err != nil {
			d.logger.Warn("batch.release.error", "set_id", d.setID, "item_id", item.ID, "err", err)
		}

	default: // Done
		if err := d.q.Delete(ctx, item.ID); err != nil {
			d.logger.Warn("batch.delete.error", "set_id", d.setID, "item_id", item.ID, "err", err)
		}
		d.progress.Processed++
		remaining, err := d.q.Count(ctx)
		if err != nil {
			d.logger.Warn("batch.count.error", "set_id", d.setID, "err", err)
		} else {
			d.progress.Update(remaining)
		}
	}

	d.persist()
	return d.state, nil
}

// Drain ticks until the run finishes or ctx is canceled, then returns
// the summary. maxTicks <= 0 means unbounded.
func (d *Driver) Drain(ctx context.Context, maxTicks int) (*Summary, error) {
	ticks := 0
	for d.state == Running {
		if err := ctx.Err(); err != nil {
			return d.Summary(), err
		}
		if maxTicks > 0 && ticks >= maxTicks {
			break
		}
		if _, err := d.Tick(ctx); err != nil {
			return d.Summary(), err
		}
		ticks++
	}
	return d.Summary(), nil
}

// Summary returns the aggregate counters for reporting.
func (d *Driver) Summary() *Summary {
	return &Summary{
		SetID:     d.setID,
		Processed: d.progress.Processed,
		Errors:    append([]string(nil), d.progress.Errors...),
	}
}

// finish transitions to Finished, reports, and destroys the queue. The
// destroy is unconditional: the queue is scoped to exactly this run, and
// leaving drained per-set queues behind just accumulates stale storage.
func (d *Driver) finish(ctx context.Context) State {
	d.state = Finished
	d.persist()

	d.logger.Info("batch.finished",
		"set_id", d.setID,
		"processed", d.progress.Processed,
		"errors", len(d.progress.Errors),
	)
	for _, msg := range d.progress.Errors {
		d.logger.Warn("batch.finished.error", "set_id", d.setID, "err", msg)
	}

	if err := d.q.Destroy(ctx); err != nil {
		d.logger.Warn("batch.destroy.error", "set_id", d.setID, "err", err)
	}
	return d.state
}

func (d *Driver) persist() {
	if d.store == nil {
		return
	}
	if err := d.store.Save(d.progress); err != nil {
		d.logger.Warn("batch.runstate.save.error", "set_id", d.setID, "err", err)
	}
}
