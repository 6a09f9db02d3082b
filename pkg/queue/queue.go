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

package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultLease is how long a claimed item stays invisible to other
// consumers before it becomes claimable again.
const DefaultLease = time.Hour

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Item is one claimed work item. Payload encoding is the caller's
// business; the queue never inspects it.
type Item struct {
	ID      int64
	Payload []byte
}

// Queue is an at-least-once, FIFO-by-insertion, multi-consumer work
// queue scoped to one ingest set.
//
// Claim leases exactly one item: concurrent claims never return the same
// item while its lease is live. Delete must only be called for an item
// the caller has claimed. Release returns a claimed item to the pool
// unchanged.
type Queue interface {
	// Create ensures the queue storage exists. Idempotent.
	Create(ctx context.Context) error

	// Enqueue appends an item and returns its id.
	Enqueue(ctx context.Context, payload []byte) (int64, error)

	// Claim leases the oldest available item. It does not block; ok is
	// false when the queue is empty or every item is leased.
	Claim(ctx context.Context) (item *Item, ok bool, err error)

	// Delete permanently removes a claimed item.
	Delete(ctx context.Context, id int64) error

	// Release returns a claimed item to the available pool.
	Release(ctx context.Context, id int64) error

	// Count returns the number of not-yet-deleted items, claimed or not.
	Count(ctx context.Context) (int, error)

	// Destroy removes the queue and all of its items.
	Destroy(ctx context.Context) error

	// Close releases backing resources without touching queue contents.
	Close() error
}
