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
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and --mem runs. It is
// safe for concurrent use but obviously not durable.
type MemoryQueue struct {
	mu     sync.Mutex
	lease  time.Duration
	nextID int64
	items  []*memItem
	closed bool

	now func() time.Time // overridable for lease-expiry tests
}

type memItem struct {
	id           int64
	payload      []byte
	claimedUntil time.Time
}

// NewMemoryQueue creates an empty in-memory queue with the given lease
// duration (DefaultLease when zero).
func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryQueue{lease: lease, now: time.Now}
}

// Create implements Queue. The memory queue exists as soon as it is
// constructed, so this only checks for closure.
func (q *MemoryQueue) Create(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	q.nextID++
	p := make([]byte, len(payload))
	copy(p, payload)
	q.items = append(q.items, &memItem{id: q.nextID, payload: p})
	return q.nextID, nil
}

// Claim implements Queue.
func (q *MemoryQueue) Claim(ctx context.Context) (*Item, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, false, ErrClosed
	}

	now := q.now()
	for _, it := range q.items {
		if it.claimedUntil.After(now) {
			continue
		}
		it.claimedUntil = now.Add(q.lease)
		return &Item{ID: it.id, Payload: it.payload}, true, nil
	}
	return nil, false, nil
}

// Delete implements Queue.
func (q *MemoryQueue) Delete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	for i, it := range q.items {
		if it.id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Release implements Queue.
func (q *MemoryQueue) Release(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	for _, it := range q.items {
		if it.id == id {
			it.claimedUntil = time.Time{}
			return nil
		}
	}
	return nil
}

// Count implements Queue.
func (q *MemoryQueue) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.items), nil
}

// Destroy implements Queue.
func (q *MemoryQueue) Destroy(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = nil
	return nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
