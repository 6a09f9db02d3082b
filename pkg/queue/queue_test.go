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

package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestQueues returns one queue per implementation, each already
// created and registered for cleanup.
func openTestQueues(t *testing.T) map[string]Queue {
	t.Helper()
	ctx := context.Background()

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), "ami_set_1", 0)
	require.NoError(t, err)

	queues := map[string]Queue{
		"memory": NewMemoryQueue(0),
		"sqlite": sq,
	}
	for name, q := range queues {
		require.NoError(t, q.Create(ctx), name)
		t.Cleanup(func() { _ = q.Close() })
	}
	return queues
}

func TestQueue_FIFOLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				_, err := q.Enqueue(ctx, []byte(fmt.Sprintf("item-%d", i)))
				require.NoError(t, err)
			}

			n, err := q.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			item, ok, err := q.Claim(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "item-0", string(item.Payload))

			// Claimed items still count until deleted.
			n, err = q.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			require.NoError(t, q.Delete(ctx, item.ID))
			n, err = q.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			item, ok, err = q.Claim(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "item-1", string(item.Payload))
		})
	}
}

func TestQueue_ClaimedItemInvisibleUntilReleased(t *testing.T) {
	ctx := context.Background()
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			id, err := q.Enqueue(ctx, []byte("only"))
			require.NoError(t, err)

			_, ok, err := q.Claim(ctx)
			require.NoError(t, err)
			require.True(t, ok)

			// The single item is leased, so a second claim comes up empty.
			_, ok, err = q.Claim(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, q.Release(ctx, id))

			item, ok, err := q.Claim(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, id, item.ID)
		})
	}
}

func TestQueue_ExactlyOnceLease(t *testing.T) {
	ctx := context.Background()
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			const items = 20
			for i := 0; i < items; i++ {
				_, err := q.Enqueue(ctx, []byte(fmt.Sprintf("item-%d", i)))
				require.NoError(t, err)
			}

			var mu sync.Mutex
			seen := make(map[int64]int)
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						item, ok, err := q.Claim(ctx)
						if err != nil || !ok {
							return
						}
						mu.Lock()
						seen[item.ID]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, items)
			for id, count := range seen {
				assert.Equal(t, 1, count, "item %d leased more than once", id)
			}
		})
	}
}

func TestQueue_Destroy(t *testing.T) {
	ctx := context.Background()
	for name, q := range openTestQueues(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				_, err := q.Enqueue(ctx, []byte("x"))
				require.NoError(t, err)
			}

			require.NoError(t, q.Destroy(ctx))

			n, err := q.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestSQLiteQueue_NamespacedByName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	qa, err := OpenSQLite(path, "ami_set_a", 0)
	require.NoError(t, err)
	defer func() { _ = qa.Close() }()
	qb, err := OpenSQLite(path, "ami_set_b", 0)
	require.NoError(t, err)
	defer func() { _ = qb.Close() }()

	require.NoError(t, qa.Create(ctx))
	require.NoError(t, qb.Create(ctx)) // Create is idempotent across handles

	_, err = qa.Enqueue(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = qb.Enqueue(ctx, []byte("b"))
	require.NoError(t, err)

	// Destroying one set's queue must not touch the other's items.
	require.NoError(t, qa.Destroy(ctx))

	n, err := qb.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryQueue_LeaseExpiry(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Minute)

	current := time.Now()
	q.now = func() time.Time { return current }

	_, err := q.Enqueue(ctx, []byte("stuck"))
	require.NoError(t, err)

	_, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// Once the lease lapses the item becomes claimable again, which is
	// what lets another worker pick up after a crashed one.
	current = current.Add(2 * time.Minute)
	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_ClosedQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(0)
	require.NoError(t, q.Close())

	_, err := q.Enqueue(ctx, []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = q.Claim(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
