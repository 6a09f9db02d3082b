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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ami_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT    NOT NULL,
	payload       BLOB    NOT NULL,
	claimed_until INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ami_queue_claim_idx ON ami_queue (name, claimed_until, id);
`

// SQLiteQueue is the durable Queue used for CLI runs. All named queues
// of a set share one database file; rows are scoped by queue name so
// Destroy removes exactly one run's items.
type SQLiteQueue struct {
	db    *sqlx.DB
	name  string
	lease time.Duration
}

// OpenSQLite opens (creating if needed) the queue database at path and
// returns a handle scoped to the named queue. Lease falls back to
// DefaultLease when zero.
func OpenSQLite(path, name string, lease time.Duration) (*SQLiteQueue, error) {
	if lease <= 0 {
		lease = DefaultLease
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids spurious
	// SQLITE_BUSY under concurrent claims.
	db.SetMaxOpenConns(1)

	return &SQLiteQueue{db: db, name: name, lease: lease}, nil
}

// Name returns the queue name this handle is scoped to.
func (q *SQLiteQueue) Name() string {
	return q.name
}

// Create implements Queue.
func (q *SQLiteQueue) Create(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create queue schema: %w", err)
	}
	return nil
}

// Enqueue implements Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO ami_queue (name, payload, claimed_until, created_at) VALUES (?, ?, 0, ?)`,
		q.name, payload, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue item id: %w", err)
	}
	return id, nil
}

// Claim implements Queue. The conditional UPDATE is the exactly-once
// lease: of two racing claims for the same row, only one sees
// RowsAffected == 1.
func (q *SQLiteQueue) Claim(ctx context.Context) (*Item, bool, error) {
	now := time.Now().Unix()
	until := time.Now().Add(q.lease).Unix()

	for {
		var candidate struct {
			ID      int64  `db:"id"`
			Payload []byte `db:"payload"`
		}
		err := q.db.GetContext(ctx, &candidate,
			`SELECT id, payload FROM ami_queue
			 WHERE name = ? AND claimed_until <= ?
			 ORDER BY id LIMIT 1`,
			q.name, now,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("select claimable item: %w", err)
		}

		res, err := q.db.ExecContext(ctx,
			`UPDATE ami_queue SET claimed_until = ? WHERE id = ? AND claimed_until <= ?`,
			until, candidate.ID, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("lease item %d: %w", candidate.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("lease item %d: %w", candidate.ID, err)
		}
		if affected == 1 {
			return &Item{ID: candidate.ID, Payload: candidate.Payload}, true, nil
		}
		// Lost the race for this row; try the next candidate.
	}
}

// Delete implements Queue.
func (q *SQLiteQueue) Delete(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM ami_queue WHERE id = ? AND name = ?`, id, q.name,
	); err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	return nil
}

// Release implements Queue.
func (q *SQLiteQueue) Release(ctx context.Context, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE ami_queue SET claimed_until = 0 WHERE id = ? AND name = ?`, id, q.name,
	); err != nil {
		return fmt.Errorf("release item %d: %w", id, err)
	}
	return nil
}

// Count implements Queue.
func (q *SQLiteQueue) Count(ctx context.Context) (int, error) {
	var n int
	if err := q.db.GetContext(ctx,
		&n, `SELECT COUNT(*) FROM ami_queue WHERE name = ?`, q.name,
	); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Destroy implements Queue.
func (q *SQLiteQueue) Destroy(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM ami_queue WHERE name = ?`, q.name,
	); err != nil {
		return fmt.Errorf("destroy queue %s: %w", q.name, err)
	}
	return nil
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
