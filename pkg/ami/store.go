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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS ami_ado (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid       TEXT    NOT NULL UNIQUE,
	body       TEXT    NOT NULL,
	status     TEXT    NOT NULL DEFAULT '',
	created_at TEXT    NOT NULL,
	updated_at TEXT    NOT NULL
);
`

// SQLiteStore is the local ObjectStore: ADOs persisted as JSON bodies in
// a single SQLite table. It is what a standalone deployment targets; a
// repository-backed deployment swaps in its own ObjectStore.
type SQLiteStore struct {
	db *sqlx.DB
}

type adoRow struct {
	ID     int64  `db:"id"`
	UUID   string `db:"uuid"`
	Body   string `db:"body"`
	Status string `db:"status"`
}

// OpenSQLiteStore opens (creating if needed) the object database at
// path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init object store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Exists implements ObjectStore.
func (s *SQLiteStore) Exists(ctx context.Context, uuid string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM ami_ado WHERE uuid = ?`, uuid)
	if err != nil {
		return false, fmt.Errorf("existence query: %w", err)
	}
	return n > 0, nil
}

// LoadByUUID implements ObjectStore. A missing object is (nil, nil).
func (s *SQLiteStore) LoadByUUID(ctx context.Context, uuid string) (*ObjectRecord, error) {
	var row adoRow
	err := s.db.GetContext(ctx, &row, `SELECT id, uuid, body, status FROM ami_ado WHERE uuid = ?`, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load object: %w", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
		return nil, fmt.Errorf("decode object %s body: %w", uuid, err)
	}
	return &ObjectRecord{ID: row.ID, UUID: row.UUID, Body: body, Status: row.Status}, nil
}

// Create implements ObjectStore. A taken UUID yields ErrObjectExists.
func (s *SQLiteStore) Create(ctx context.Context, rec *ObjectRecord) error {
	body, err := json.Marshal(rec.Body)
	if err != nil {
		return fmt.Errorf("encode object body: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ami_ado (uuid, body, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.UUID, string(body), rec.Status, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrObjectExists
		}
		return fmt.Errorf("insert object: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	return nil
}

// Update implements ObjectStore. Update replaces the stored body; patch
// shallow-merges the new body over it.
func (s *SQLiteStore) Update(ctx context.Context, rec *ObjectRecord, op OpMode) error {
	prev, err := s.LoadByUUID(ctx, rec.UUID)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("update object %s: not found", rec.UUID)
	}

	body := rec.Body
	if op == OpPatch {
		merged := make(map[string]any, len(prev.Body)+len(rec.Body))
		for k, v := range prev.Body {
			merged[k] = v
		}
		for k, v := range rec.Body {
			merged[k] = v
		}
		body = merged
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode object body: %w", err)
	}
	status := rec.Status
	if status == "" {
		status = prev.Status
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE ami_ado SET body = ?, status = ?, updated_at = ? WHERE uuid = ?`,
		string(encoded), status, time.Now().UTC().Format(time.RFC3339), rec.UUID)
	if err != nil {
		return fmt.Errorf("update object: %w", err)
	}
	rec.ID = prev.ID
	rec.Body = body
	return nil
}

// AccessCheck implements ObjectStore. The local store has no per-user
// ACLs: create is always allowed, every other operation requires the
// object to exist.
func (s *SQLiteStore) AccessCheck(ctx context.Context, uuid string, op OpMode, userID string) (bool, error) {
	if op == OpCreate {
		return true, nil
	}
	return s.Exists(ctx, uuid)
}

// ApplyAction implements ObjectStore. The local store understands the
// delete, publish, and unpublish actions.
func (s *SQLiteStore) ApplyAction(ctx context.Context, actionID string, uuids []string, config map[string]string) error {
	if len(uuids) == 0 {
		return nil
	}
	switch actionID {
	case "delete":
		query, args, err := sqlx.In(`DELETE FROM ami_ado WHERE uuid IN (?)`, uuids)
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("apply delete: %w", err)
		}
	case "publish", "unpublish":
		status := "published"
		if actionID == "unpublish" {
			status = "unpublished"
		}
		query, args, err := sqlx.In(`UPDATE ami_ado SET status = ?, updated_at = ? WHERE uuid IN (?)`,
			status, time.Now().UTC().Format(time.RFC3339), uuids)
		if err != nil {
			return fmt.Errorf("build %s: %w", actionID, err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("apply %s: %w", actionID, err)
		}
	default:
		return fmt.Errorf("unknown action %q", actionID)
	}
	return nil
}
