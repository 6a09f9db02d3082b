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
)

// ErrStoreUnavailable is returned by ObjectStore implementations when
// the backing store is down as a whole. Workers map it to a batch
// suspend rather than burning through every item.
var ErrStoreUnavailable = errors.New("object store unavailable")

// ErrObjectExists is returned by ObjectStore.Create when the UUID is
// already taken.
var ErrObjectExists = errors.New("object already exists")

// ObjectRecord is a persisted ADO as the pipeline sees it: an entity id,
// a UUID, and an opaque JSON-shaped body.
type ObjectRecord struct {
	ID     int64          `json:"id"`
	UUID   string         `json:"uuid"`
	Body   map[string]any `json:"body"`
	Status string         `json:"status,omitempty"`
}

// ObjectStore is the entity existence/persistence collaborator. The
// pipeline only requires that Exists is read-after-write consistent with
// a prior successful Create, eventually; the record worker's bounded
// retry tolerates brief inconsistency.
type ObjectStore interface {
	Exists(ctx context.Context, uuid string) (bool, error)
	LoadByUUID(ctx context.Context, uuid string) (*ObjectRecord, error)
	Create(ctx context.Context, rec *ObjectRecord) error
	Update(ctx context.Context, rec *ObjectRecord, op OpMode) error

	// AccessCheck reports whether userID may perform op on the object
	// identified by uuid. For non-create operations a false result also
	// covers "no such object".
	AccessCheck(ctx context.Context, uuid string, op OpMode, userID string) (bool, error)

	// ApplyAction applies a named action to a chunk of UUIDs.
	ApplyAction(ctx context.Context, actionID string, uuids []string, config map[string]string) error
}

// MetadataRenderer materializes a row into a JSON object body. A nil or
// empty result, or output that is not valid JSON, is a permanent content
// error for that row.
type MetadataRenderer interface {
	Render(ctx context.Context, row Row, previous *ObjectRecord) ([]byte, error)
}

// FileFetcher resolves one file token (a bare path, a URL, or a path
// inside an attached archive) to a file identifier. An empty result with
// nil error means the token could not be resolved.
type FileFetcher interface {
	Fetch(ctx context.Context, token string) (string, error)
}

// Candidate is one reconciliation hit from a linked-open-data source.
type Candidate struct {
	Label string `json:"label"`
	URI   string `json:"uri"`
}

// Reconciler is the LoD enrichment collaborator. The pipeline itself
// never calls it; the contract lives here so set configurations can
// name vocabularies without this package depending on any LoD client.
type Reconciler interface {
	Candidates(ctx context.Context, label, vocabulary string) ([]Candidate, error)
}
