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

// Package queue provides the at-least-once work queue backing AMI batch
// runs.
//
// Each ingest set owns one named queue. Items are opaque payloads that
// move through a small lifecycle: enqueued, claimed (leased to exactly
// one consumer), then either deleted on success or released back to the
// pool on transient failure. A claim expires after its lease duration,
// so items stuck on a crashed consumer become claimable again.
//
// Two implementations are provided: SQLite (durable, the default for CLI
// runs) and Memory (tests and throwaway runs). Both honor the same
// contract: no two concurrent claims ever return the same item, ordering
// is by insertion, and Count includes claimed-but-not-deleted items.
package queue
