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

// Package ami implements the core of the Archipelago Metadata Importer:
// turning a tabular source describing a forest of parent/child records
// into persisted Archipelago Digital Objects (ADOs).
//
// The pipeline has two worker stages connected by a per-set work queue:
//
//	tabular source -> Resolver -> Expander -> queue -> RecordWorker -> ObjectStore
//
// The Resolver is the heart of the package. Source rows may reference
// their parents by UUID or by spreadsheet row number; the resolver
// classifies each reference, walks row-number chains to their roots,
// invalidates cyclic chains, substitutes UUIDs for row numbers, and
// reorders rows so parents always precede their descendants. The
// Expander wraps each resolved row into a queue item; the RecordWorker
// consumes items one at a time, re-checking that referenced parents
// already exist in the target store and retrying a bounded number of
// times when they do not, so out-of-order processing across concurrent
// workers still converges.
//
// External collaborators (metadata rendering, file fetching, object
// persistence) are explicit interfaces injected into the workers; this
// package ships local single-node defaults for all three.
package ami
