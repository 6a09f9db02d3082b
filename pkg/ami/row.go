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

// Row is one resolved source record.
//
// By the time a Row leaves the Resolver it always has a valid UUID, and
// every non-empty ParentRefs entry is a UUID, never a raw row number.
type Row struct {
	// ID is the zero-based origin index of the row in the source,
	// retained for diagnostics after reordering.
	ID int `json:"id"`

	// UUID identifies the ADO this row materializes into. User-supplied
	// or minted during resolution.
	UUID string `json:"uuid"`

	// Type drives which metadata template and target bundle is used
	// downstream.
	Type string `json:"type"`

	// Data maps normalized column names to raw cell values.
	Data map[string]string `json:"data"`

	// ParentRefs maps parent-column names to the resolved parent UUID,
	// or "" when the row is a root in that column.
	ParentRefs map[string]string `json:"parent_refs"`
}

// RowNumber returns the 1-based, header-inclusive row number end users
// see in their spreadsheet (the header is row 1, so data row 0 is row 2).
func (r Row) RowNumber() int {
	return r.ID + 2
}
