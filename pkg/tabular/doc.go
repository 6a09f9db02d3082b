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

// Package tabular reads delimited source files into a normalized
// header-plus-rows form suitable for AMI ingestion.
//
// The reader applies the source-file conventions AMI inherits from its
// spreadsheet-first workflow:
//
//   - Headers are trimmed, lower-cased, and de-escaped. Duplicate headers
//     are preserved as-is; column lookups by name use the first match.
//   - Reading stops at the first row whose cells are all empty. Spreadsheet
//     exports routinely carry thousands of trailing empty rows, so the
//     blank row is a terminator, not data.
//   - The header is authoritative for row width. Short rows are padded
//     with empty strings, long rows are truncated.
//
// Failures to open or parse the source yield a *ReadError and no partial
// result.
package tabular
