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

package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is the normalized content of one delimited source.
type Table struct {
	// Headers are the normalized column names, in source order.
	Headers []string

	// Rows are the data rows, each reconciled to len(Headers) cells.
	// Row 0 corresponds to the second physical row of the source (the
	// header is physical row 1).
	Rows [][]string

	// Stats summarizes what normalization did to the source.
	Stats Stats
}

// Stats accounts for normalization side effects, reported in the
// expansion log so oversized or ragged exports are visible to operators.
type Stats struct {
	// RowsRead is the number of data rows kept.
	RowsRead int

	// RowsAfterBlank is the number of rows discarded because they sit at
	// or after the first all-empty row.
	RowsAfterBlank int

	// CellsPadded is the number of empty cells appended to short rows.
	CellsPadded int

	// CellsTruncated is the number of trailing cells dropped from long rows.
	CellsTruncated int
}

// ReadError reports a source that could not be opened or parsed.
// It aborts the whole read; no partial Table is returned alongside it.
type ReadError struct {
	Source string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read tabular source %s: %v", e.Source, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Read opens and parses the delimited file at path.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Source: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	return ReadFrom(f, path)
}

// ReadFrom parses a delimited source from r. The source argument is used
// only for error reporting.
func ReadFrom(r io.Reader, source string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &ReadError{Source: source, Err: err}
	}
	if len(records) == 0 {
		return nil, &ReadError{Source: source, Err: errors.New("source has no header row")}
	}

	headers := normalizeHeaders(records[0])
	table := &Table{Headers: headers}

	width := len(headers)
	for i, rec := range records[1:] {
		if isBlankRow(rec) {
			// Everything from the first blank row on is trailing
			// spreadsheet noise.
			table.Stats.RowsAfterBlank = len(records) - 1 - i
			break
		}
		table.Rows = append(table.Rows, table.reconcileWidth(rec, width))
	}
	table.Stats.RowsRead = len(table.Rows)

	return table, nil
}

// Column returns the index of the first header matching name (already
// normalized), or -1 if the column does not exist.
func (t *Table) Column(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// Cell returns the value of the named column in row i, or "" when either
// the row or the column is out of range.
func (t *Table) Cell(i int, name string) string {
	if i < 0 || i >= len(t.Rows) {
		return ""
	}
	col := t.Column(name)
	if col < 0 {
		return ""
	}
	return t.Rows[i][col]
}

// reconcileWidth pads or truncates rec so the header stays authoritative
// for row width.
func (t *Table) reconcileWidth(rec []string, width int) []string {
	switch {
	case len(rec) < width:
		t.Stats.CellsPadded += width - len(rec)
		padded := make([]string, width)
		copy(padded, rec)
		return padded
	case len(rec) > width:
		t.Stats.CellsTruncated += len(rec) - width
		return rec[:width]
	default:
		return rec
	}
}

// normalizeHeaders trims, lower-cases, and de-escapes header names.
// Duplicates are deliberately not deduplicated.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		h = strings.ToLower(h)
		h = strings.ReplaceAll(h, `\"`, `"`)
		h = strings.ReplaceAll(h, `\'`, `'`)
		h = strings.Trim(h, `"'`)
		headers[i] = h
	}
	return headers
}

// isBlankRow reports whether every cell in rec is empty after trimming.
func isBlankRow(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
