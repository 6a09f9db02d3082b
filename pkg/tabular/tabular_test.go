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

package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrom_HeaderNormalization(t *testing.T) {
	src := "  Node_UUID , TYPE,\"label\"\nabc,Book,Title\n"

	table, err := ReadFrom(strings.NewReader(src), "test.csv")
	require.NoError(t, err)

	assert.Equal(t, []string{"node_uuid", "type", "label"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "abc", table.Cell(0, "node_uuid"))
}

func TestReadFrom_WidthReconciliation(t *testing.T) {
	// Header width 4; first row is two cells short, second two cells long.
	src := strings.Join([]string{
		"a,b,c,d",
		"1,2",
		"1,2,3,4,5,6",
	}, "\n")

	table, err := ReadFrom(strings.NewReader(src), "test.csv")
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"1", "2", "", ""}, table.Rows[0])
	assert.Equal(t, []string{"1", "2", "3", "4"}, table.Rows[1])
	assert.Equal(t, 2, table.Stats.CellsPadded)
	assert.Equal(t, 2, table.Stats.CellsTruncated)
}

func TestReadFrom_StopsAtFirstBlankRow(t *testing.T) {
	src := strings.Join([]string{
		"a,b",
		"1,2",
		" , ",
		"3,4",
		"5,6",
	}, "\n")

	table, err := ReadFrom(strings.NewReader(src), "test.csv")
	require.NoError(t, err)

	// Rows after the blank terminator are excluded even though they have
	// content.
	require.Len(t, table.Rows, 1)
	assert.Equal(t, 3, table.Stats.RowsAfterBlank)
}

func TestReadFrom_EmptySource(t *testing.T) {
	_, err := ReadFrom(strings.NewReader(""), "empty.csv")

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, "empty.csv", readErr.Source)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "does-not-exist.csv"))

	var readErr *ReadError
	require.ErrorAs(t, err, &readErr)
}

func TestRead_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\nx,y\n"), 0644))

	table, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Stats.RowsRead)
}

func TestColumn_DuplicateHeadersKeepFirst(t *testing.T) {
	src := "a,b,a\n1,2,3\n"

	table, err := ReadFrom(strings.NewReader(src), "test.csv")
	require.NoError(t, err)

	assert.Equal(t, 0, table.Column("a"))
	assert.Equal(t, "1", table.Cell(0, "a"))
	assert.Equal(t, -1, table.Column("missing"))
}
