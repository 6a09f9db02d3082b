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

package ami

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esmero/ami/pkg/tabular"
)

func testConfig(op OpMode) *SetConfig {
	cfg := &SetConfig{
		SetID:  "test",
		Source: "objects.csv",
		Op:     op,
		AdoMapping: AdoMapping{
			UUIDColumn:    "node_uuid",
			TypeColumn:    "type",
			ParentColumns: []string{"ismemberof"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testTable(headers []string, rows ...[]string) *tabular.Table {
	return &tabular.Table{Headers: headers, Rows: rows}
}

// stubStore is an ObjectStore stub for resolver and worker tests.
type stubStore struct {
	exists map[string]bool
	access map[string]bool // nil means "same as exists"
	err    error
}

func (s *stubStore) Exists(ctx context.Context, id string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.exists[id], nil
}

func (s *stubStore) LoadByUUID(ctx context.Context, id string) (*ObjectRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.exists[id] {
		return nil, nil
	}
	return &ObjectRecord{ID: 1, UUID: id, Body: map[string]any{}}, nil
}

func (s *stubStore) Create(ctx context.Context, rec *ObjectRecord) error              { return s.err }
func (s *stubStore) Update(ctx context.Context, rec *ObjectRecord, op OpMode) error   { return s.err }
func (s *stubStore) ApplyAction(ctx context.Context, a string, u []string, c map[string]string) error {
	return s.err
}

func (s *stubStore) AccessCheck(ctx context.Context, id string, op OpMode, user string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.access != nil {
		return s.access[id], nil
	}
	return s.exists[id], nil
}

func TestResolveCreateMintsUUIDs(t *testing.T) {
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof", "label"},
		[]string{"", "Collection", "", "Root"},
		[]string{"", "Book", "2", "Child"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Empty(t, res.Invalid)

	for _, row := range res.Rows {
		_, perr := uuid.Parse(row.UUID)
		assert.NoError(t, perr, "row %d should carry a minted UUID", row.RowNumber())
	}

	// Parent first, child second, child linked by the parent's UUID.
	assert.Equal(t, "Collection", res.Rows[0].Type)
	assert.Equal(t, "Book", res.Rows[1].Type)
	assert.Equal(t, res.Rows[0].UUID, res.Rows[1].ParentRefs["ismemberof"])
	assert.Equal(t, "", res.Rows[0].ParentRefs["ismemberof"])
}

func TestResolveReordersParentsFirst(t *testing.T) {
	// Child appears before its parent in the source.
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof", "label"},
		[]string{"", "Page", "3", "Child"},
		[]string{"", "Book", "", "Parent"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Parent", res.Rows[0].Data["label"])
	assert.Equal(t, "Child", res.Rows[1].Data["label"])
}

func TestResolveDeepChainOrdering(t *testing.T) {
	// grandchild -> child -> root, all backward references.
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof", "label"},
		[]string{"", "Page", "3", "Grandchild"},
		[]string{"", "Book", "4", "Child"},
		[]string{"", "Collection", "", "Root"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)

	position := make(map[string]int)
	for i, row := range res.Rows {
		position[row.Data["label"]] = i
	}
	assert.Less(t, position["Root"], position["Child"])
	assert.Less(t, position["Child"], position["Grandchild"])
}

func TestResolveCycleInvalidatesWholeChain(t *testing.T) {
	// 2 -> 3 -> 4 -> 2 in user-facing row numbers.
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{"", "A", "4"},
		[]string{"", "B", "2"},
		[]string{"", "C", "3"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 1, res.Cycles)
	require.Len(t, res.Invalid, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, ReasonCycle, res.Invalid[i])
	}
}

func TestResolveBadReferenceInvalidatesBothSides(t *testing.T) {
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{"", "A", "99"},
		[]string{"", "B", ""},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "B", res.Rows[0].Type)
	assert.Equal(t, ReasonBadParentRef, res.Invalid[0])

	// The phantom target never shows up as an invalid row.
	assert.Len(t, res.Invalid, 1)
}

func TestResolveRejectsHeaderAndSelfReferences(t *testing.T) {
	for _, ref := range []string{"1", "0", "-3", "x"} {
		table := testTable(
			[]string{"node_uuid", "type", "ismemberof"},
			[]string{"", "A", ref},
		)
		r := NewResolver(testConfig(OpCreate), nil, nil)

		res, err := r.Resolve(context.Background(), table)
		require.NoError(t, err)
		assert.Empty(t, res.Rows, "reference %q must not resolve", ref)
		assert.Equal(t, ReasonBadParentRef, res.Invalid[0])
	}
}

func TestResolveUUIDReferenceIsRoot(t *testing.T) {
	parentUUID := uuid.NewString()
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{"", "Book", parentUUID},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, parentUUID, res.Rows[0].ParentRefs["ismemberof"])
	assert.Empty(t, res.Invalid)
}

func TestResolveInvalidParentPropagates(t *testing.T) {
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{"not-a-uuid", "Collection", ""},
		[]string{"", "Book", "2"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, ReasonMalformedUUID, res.Invalid[0])
	assert.Equal(t, ReasonInvalidParent, res.Invalid[1])
}

func TestResolveIsDeterministic(t *testing.T) {
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof", "label"},
		[]string{uuid.NewString(), "Collection", "", "Root"},
		[]string{uuid.NewString(), "Book", "2", "B"},
		[]string{uuid.NewString(), "Page", "3", "P1"},
		[]string{uuid.NewString(), "Page", "3", "P2"},
		[]string{uuid.NewString(), "Thing", "77", "Broken"},
	)
	r := NewResolver(testConfig(OpCreate), nil, nil)

	first, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	second, err := NewResolver(testConfig(OpCreate), nil, nil).Resolve(context.Background(), table)
	require.NoError(t, err)

	require.Equal(t, len(first.Rows), len(second.Rows))
	for i := range first.Rows {
		assert.Equal(t, first.Rows[i].ID, second.Rows[i].ID)
		assert.Equal(t, first.Rows[i].UUID, second.Rows[i].UUID)
	}
	assert.Equal(t, first.Invalid, second.Invalid)
}

func TestResolveUpdateValidatesOwnUUID(t *testing.T) {
	known := uuid.NewString()
	store := &stubStore{exists: map[string]bool{known: true}}
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{known, "Book", ""},
		[]string{"", "Book", ""},
		[]string{"garbage", "Book", ""},
		[]string{uuid.NewString(), "Book", ""},
	)
	r := NewResolver(testConfig(OpUpdate), store, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, known, res.Rows[0].UUID)
	assert.Equal(t, ReasonMissingUUID, res.Invalid[1])
	assert.Equal(t, ReasonMalformedUUID, res.Invalid[2])
	assert.Equal(t, ReasonTargetMissing, res.Invalid[3])
}

func TestResolveUpdateHonorsPermissions(t *testing.T) {
	denied := uuid.NewString()
	store := &stubStore{
		exists: map[string]bool{denied: true},
		access: map[string]bool{denied: false},
	}
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{denied, "Book", ""},
	)
	r := NewResolver(testConfig(OpUpdate), store, nil)

	res, err := r.Resolve(context.Background(), table)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Equal(t, ReasonNoPermission, res.Invalid[0])
}

func TestResolveStoreOutageSurfaces(t *testing.T) {
	store := &stubStore{err: ErrStoreUnavailable}
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{uuid.NewString(), "Book", ""},
	)
	r := NewResolver(testConfig(OpUpdate), store, nil)

	_, err := r.Resolve(context.Background(), table)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestResolveMissingMappingIsConfigError(t *testing.T) {
	cfg := testConfig(OpCreate)
	cfg.AdoMapping.UUIDColumn = ""
	table := testTable([]string{"a", "b"}, []string{"1", "2"})

	res, err := NewResolver(cfg, nil, nil).Resolve(context.Background(), table)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"adomapping.uuid"}, cfgErr.Missing)
	assert.Empty(t, res.Rows)
}

func TestResolveStrictReportsAllMissingColumns(t *testing.T) {
	cfg := testConfig(OpCreate)
	cfg.Strict = true
	cfg.ColumnKeys = []string{"node_uuid", "title", "subject"}
	table := testTable(
		[]string{"node_uuid", "type", "ismemberof"},
		[]string{"", "Book", ""},
	)

	_, err := NewResolver(cfg, nil, nil).Resolve(context.Background(), table)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"title", "subject"}, cfgErr.Missing)
}

func TestResolveEmptyTableIsConfigError(t *testing.T) {
	_, err := NewResolver(testConfig(OpCreate), nil, nil).Resolve(context.Background(), &tabular.Table{})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}
