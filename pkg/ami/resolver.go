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
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/esmero/ami/pkg/tabular"
)

// InvalidReason classifies why a row was excluded from resolution.
type InvalidReason string

const (
	ReasonMissingUUID   InvalidReason = "missing_uuid"
	ReasonMalformedUUID InvalidReason = "malformed_uuid"
	ReasonTargetMissing InvalidReason = "target_not_found"
	ReasonNoPermission  InvalidReason = "no_permission"
	ReasonBadParentRef  InvalidReason = "bad_parent_reference"
	ReasonCycle         InvalidReason = "cycle"
	ReasonInvalidParent InvalidReason = "parent_invalid"
)

// Result is the outcome of one resolution pass.
type Result struct {
	// Headers are the source's normalized column names.
	Headers []string

	// Rows are the surviving rows, ordered parents-before-children,
	// with every parent reference resolved to a UUID.
	Rows []Row

	// Invalid maps origin row index to the first reason the row was
	// excluded. Keys are always real row indexes; phantom row numbers
	// referenced by bad parent values never leak into it.
	Invalid map[int]InvalidReason

	// Chains is the per-parent-column children-of accumulation built
	// during chain walking: column -> ancestor index -> descendant
	// indexes, nearest ancestor first. Exposed for ordering diagnostics.
	Chains map[string]map[int][]int

	// Cycles is the number of reference cycles detected.
	Cycles int
}

// Resolver turns flat, unordered source rows with raw parent references
// into ordered rows whose parents are UUIDs and always precede their
// descendants.
type Resolver struct {
	cfg    *SetConfig
	store  ObjectStore // consulted only for update/patch modes
	logger *slog.Logger
}

// NewResolver creates a resolver for one set. The store may be nil when
// the operation mode is create or sync.
func NewResolver(cfg *SetConfig, store ObjectStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, store: store, logger: logger}
}

// Resolve runs the full resolution pass over table.
//
// A *ConfigError return means required structural configuration is
// missing; the Result is empty and the caller must treat the run as
// "nothing to do". Only store failures produce other errors.
func (r *Resolver) Resolve(ctx context.Context, table *tabular.Table) (*Result, error) {
	result := &Result{
		Invalid: make(map[int]InvalidReason),
		Chains:  make(map[string]map[int][]int),
	}

	if err := r.checkStructure(table); err != nil {
		return result, err
	}
	result.Headers = table.Headers

	n := len(table.Rows)
	invalid := result.Invalid
	// Idempotent marking: the first reason wins, repeated insertion is a
	// no-op, so running the resolver twice yields identical output.
	mark := func(i int, reason InvalidReason) {
		if _, seen := invalid[i]; !seen {
			invalid[i] = reason
		}
	}

	// Pass 1: each row's own UUID.
	uuids := make([]string, n)
	for i := 0; i < n; i++ {
		raw := strings.TrimSpace(table.Cell(i, r.cfg.AdoMapping.UUIDColumn))
		if raw == "" {
			if r.resolveOp() == OpCreate {
				uuids[i] = uuid.NewString()
				continue
			}
			mark(i, ReasonMissingUUID)
			continue
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			mark(i, ReasonMalformedUUID)
			continue
		}
		uuids[i] = parsed.String()

		if r.resolveOp() != OpCreate {
			allowed, err := r.store.AccessCheck(ctx, uuids[i], r.resolveOp(), r.cfg.UserID)
			if err != nil {
				return result, fmt.Errorf("access check %s: %w", uuids[i], err)
			}
			if !allowed {
				exists, err := r.store.Exists(ctx, uuids[i])
				if err != nil {
					return result, fmt.Errorf("existence check %s: %w", uuids[i], err)
				}
				if exists {
					mark(i, ReasonNoPermission)
				} else {
					mark(i, ReasonTargetMissing)
				}
			}
		}
	}

	// Pass 2: classify parent references and walk row-number chains.
	directParent := make(map[string]map[int]int)
	for _, pc := range r.cfg.AdoMapping.ParentColumns {
		directParent[pc] = make(map[int]int)
		for i := 0; i < n; i++ {
			if _, bad := invalid[i]; bad {
				continue
			}
			raw := strings.TrimSpace(table.Cell(i, pc))
			if raw == "" || isUUID(raw) {
				// Root or already resolved: never chain-walked.
				continue
			}
			target, ok := parseRowRef(raw)
			if !ok {
				mark(i, ReasonBadParentRef)
				continue
			}
			directParent[pc][i] = target
			r.walkChain(table, pc, i, target, n, result, mark)
		}
	}

	// Pass 3: substitute UUIDs for numeric references; iterate to a
	// fixpoint so invalidity propagates through reference chains.
	parentRefs := make(map[int]map[string]string, n)
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			if _, bad := invalid[i]; bad {
				continue
			}
			prefs := make(map[string]string)
			rowOK := true
			for _, pc := range r.cfg.AdoMapping.ParentColumns {
				raw := strings.TrimSpace(table.Cell(i, pc))
				switch {
				case raw == "":
					prefs[pc] = ""
				case isUUID(raw):
					prefs[pc] = strings.ToLower(raw)
				default:
					target := directParent[pc][i]
					if _, bad := invalid[target]; bad {
						mark(i, ReasonInvalidParent)
						changed = true
						rowOK = false
					} else {
						prefs[pc] = uuids[target]
					}
				}
				if !rowOK {
					break
				}
			}
			if rowOK {
				parentRefs[i] = prefs
			}
		}
	}

	// Phantom cleanup: invalid markers for row numbers that never
	// corresponded to a real row must not inflate the reported totals.
	for k := range invalid {
		if k < 0 || k >= n {
			delete(invalid, k)
		}
	}

	// Pass 4: reorder. Iterate chain state in parent-column declaration
	// order, ancestors by row number; emit each surviving row the first
	// time it is reached, then append rows never referenced as parents.
	emitted := make(map[int]bool, n)
	visiting := make(map[int]bool, n)
	var order []int
	var emit func(int)
	emit = func(i int) {
		if _, bad := invalid[i]; bad || emitted[i] || visiting[i] {
			return
		}
		// A row's valid parents always go out first. Cycles within one
		// column were invalidated during chain walking; the visiting
		// guard breaks ties for cycles spanning parent columns.
		visiting[i] = true
		for _, pc := range r.cfg.AdoMapping.ParentColumns {
			if t, ok := directParent[pc][i]; ok {
				if _, bad := invalid[t]; !bad {
					emit(t)
				}
			}
		}
		delete(visiting, i)
		if emitted[i] {
			return
		}
		emitted[i] = true
		order = append(order, i)
	}
	for _, pc := range r.cfg.AdoMapping.ParentColumns {
		chain := result.Chains[pc]
		ancestors := make([]int, 0, len(chain))
		for a := range chain {
			ancestors = append(ancestors, a)
		}
		sort.Ints(ancestors)
		for _, a := range ancestors {
			emit(a)
			for _, d := range chain[a] {
				emit(d)
			}
		}
	}
	for i := 0; i < n; i++ {
		emit(i)
	}

	for _, i := range order {
		result.Rows = append(result.Rows, Row{
			ID:         i,
			UUID:       uuids[i],
			Type:       strings.TrimSpace(table.Cell(i, r.cfg.AdoMapping.TypeColumn)),
			Data:       rowData(table, i),
			ParentRefs: parentRefs[i],
		})
	}

	recordRowsResolved(len(result.Rows))
	recordRowsInvalid(len(invalid))
	return result, nil
}

// walkChain follows row i's numeric parent reference in column pc until
// it reaches a root (empty or UUID reference) or detects a cycle,
// accumulating children-of state for the ordering pass as it goes.
func (r *Resolver) walkChain(table *tabular.Table, pc string, i, first, n int, result *Result, mark func(int, InvalidReason)) {
	visited := []int{i}
	visitedSet := map[int]bool{i: true}

	cur := first
	for {
		if cur < 0 || cur >= n {
			// Nonexistent row number: both sides of the reference go
			// invalid. The phantom marker is cleaned up after the pass.
			mark(cur, ReasonBadParentRef)
			for _, v := range visited {
				mark(v, ReasonBadParentRef)
			}
			return
		}
		if visitedSet[cur] {
			// Cycle: the entire walked chain is invalid, not just the
			// repeated node.
			for _, v := range visited {
				mark(v, ReasonCycle)
			}
			result.Cycles++
			recordCycle()
			return
		}

		// Everything walked so far descends from cur. Nearest ancestor
		// first, so the ordering pass emits a chain top-down.
		r.addDescendants(result, pc, cur, visited)

		visited = append(visited, cur)
		visitedSet[cur] = true

		next := strings.TrimSpace(table.Cell(cur, pc))
		if next == "" || isUUID(next) {
			return // root reached
		}
		nt, ok := parseRowRef(next)
		if !ok {
			for _, v := range visited {
				mark(v, ReasonBadParentRef)
			}
			return
		}
		cur = nt
	}
}

// addDescendants records visited (reversed: nearest ancestor first) as
// descendants of ancestor in column pc, deduplicating across walks.
func (r *Resolver) addDescendants(result *Result, pc string, ancestor int, visited []int) {
	chain := result.Chains[pc]
	if chain == nil {
		chain = make(map[int][]int)
		result.Chains[pc] = chain
	}

	seen := make(map[int]bool, len(chain[ancestor]))
	for _, d := range chain[ancestor] {
		seen[d] = true
	}
	for k := len(visited) - 1; k >= 0; k-- {
		d := visited[k]
		if !seen[d] {
			chain[ancestor] = append(chain[ancestor], d)
			seen[d] = true
		}
	}
}

// resolveOp maps the set's operation to the resolver's three-way mode.
// Sync resolves like create: UUIDs are minted for blank cells and the
// per-row directive is applied after resolution by the expansion worker.
func (r *Resolver) resolveOp() OpMode {
	switch r.cfg.Op {
	case OpUpdate, OpPatch:
		return r.cfg.Op
	default:
		return OpCreate
	}
}

// checkStructure validates the structural configuration the resolver
// cannot work without.
func (r *Resolver) checkStructure(table *tabular.Table) error {
	if table == nil || len(table.Headers) == 0 {
		return &ConfigError{Reason: "source has no headers"}
	}
	if r.cfg.AdoMapping.UUIDColumn == "" {
		return &ConfigError{Reason: "adomapping is incomplete", Missing: []string{"adomapping.uuid"}}
	}
	if r.cfg.AdoMapping.TypeColumn == "" {
		return &ConfigError{Reason: "adomapping is incomplete", Missing: []string{"adomapping.type"}}
	}
	if !r.cfg.Op.valid() {
		return &ConfigError{Reason: fmt.Sprintf("unknown operation mode %q", r.cfg.Op)}
	}
	if r.resolveOp() != OpCreate && r.store == nil {
		return &ConfigError{Reason: "update/patch modes require an object store"}
	}

	if r.cfg.Strict {
		var missing []string
		for _, key := range r.cfg.ColumnKeys {
			if table.Column(key) < 0 {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return &ConfigError{Reason: "column keys absent from source headers", Missing: missing}
		}
	}
	return nil
}

// parseRowRef parses a user-facing row number (1-based, header counted
// as row 1) into a zero-based data index. References to row 1 or below
// can never name a data row.
func parseRowRef(raw string) (int, bool) {
	rowNum, err := strconv.Atoi(raw)
	if err != nil || rowNum <= 1 {
		return 0, false
	}
	return rowNum - 2, true
}

// isUUID reports whether raw is a syntactically valid UUID.
func isUUID(raw string) bool {
	_, err := uuid.Parse(raw)
	return err == nil
}

// rowData copies row i into a column-name map.
func rowData(table *tabular.Table, i int) map[string]string {
	data := make(map[string]string, len(table.Headers))
	for _, h := range table.Headers {
		data[h] = table.Cell(i, h)
	}
	return data
}
