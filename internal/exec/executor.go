// Package exec interprets logical plans over in-memory and persisted chunks.
// Execution is eager: each operator materializes its output batches. Reorg
// workloads rewrite whole chunks anyway, so there is nothing to gain from
// laziness here.
package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/plan"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/tombstone"
)

// Executor runs logical plans.
type Executor struct{}

// New creates an executor.
func New() *Executor {
	return &Executor{}
}

// Execute runs the plan and returns one output batch per partition. Every
// operator except Split produces exactly one partition; Split produces two.
func (e *Executor) Execute(ctx context.Context, root plan.Node) ([]*chunk.Batch, error) {
	switch n := root.(type) {
	case *plan.ScanNode:
		out, err := e.scan(ctx, n)
		if err != nil {
			return nil, err
		}
		return []*chunk.Batch{out}, nil

	case *plan.FilterNode:
		return e.mapSingle(ctx, n.Input, func(in *chunk.Batch) (*chunk.Batch, error) {
			return filterBatch(in, n.Exprs), nil
		})

	case *plan.ProjectNode:
		return e.mapSingle(ctx, n.Input, func(in *chunk.Batch) (*chunk.Batch, error) {
			return in.Align(n.Columns), nil
		})

	case *plan.SortNode:
		return e.mapSingle(ctx, n.Input, func(in *chunk.Batch) (*chunk.Batch, error) {
			sortBatch(in, n.Key)
			return in, nil
		})

	case *plan.SplitNode:
		in, err := e.executeSingle(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		below, above := splitBatch(in, n.SplitTime)
		return []*chunk.Batch{below, above}, nil
	}

	return nil, errors.Newf(errors.ErrCategoryPlan, errors.CodeExecution,
		"unknown plan node %T", root)
}

// executeSingle runs a subplan expected to produce one partition.
func (e *Executor) executeSingle(ctx context.Context, n plan.Node) (*chunk.Batch, error) {
	parts, err := e.Execute(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(parts) != 1 {
		return nil, errors.Newf(errors.ErrCategoryPlan, errors.CodeExecution,
			"operator %s expects a single input partition, got %d", n, len(parts))
	}
	return parts[0], nil
}

func (e *Executor) mapSingle(ctx context.Context, input plan.Node, f func(*chunk.Batch) (*chunk.Batch, error)) ([]*chunk.Batch, error) {
	in, err := e.executeSingle(ctx, input)
	if err != nil {
		return nil, err
	}
	out, err := f(in)
	if err != nil {
		return nil, err
	}
	return []*chunk.Batch{out}, nil
}

// taggedRow carries a row plus its provenance for last-writer-wins
// deduplication: later chunks, and later rows within a chunk, win.
type taggedRow struct {
	chunkIdx int
	rowIdx   int
	row      []interface{}
}

// scan reads the provider's chunks onto the scan schema and applies the
// scan predicate. When Deduplicate is set it also applies each chunk's
// delete predicates, sorts on the primary key, and collapses duplicate
// keys; a plain scan reads chunk contents as-is.
func (e *Executor) scan(ctx context.Context, n *plan.ScanNode) (*chunk.Batch, error) {
	columns := n.Schema.ColumnNames()
	if n.Selection != nil {
		columns = n.Selection
	}

	chunks := n.Provider.Prune(n.Predicate)
	var rows []taggedRow
	for ci, c := range chunks {
		var deletes []*tombstone.DeletePredicate
		if n.Deduplicate {
			deletes = c.DeletePredicates()
		}

		stream, err := c.ReadFilter(ctx, n.Predicate, chunk.Selection(columns))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCategoryPlan, errors.CodeExecution,
				fmt.Sprintf("scan of chunk %s failed", c.ID()), err)
		}
		rowIdx := 0
		for {
			b, ok := stream.Next()
			if !ok {
				break
			}
			aligned := b.Align(columns)
			for i := 0; i < aligned.NumRows(); i++ {
				values := aligned.RowValues(i)
				ts, _ := values[schema.TimeColumn].(int64)
				if tombstone.MatchesAny(deletes, ts, values) {
					rowIdx++
					continue
				}
				if n.Predicate != nil && !n.Predicate.Matches(ts, values) {
					rowIdx++
					continue
				}
				rows = append(rows, taggedRow{chunkIdx: ci, rowIdx: rowIdx, row: aligned.Rows[i]})
				rowIdx++
			}
		}
	}

	out := chunk.NewBatch(columns)
	if !n.Deduplicate {
		for _, r := range rows {
			out.AppendRow(r.row)
		}
		return out, nil
	}

	pkKey := n.Schema.PKSortKey()
	keyIdx := keyIndices(columns, pkKey)

	sort.SliceStable(rows, func(i, j int) bool {
		return compareRows(rows[i].row, rows[j].row, pkKey, keyIdx) < 0
	})

	// Collapse runs of equal primary keys, keeping the latest writer: the
	// highest chunk index, then the highest row index within that chunk.
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && compareRows(rows[i].row, rows[j].row, pkKey, keyIdx) == 0 {
			j++
		}
		winner := rows[i]
		for _, r := range rows[i+1 : j] {
			if r.chunkIdx > winner.chunkIdx ||
				(r.chunkIdx == winner.chunkIdx && r.rowIdx > winner.rowIdx) {
				winner = r
			}
		}
		out.AppendRow(winner.row)
		i = j
	}
	return out, nil
}

// filterBatch keeps rows satisfying every expression.
func filterBatch(in *chunk.Batch, exprs []chunk.Expr) *chunk.Batch {
	out := chunk.NewBatch(in.Columns)
	for i := 0; i < in.NumRows(); i++ {
		values := in.RowValues(i)
		keep := true
		for _, e := range exprs {
			if !e.Matches(values) {
				keep = false
				break
			}
		}
		if keep {
			out.AppendRow(in.Rows[i])
		}
	}
	return out
}

// sortBatch orders the batch's rows by the key in place.
func sortBatch(b *chunk.Batch, key schema.SortKey) {
	idx := keyIndices(b.Columns, key)
	sort.SliceStable(b.Rows, func(i, j int) bool {
		return compareRows(b.Rows[i], b.Rows[j], key, idx) < 0
	})
}

// splitBatch divides rows on the time column: time <= splitTime first, the
// rest second. Input order is preserved within each partition.
func splitBatch(in *chunk.Batch, splitTime int64) (below, above *chunk.Batch) {
	below = chunk.NewBatch(in.Columns)
	above = chunk.NewBatch(in.Columns)
	tIdx := in.ColumnIndex(schema.TimeColumn)
	for _, row := range in.Rows {
		ts, _ := row[tIdx].(int64)
		if ts <= splitTime {
			below.AppendRow(row)
		} else {
			above.AppendRow(row)
		}
	}
	return below, above
}

// keyIndices resolves each sort field's column index, -1 when absent.
func keyIndices(columns []string, key schema.SortKey) []int {
	idx := make([]int, len(key))
	for i, f := range key {
		idx[i] = -1
		for j, col := range columns {
			if col == f.Column {
				idx[i] = j
				break
			}
		}
	}
	return idx
}

// compareRows orders two rows by the sort key, honoring each field's
// direction and null placement.
func compareRows(a, b []interface{}, key schema.SortKey, idx []int) int {
	for i, f := range key {
		j := idx[i]
		if j < 0 {
			continue
		}
		cmp := compareField(a[j], b[j], f)
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

func compareField(a, b interface{}, f schema.SortField) int {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0
		}
		nullCmp := 1
		if f.NullsFirst {
			nullCmp = -1
		}
		if a == nil {
			return nullCmp
		}
		return -nullCmp
	}
	cmp := chunk.CompareValues(a, b)
	if f.Descending {
		return -cmp
	}
	return cmp
}
