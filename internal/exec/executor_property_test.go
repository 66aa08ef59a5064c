package exec

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/plan"
)

func TestProperty_SplitConservesRows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("split partitions conserve rows and respect the boundary", prop.ForAll(
		func(times []int64, splitTime int64) bool {
			sch := weatherSchema()
			rows := make([][]interface{}, len(times))
			for i, ts := range times {
				// Distinct tags keep dedup out of the row count.
				rows[i] = []interface{}{fmt.Sprintf("tag-%d", i), int64(i), ts}
			}
			c := newMemChunk("weather", sch, rows...)

			_, root, err := plan.NewReorgPlanner().SplitPlan(sch, []chunk.Chunk{c}, sch.PKSortKey(), splitTime)
			if err != nil {
				return false
			}
			parts, err := New().Execute(context.Background(), root)
			if err != nil || len(parts) != 2 {
				return false
			}

			if parts[0].NumRows()+parts[1].NumRows() != len(times) {
				return false
			}
			for i := 0; i < parts[0].NumRows(); i++ {
				if parts[0].Value(i, "time").(int64) > splitTime {
					return false
				}
			}
			for i := 0; i < parts[1].NumRows(); i++ {
				if parts[1].Value(i, "time").(int64) <= splitTime {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 5000)),
		gen.Int64Range(0, 5000),
	))

	properties.Property("compaction output is sorted and duplicate-free on the primary key", prop.ForAll(
		func(times []int64) bool {
			sch := weatherSchema()
			rows := make([][]interface{}, len(times))
			for i, ts := range times {
				// A single tag value forces collisions on equal times.
				rows[i] = []interface{}{"host", int64(i), ts}
			}
			c := newMemChunk("weather", sch, rows...)

			_, root, err := plan.NewReorgPlanner().CompactPlan(sch, []chunk.Chunk{c}, sch.PKSortKey())
			if err != nil {
				return false
			}
			parts, err := New().Execute(context.Background(), root)
			if err != nil || len(parts) != 1 {
				return false
			}
			out := parts[0]
			for i := 1; i < out.NumRows(); i++ {
				prev := out.Value(i-1, "time").(int64)
				cur := out.Value(i, "time").(int64)
				if prev >= cur {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 100)),
	))

	properties.TestingRun(t)
}
