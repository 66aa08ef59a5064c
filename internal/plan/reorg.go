package plan

import (
	"fmt"
	"log"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/schema"
)

// ReorgPlanner builds the plans behind chunk reorganization: compacting a
// set of overlapping chunks into one sorted, deduplicated stream, and
// splitting that stream in two on a time boundary.
type ReorgPlanner struct{}

// NewReorgPlanner creates a reorganization planner.
func NewReorgPlanner() *ReorgPlanner {
	return &ReorgPlanner{}
}

// ScanSingleChunkPlan builds a plan that reads one chunk as-is on the given
// schema, with no sorting, deduplication, or delete application. An optional
// projection restricts the output columns and filters are conjunctive row
// predicates. Used to stream a chunk's raw contents, for example when
// persisting it unchanged.
func (p *ReorgPlanner) ScanSingleChunkPlan(sch *schema.Schema, c chunk.Chunk, projection []string, filters []chunk.Expr) (Node, error) {
	provider, err := NewProviderBuilder(c.TableName()).
		WithSchema(sch).
		AddChunk(c).
		Build()
	if err != nil {
		return nil, err
	}

	var root Node = &ScanNode{Provider: provider, Schema: sch}
	if len(filters) > 0 {
		root = &FilterNode{Input: root, Exprs: filters}
	}
	if projection != nil {
		root = &ProjectNode{Input: root, Columns: projection, Schema: sch.Project(projection)}
	}
	return root, nil
}

// CompactPlan builds a plan that merges the chunks onto the unified schema,
// applies their delete predicates, deduplicates on the primary key, and
// sorts the result by sortKey. The returned schema is the input schema
// carrying sortKey; when the input already carries it, the input schema is
// returned unchanged.
func (p *ReorgPlanner) CompactPlan(sch *schema.Schema, chunks []chunk.Chunk, sortKey schema.SortKey) (*schema.Schema, Node, error) {
	provider, err := p.reorgProvider(sch, chunks)
	if err != nil {
		return nil, nil, err
	}

	outSchema := sch.WithSortKey(sortKey)
	root := &SortNode{
		Input: &ScanNode{Provider: provider, Schema: outSchema, Deduplicate: true},
		Key:   sortKey,
	}

	log.Printf("plan: compact plan for table %q over %d chunks, sort key %s",
		provider.TableName(), len(chunks), sortKey)
	return outSchema, root, nil
}

// SplitPlan builds a compact plan whose output is divided into two
// partitions on the time column: rows with time <= splitTime, then the rest.
// Both partitions preserve the compacted sort order.
func (p *ReorgPlanner) SplitPlan(sch *schema.Schema, chunks []chunk.Chunk, sortKey schema.SortKey, splitTime int64) (*schema.Schema, Node, error) {
	outSchema, compacted, err := p.CompactPlan(sch, chunks, sortKey)
	if err != nil {
		return nil, nil, err
	}
	return outSchema, &SplitNode{Input: compacted, SplitTime: splitTime}, nil
}

// reorgProvider wraps the chunks in a provider requiring PK-sorted,
// deduplicated scans. Reorganization rewrites every input chunk, so the
// provider prunes nothing.
func (p *ReorgPlanner) reorgProvider(sch *schema.Schema, chunks []chunk.Chunk) (*Provider, error) {
	if len(chunks) == 0 {
		return nil, errors.NewPrecondition(errors.CodeNoChunks,
			"reorganization plan requires at least one chunk")
	}

	b := NewProviderBuilder(chunks[0].TableName()).
		WithSchema(sch).
		WithPruner(NoopPruner{}).
		WithEnsurePKSort()
	for _, c := range chunks {
		b.AddChunk(c)
	}
	provider, err := b.Build()
	if err != nil {
		return nil, err
	}
	return provider, nil
}

// UnifiedSchema merges the schemas of the given chunks. Convenience for
// callers that plan over chunks without a precomputed table schema.
func UnifiedSchema(chunks []chunk.Chunk) (*schema.Schema, error) {
	if len(chunks) == 0 {
		return nil, errors.NewPrecondition(errors.CodeNoChunks,
			"cannot unify schemas of zero chunks")
	}
	schemas := make([]*schema.Schema, 0, len(chunks))
	for _, c := range chunks {
		s, err := c.Schema()
		if err != nil {
			return nil, errors.NewPlanError(
				fmt.Sprintf("chunk %s schema unavailable", c.ID()), err)
		}
		schemas = append(schemas, s)
	}
	return schema.Merge(schemas...)
}
