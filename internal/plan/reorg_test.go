package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tephradb/tephra/internal/chunk"
	tephraerrors "github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/tombstone"
)

// memChunk is an in-memory chunk fake for planner tests.
type memChunk struct {
	id        uuid.UUID
	table     string
	schema    *schema.Schema
	data      *chunk.Batch
	deletes   []*tombstone.DeletePredicate
	sorted    bool
	dedup     bool
	timeRange *tombstone.TimestampRange
	tagValues map[string]map[string]bool
}

func newMemChunk(table string, sch *schema.Schema) *memChunk {
	return &memChunk{
		id:     uuid.New(),
		table:  table,
		schema: sch,
		data:   chunk.NewBatch(sch.ColumnNames()),
	}
}

func (c *memChunk) ID() uuid.UUID                                  { return c.id }
func (c *memChunk) TableName() string                              { return c.table }
func (c *memChunk) Schema() (*schema.Schema, error)                { return c.schema, nil }
func (c *memChunk) DeletePredicates() []*tombstone.DeletePredicate { return c.deletes }
func (c *memChunk) MayContainDuplicates() bool                     { return !c.dedup }
func (c *memChunk) SortedOnPK() bool                               { return c.sorted }

func (c *memChunk) ReadFilter(_ context.Context, _ *chunk.Predicate, selection chunk.Selection) (chunk.Stream, error) {
	if selection == nil {
		return chunk.NewStream(c.data), nil
	}
	return chunk.NewStream(c.data.Project(selection)), nil
}

func (c *memChunk) TimeRange() (tombstone.TimestampRange, bool) {
	if c.timeRange == nil {
		return tombstone.TimestampRange{}, false
	}
	return *c.timeRange, true
}

func (c *memChunk) MayContainTagValue(column, value string) bool {
	values, ok := c.tagValues[column]
	if !ok {
		return true
	}
	return values[value]
}

func weatherSchema() *schema.Schema {
	return schema.MustNew([]schema.Column{
		{Name: "city", Type: schema.TypeString, Kind: schema.KindTag, Nullable: true},
		{Name: "temp", Type: schema.TypeFloat64, Kind: schema.KindField, Nullable: true},
		{Name: "time", Type: schema.TypeTimestamp, Kind: schema.KindTime},
	})
}

func TestCompactPlan_Shape(t *testing.T) {
	sch := weatherSchema()
	c1 := newMemChunk("weather", sch)
	c2 := newMemChunk("weather", sch)
	key := sch.PKSortKey()

	outSchema, root, err := NewReorgPlanner().CompactPlan(sch, []chunk.Chunk{c1, c2}, key)
	if err != nil {
		t.Fatal(err)
	}

	sortNode, ok := root.(*SortNode)
	if !ok {
		t.Fatalf("expected Sort at the root, got %T", root)
	}
	if !sortNode.Key.Equal(key) {
		t.Errorf("sort key = %s, want %s", sortNode.Key, key)
	}

	scan, ok := sortNode.Input.(*ScanNode)
	if !ok {
		t.Fatalf("expected Scan under Sort, got %T", sortNode.Input)
	}
	if !scan.Deduplicate {
		t.Error("compaction scan must deduplicate")
	}
	if !scan.Provider.EnsurePKSort() {
		t.Error("compaction provider must require PK sort")
	}
	if len(scan.Provider.Chunks()) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(scan.Provider.Chunks()))
	}

	if !outSchema.SortKey.Equal(key) {
		t.Errorf("output schema sort key = %s, want %s", outSchema.SortKey, key)
	}
}

func TestCompactPlan_SortKeyCopyOnWrite(t *testing.T) {
	key := weatherSchema().PKSortKey()
	sch := weatherSchema().WithSortKey(key)

	outSchema, _, err := NewReorgPlanner().CompactPlan(sch, []chunk.Chunk{newMemChunk("weather", sch)}, key)
	if err != nil {
		t.Fatal(err)
	}
	if outSchema != sch {
		t.Error("schema already carrying the sort key must be returned unchanged")
	}

	// A different key forces a copy; the input schema keeps its key.
	other := schema.SortKey{{Column: "time"}}
	outSchema, _, err = NewReorgPlanner().CompactPlan(sch, []chunk.Chunk{newMemChunk("weather", sch)}, other)
	if err != nil {
		t.Fatal(err)
	}
	if outSchema == sch {
		t.Error("expected a new schema for a different sort key")
	}
	if !sch.SortKey.Equal(key) {
		t.Error("input schema must not be mutated")
	}
}

func TestCompactPlan_ZeroChunks(t *testing.T) {
	sch := weatherSchema()
	_, _, err := NewReorgPlanner().CompactPlan(sch, nil, sch.PKSortKey())
	if err == nil {
		t.Fatal("expected precondition failure for zero chunks")
	}
	if !errors.Is(err, tephraerrors.New(tephraerrors.ErrCategoryPrecondition, tephraerrors.CodeNoChunks, "")) {
		t.Errorf("expected NO_CHUNKS precondition, got %v", err)
	}
}

func TestCompactPlan_TableMismatch(t *testing.T) {
	sch := weatherSchema()
	c1 := newMemChunk("weather", sch)
	c2 := newMemChunk("metrics", sch)

	_, _, err := NewReorgPlanner().CompactPlan(sch, []chunk.Chunk{c1, c2}, sch.PKSortKey())
	if err == nil {
		t.Fatal("expected precondition failure for cross-table chunks")
	}
	if !errors.Is(err, tephraerrors.New(tephraerrors.ErrCategoryPrecondition, tephraerrors.CodeTableMismatch, "")) {
		t.Errorf("expected TABLE_MISMATCH precondition, got %v", err)
	}
}

func TestSplitPlan_Shape(t *testing.T) {
	sch := weatherSchema()
	c := newMemChunk("weather", sch)

	_, root, err := NewReorgPlanner().SplitPlan(sch, []chunk.Chunk{c}, sch.PKSortKey(), 2000)
	if err != nil {
		t.Fatal(err)
	}

	split, ok := root.(*SplitNode)
	if !ok {
		t.Fatalf("expected Split at the root, got %T", root)
	}
	if split.SplitTime != 2000 {
		t.Errorf("split time = %d, want 2000", split.SplitTime)
	}
	if _, ok := split.Input.(*SortNode); !ok {
		t.Fatalf("expected Sort under Split, got %T", split.Input)
	}
}

func TestScanSingleChunkPlan(t *testing.T) {
	sch := weatherSchema()
	c := newMemChunk("weather", sch)

	root, err := NewReorgPlanner().ScanSingleChunkPlan(sch, c, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	scan, ok := root.(*ScanNode)
	if !ok {
		t.Fatalf("expected bare Scan, got %T", root)
	}
	if scan.Deduplicate {
		t.Error("single chunk scan must not deduplicate")
	}
	if len(scan.Provider.Chunks()) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(scan.Provider.Chunks()))
	}
}

func TestScanSingleChunkPlan_ProjectionAndFilters(t *testing.T) {
	sch := weatherSchema()
	c := newMemChunk("weather", sch)

	root, err := NewReorgPlanner().ScanSingleChunkPlan(sch, c,
		[]string{"city", "time"},
		[]chunk.Expr{{Column: "city", Op: "=", Value: "Boston"}})
	if err != nil {
		t.Fatal(err)
	}

	proj, ok := root.(*ProjectNode)
	if !ok {
		t.Fatalf("expected Project at the root, got %T", root)
	}
	if got := proj.OutputSchema().ColumnNames(); len(got) != 2 || got[0] != "city" || got[1] != "time" {
		t.Errorf("projected schema columns = %v", got)
	}
	filter, ok := proj.Input.(*FilterNode)
	if !ok {
		t.Fatalf("expected Filter under Project, got %T", proj.Input)
	}
	if _, ok := filter.Input.(*ScanNode); !ok {
		t.Fatalf("expected Scan under Filter, got %T", filter.Input)
	}
}

func TestUnifiedSchema(t *testing.T) {
	tagOnly := schema.MustNew([]schema.Column{
		{Name: "city", Type: schema.TypeString, Kind: schema.KindTag, Nullable: true},
		{Name: "time", Type: schema.TypeTimestamp, Kind: schema.KindTime},
	})
	fieldOnly := schema.MustNew([]schema.Column{
		{Name: "temp", Type: schema.TypeFloat64, Kind: schema.KindField, Nullable: true},
		{Name: "time", Type: schema.TypeTimestamp, Kind: schema.KindTime},
	})

	merged, err := UnifiedSchema([]chunk.Chunk{
		newMemChunk("weather", tagOnly),
		newMemChunk("weather", fieldOnly),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Columns) != 3 {
		t.Errorf("expected 3 merged columns, got %d", len(merged.Columns))
	}

	if _, err := UnifiedSchema(nil); err == nil {
		t.Error("expected error for zero chunks")
	}
}
