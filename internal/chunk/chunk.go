package chunk

import (
	"context"

	"github.com/google/uuid"

	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/tombstone"
)

// Selection names the columns a scan should produce. A nil selection means
// all columns.
type Selection []string

// All is the selection that requests every column.
var All Selection

// Stream is a forward-only, exhaustible sequence of batches. A finished
// stream is not reusable; build a new plan to re-read.
type Stream interface {
	// Next returns the next batch, or ok=false when the stream is exhausted.
	Next() (batch *Batch, ok bool)
}

// sliceStream streams over an in-memory batch slice.
type sliceStream struct {
	batches []*Batch
	pos     int
}

// NewStream returns a stream over the given batches.
func NewStream(batches ...*Batch) Stream {
	return &sliceStream{batches: batches}
}

func (s *sliceStream) Next() (*Batch, bool) {
	if s.pos >= len(s.batches) {
		return nil, false
	}
	b := s.batches[s.pos]
	s.pos++
	return b, true
}

// Expr is a single column comparison pushed down to a scan or applied by a
// filter plan node. Conjunctions are expressed as []Expr.
type Expr struct {
	Column string
	Op     string // =, !=, <, <=, >, >=
	Value  interface{}
}

// Matches evaluates the comparison against a row's column values. A NULL
// (or absent) column value never satisfies a comparison.
func (e Expr) Matches(values map[string]interface{}) bool {
	v, ok := values[e.Column]
	if !ok || v == nil {
		return false
	}
	cmp := CompareValues(v, e.Value)
	switch e.Op {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

// Predicate is a pushed-down scan predicate: an optional time window plus
// conjunctive column comparisons. Chunk implementations are free to ignore
// it and let the surrounding plan filter instead; it exists so persisted
// chunks can skip rows cheaply.
type Predicate struct {
	// Range optionally restricts the scan to a time window
	Range *tombstone.TimestampRange

	// Exprs are conjunctive column comparisons
	Exprs []Expr
}

// Matches reports whether a row passes the predicate. A nil predicate
// matches everything.
func (p *Predicate) Matches(ts int64, values map[string]interface{}) bool {
	if p == nil {
		return true
	}
	if p.Range != nil && !p.Range.Contains(ts) {
		return false
	}
	for _, e := range p.Exprs {
		if !e.Matches(values) {
			return false
		}
	}
	return true
}

// Chunk is a named, schema-bearing, read-only data source participating in a
// plan. Concrete variants are the persisted chunk handle and the ingester's
// in-memory queryable batch. Chunks are capability objects: they do not own
// their storage format and are never mutated by the planner.
type Chunk interface {
	// ID returns the chunk's stable identifier.
	ID() uuid.UUID

	// TableName returns the owning table's name.
	TableName() string

	// Schema returns the chunk's column schema.
	Schema() (*schema.Schema, error)

	// DeletePredicates returns the delete predicates attached to the chunk.
	// Rows matching any of them are excluded from plan output.
	DeletePredicates() []*tombstone.DeletePredicate

	// MayContainDuplicates reports whether the chunk may hold rows with a
	// duplicate primary key. False only for chunks known deduplicated.
	MayContainDuplicates() bool

	// SortedOnPK reports whether the chunk's rows are already ordered on the
	// primary key (tags, then time).
	SortedOnPK() bool

	// ReadFilter produces the chunk's row stream, restricted to the given
	// column selection. The predicate is advisory: implementations that do
	// not filter locally rely on the surrounding plan to do so.
	ReadFilter(ctx context.Context, predicate *Predicate, selection Selection) (Stream, error)
}

// Meta carries the scan-independent metadata the pruner consults: the
// chunk's time extent and optionally a set of tag-value fingerprints.
// Planning never inspects row data, only metadata like this.
type Meta interface {
	// TimeRange returns the chunk's [min,max] time extent and whether the
	// extent is known.
	TimeRange() (tombstone.TimestampRange, bool)

	// MayContainTagValue reports whether the chunk might hold the given tag
	// value. False positives are allowed; false negatives are not.
	MayContainTagValue(column, value string) bool
}
