// Package ingester holds the in-memory query surface of not-yet-persisted
// data. A QueryableBatch wraps the snapshot batches of one table partition so
// the reorg planner can treat buffered writes as a chunk.
package ingester

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/tombstone"
)

// SnapshotBatch is one immutable snapshot of buffered writes, tagged with the
// sequence number window it covers.
type SnapshotBatch struct {
	// MinSequence and MaxSequence bound the write sequence numbers captured
	// in this snapshot, inclusive
	MinSequence uint64
	MaxSequence uint64

	// Schema describes the columns this snapshot carries
	Schema *schema.Schema

	// Data holds the snapshot's rows
	Data *chunk.Batch
}

// Project returns the snapshot's rows restricted to the requested columns,
// or nil when the snapshot holds none of them.
func (s *SnapshotBatch) Project(selection []string) *chunk.Batch {
	out := s.Data.Project(selection)
	if len(out.Columns) == 0 {
		return nil
	}
	return out
}

// QueryableBatch presents a set of snapshot batches as a single chunk.
// Snapshots may disagree on columns; reads merge them on the fly. Delete
// predicates are materialized once at construction so a corrupt tombstone
// fails the batch before any plan runs against it.
type QueryableBatch struct {
	id        uuid.UUID
	tableName string
	snapshots []SnapshotBatch
	deletes   []*tombstone.DeletePredicate
}

// NewQueryableBatch builds a queryable batch over the given snapshots,
// parsing every tombstone up front.
func NewQueryableBatch(tableName string, snapshots []SnapshotBatch, tombstones []tombstone.Tombstone) (*QueryableBatch, error) {
	b := &QueryableBatch{
		id:        uuid.New(),
		tableName: tableName,
		snapshots: snapshots,
	}
	if err := b.AddTombstones(tombstones); err != nil {
		return nil, err
	}
	return b, nil
}

// AddTombstones parses and attaches further delete records. Any parse
// failure rejects the whole set.
func (b *QueryableBatch) AddTombstones(tombstones []tombstone.Tombstone) error {
	parsed := make([]*tombstone.DeletePredicate, 0, len(tombstones))
	for _, t := range tombstones {
		p, err := t.Parse()
		if err != nil {
			return errors.Wrap(errors.ErrCategoryPredicate, errors.CodeParseError,
				fmt.Sprintf("tombstone %d for table %q is unreadable", t.ID, b.tableName), err)
		}
		parsed = append(parsed, p)
	}
	b.deletes = append(b.deletes, parsed...)
	return nil
}

// ID returns the batch's identifier.
func (b *QueryableBatch) ID() uuid.UUID { return b.id }

// TableName returns the owning table's name.
func (b *QueryableBatch) TableName() string { return b.tableName }

// NumSnapshots returns the number of snapshot batches.
func (b *QueryableBatch) NumSnapshots() int { return len(b.snapshots) }

// Schema merges the snapshot schemas into the batch's unified read schema.
func (b *QueryableBatch) Schema() (*schema.Schema, error) {
	schemas := make([]*schema.Schema, len(b.snapshots))
	for i, s := range b.snapshots {
		schemas[i] = s.Schema
	}
	merged, err := schema.Merge(schemas...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategorySchema, errors.CodeSchemaConflict,
			fmt.Sprintf("snapshot schemas for table %q do not merge", b.tableName), err)
	}
	return merged, nil
}

// DeletePredicates returns the predicates parsed at construction.
func (b *QueryableBatch) DeletePredicates() []*tombstone.DeletePredicate {
	return b.deletes
}

// MayContainDuplicates always reports true: buffered data has never been
// deduplicated against itself or against persisted chunks.
func (b *QueryableBatch) MayContainDuplicates() bool { return true }

// SortedOnPK always reports false: snapshots arrive in write order.
func (b *QueryableBatch) SortedOnPK() bool { return false }

// MinMaxSequenceNumbers returns the sequence number window covered by all
// snapshots. Panics when the batch holds no snapshots: callers create
// queryable batches from at least one snapshot, so an empty one is a
// programming error, not an input condition.
func (b *QueryableBatch) MinMaxSequenceNumbers() (min, max uint64) {
	if len(b.snapshots) == 0 {
		panic("ingester: queryable batch has no snapshots")
	}
	min = b.snapshots[0].MinSequence
	max = b.snapshots[0].MaxSequence
	for _, s := range b.snapshots[1:] {
		if s.MinSequence < min {
			min = s.MinSequence
		}
		if s.MaxSequence > max {
			max = s.MaxSequence
		}
	}
	return min, max
}

// ReadFilter concatenates the snapshots into one batch on the merged
// schema, null-padding columns a snapshot lacks and skipping snapshots that
// hold none of the selected columns. The predicate is ignored:
// buffered data is small and the surrounding plan filters and deduplicates
// anyway.
func (b *QueryableBatch) ReadFilter(ctx context.Context, _ *chunk.Predicate, selection chunk.Selection) (chunk.Stream, error) {
	merged, err := b.Schema()
	if err != nil {
		return nil, err
	}

	columns := merged.ColumnNames()
	if selection != nil {
		var kept []string
		for _, col := range selection {
			if _, ok := merged.Column(col); ok {
				kept = append(kept, col)
			}
		}
		if len(kept) == 0 {
			// Selection names no column any snapshot carries; an empty
			// result, not an error.
			return chunk.NewStream(chunk.NewBatch(nil)), nil
		}
		columns = kept
	}

	// A snapshot carrying none of the selected columns contributes no rows,
	// not all-NULL ones.
	data := make([]*chunk.Batch, 0, len(b.snapshots))
	for _, s := range b.snapshots {
		if proj := s.Project(columns); proj != nil {
			data = append(data, proj)
		}
	}
	return chunk.NewStream(chunk.Concat(columns, data...)), nil
}
