package plan

import (
	"log"

	"github.com/tephradb/tephra/internal/chunk"
)

// Pruner decides which chunks a scan can skip without reading row data.
// Pruning is advisory: keeping a prunable chunk is correct, dropping a chunk
// that holds matching rows is not.
type Pruner interface {
	Prune(chunks []chunk.Chunk, predicate *chunk.Predicate) []chunk.Chunk
}

// NoopPruner keeps every chunk. Reorganization plans use it: compaction must
// rewrite all input chunks regardless of any predicate.
type NoopPruner struct{}

func (NoopPruner) Prune(chunks []chunk.Chunk, _ *chunk.Predicate) []chunk.Chunk {
	return chunks
}

// MetadataPruner skips chunks whose metadata proves they hold no matching
// rows, using the time extent and per-tag bloom filters. Chunks that do not
// expose metadata are always kept.
type MetadataPruner struct{}

func (MetadataPruner) Prune(chunks []chunk.Chunk, predicate *chunk.Predicate) []chunk.Chunk {
	if predicate == nil {
		return chunks
	}

	kept := make([]chunk.Chunk, 0, len(chunks))
	for _, c := range chunks {
		meta, ok := c.(chunk.Meta)
		if !ok {
			kept = append(kept, c)
			continue
		}
		if prunable(meta, predicate) {
			log.Printf("plan: pruned chunk %s from scan", c.ID())
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// prunable reports whether metadata proves the chunk holds no matching rows.
func prunable(meta chunk.Meta, predicate *chunk.Predicate) bool {
	if predicate.Range != nil {
		if extent, ok := meta.TimeRange(); ok {
			if extent.Max < predicate.Range.Min || extent.Min > predicate.Range.Max {
				return true
			}
		}
	}
	for _, e := range predicate.Exprs {
		if e.Op != "=" {
			continue
		}
		value, ok := e.Value.(string)
		if !ok {
			continue
		}
		if !meta.MayContainTagValue(e.Column, value) {
			return true
		}
	}
	return false
}
