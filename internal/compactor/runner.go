package compactor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/tephradb/tephra/internal/catalog"
	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/config"
	"github.com/tephradb/tephra/internal/exec"
	"github.com/tephradb/tephra/internal/plan"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/storage"
	"github.com/tephradb/tephra/internal/tombstone"
)

// Runner executes one compaction job end to end: download, plan, execute,
// upload, swap in the catalog.
type Runner struct {
	catalog  catalog.Catalog
	store    storage.ObjectStorage
	planner  *plan.ReorgPlanner
	executor *exec.Executor
	workDir  string
	cfg      config.CompactorConfig
}

// NewRunner creates a job runner working under workDir.
func NewRunner(cat catalog.Catalog, store storage.ObjectStorage, workDir string, cfg config.CompactorConfig) *Runner {
	return &Runner{
		catalog:  cat,
		store:    store,
		planner:  plan.NewReorgPlanner(),
		executor: exec.New(),
		workDir:  workDir,
		cfg:      cfg,
	}
}

// Run rewrites the candidate group. When the combined input exceeds the
// configured row cap the group is split on the midpoint of its time extent
// into two output chunks; otherwise it is compacted into one. Returns the
// IDs of the chunks written.
func (r *Runner) Run(ctx context.Context, group *CandidateGroup) ([]string, error) {
	if err := os.MkdirAll(r.workDir, 0755); err != nil {
		return nil, fmt.Errorf("compactor: failed to create work dir: %w", err)
	}

	tombstones, err := r.catalog.TombstonesForTable(ctx, group.TableName)
	if err != nil {
		return nil, err
	}

	chunks, cleanup, err := r.openInputs(ctx, group, tombstones)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	merged, err := plan.UnifiedSchema(chunks)
	if err != nil {
		return nil, err
	}
	sortKey := merged.PKSortKey()

	var root plan.Node
	if group.TotalRows() > r.cfg.MaxRowsPerChunk {
		minTime, maxTime := group.TimeExtent()
		splitTime := minTime + (maxTime-minTime)/2
		_, root, err = r.planner.SplitPlan(merged, chunks, sortKey, splitTime)
		log.Printf("compactor: splitting %d chunks of table %q at time %d",
			len(chunks), group.TableName, splitTime)
	} else {
		_, root, err = r.planner.CompactPlan(merged, chunks, sortKey)
	}
	if err != nil {
		return nil, err
	}

	partitions, err := r.executor.Execute(ctx, root)
	if err != nil {
		return nil, err
	}

	outSchema := merged.WithSortKey(sortKey)
	var targetIDs []string
	for _, part := range partitions {
		if part.NumRows() == 0 {
			continue
		}
		id, err := r.writeOutput(ctx, group.TableName, outSchema, part)
		if err != nil {
			return nil, err
		}
		targetIDs = append(targetIDs, id)
	}
	if len(targetIDs) == 0 {
		// Deletes can drain the input entirely; the sources still retire.
		targetIDs = []string{""}
	}

	sourceIDs := make([]string, len(group.Records))
	for i, rec := range group.Records {
		sourceIDs[i] = rec.ChunkID
	}
	if err := r.catalog.MarkCompacted(ctx, sourceIDs, targetIDs[0]); err != nil {
		return nil, err
	}

	log.Printf("compactor: table %q: %d chunks -> %d", group.TableName, len(sourceIDs), len(targetIDs))
	return targetIDs, nil
}

// openInputs downloads and opens the group's chunk files and attaches the
// table's tombstones. The returned cleanup closes handles and removes the
// downloaded files.
func (r *Runner) openInputs(ctx context.Context, group *CandidateGroup, tombstones []tombstone.Tombstone) ([]chunk.Chunk, func(), error) {
	var opened []*chunk.PersistedChunk
	var paths []string
	cleanup := func() {
		for _, c := range opened {
			c.Close()
		}
		for _, p := range paths {
			os.Remove(p)
		}
	}

	predicates := make([]*tombstone.DeletePredicate, 0, len(tombstones))
	for _, t := range tombstones {
		p, err := t.Parse()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		predicates = append(predicates, p)
	}

	chunks := make([]chunk.Chunk, 0, len(group.Records))
	for _, rec := range group.Records {
		localPath := filepath.Join(r.workDir, filepath.Base(rec.ObjectPath))
		if err := r.store.Download(ctx, rec.ObjectPath, localPath); err != nil {
			cleanup()
			return nil, nil, err
		}
		paths = append(paths, localPath)

		c, err := chunk.OpenPersisted(ctx, localPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opened = append(opened, c)

		c.AttachDeletePredicates(predicates...)
		chunks = append(chunks, c)
	}
	return chunks, cleanup, nil
}

// writeOutput persists one output partition as a new chunk, uploads it, and
// registers it in the catalog.
func (r *Runner) writeOutput(ctx context.Context, tableName string, sch *schema.Schema, part *chunk.Batch) (string, error) {
	localPath := filepath.Join(r.workDir, fmt.Sprintf("compact-%d.sqlite", time.Now().UnixNano()))
	defer os.Remove(localPath)

	out, err := chunk.WritePersisted(ctx, localPath, tableName, sch, []*chunk.Batch{part},
		chunk.WriteOptions{SortedOnPK: true, Deduplicated: true})
	if err != nil {
		return "", err
	}
	defer out.Close()

	objectPath := fmt.Sprintf("chunks/%s/%s.sqlite", tableName, out.ID())
	if err := r.store.Upload(ctx, localPath, objectPath); err != nil {
		return "", err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("compactor: failed to stat output chunk: %w", err)
	}
	extent, _ := out.TimeRange()

	rec := &catalog.ChunkRecord{
		ChunkID:      out.ID().String(),
		TableName:    tableName,
		ObjectPath:   objectPath,
		MinTime:      extent.Min,
		MaxTime:      extent.Max,
		RowCount:     out.RowCount(),
		SizeBytes:    info.Size(),
		Sorted:       true,
		Deduplicated: true,
		CreatedAt:    time.Now(),
	}
	if err := r.catalog.RegisterChunk(ctx, rec); err != nil {
		return "", err
	}
	return rec.ChunkID, nil
}
