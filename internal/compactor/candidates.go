// Package compactor runs background chunk reorganization: it finds groups
// of chunks worth rewriting, executes compact or split plans over them, and
// swaps the results into the catalog.
package compactor

import (
	"context"
	"sort"

	"github.com/tephradb/tephra/internal/catalog"
)

// CandidateGroup is a set of chunks one job rewrites together.
type CandidateGroup struct {
	TableName string
	Records   []*catalog.ChunkRecord
}

// TotalRows sums the group's row counts.
func (g *CandidateGroup) TotalRows() int64 {
	var total int64
	for _, r := range g.Records {
		total += r.RowCount
	}
	return total
}

// TimeExtent returns the group's combined [min,max] time range.
func (g *CandidateGroup) TimeExtent() (min, max int64) {
	min, max = g.Records[0].MinTime, g.Records[0].MaxTime
	for _, r := range g.Records[1:] {
		if r.MinTime < min {
			min = r.MinTime
		}
		if r.MaxTime > max {
			max = r.MaxTime
		}
	}
	return min, max
}

// CandidateFinder selects chunks worth reorganizing.
type CandidateFinder struct {
	catalog         catalog.Catalog
	maxChunksPerJob int
}

// NewCandidateFinder creates a finder reading from the catalog.
func NewCandidateFinder(cat catalog.Catalog, maxChunksPerJob int) *CandidateFinder {
	return &CandidateFinder{catalog: cat, maxChunksPerJob: maxChunksPerJob}
}

// FindCandidates returns the best candidate group for a table, or nil when
// nothing needs work. Chunks qualify when their time ranges overlap another
// chunk's, or when they were never sorted and deduplicated. The group is
// capped at the per-job chunk limit, oldest chunks first.
func (f *CandidateFinder) FindCandidates(ctx context.Context, tableName string) (*CandidateGroup, error) {
	live, err := f.catalog.ListActiveChunks(ctx, tableName)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, nil
	}

	// Sort by time range so overlap grouping is a single sweep.
	byTime := make([]*catalog.ChunkRecord, len(live))
	copy(byTime, live)
	sort.Slice(byTime, func(i, j int) bool {
		if byTime[i].MinTime != byTime[j].MinTime {
			return byTime[i].MinTime < byTime[j].MinTime
		}
		return byTime[i].CreatedAt.Before(byTime[j].CreatedAt)
	})

	group := largestOverlappingRun(byTime)
	if len(group) < 2 {
		// No overlaps; a lone unsorted chunk still deserves a rewrite.
		group = nil
		for _, r := range byTime {
			if !r.Sorted || !r.Deduplicated {
				group = []*catalog.ChunkRecord{r}
				break
			}
		}
	}
	if group == nil {
		return nil, nil
	}

	if len(group) > f.maxChunksPerJob {
		group = group[:f.maxChunksPerJob]
	}
	return &CandidateGroup{TableName: tableName, Records: group}, nil
}

// largestOverlappingRun finds the longest run of chunks whose time ranges
// chain together, scanning records ordered by MinTime.
func largestOverlappingRun(records []*catalog.ChunkRecord) []*catalog.ChunkRecord {
	var best []*catalog.ChunkRecord
	start := 0
	extentMax := records[0].MaxTime
	for i := 1; i <= len(records); i++ {
		if i < len(records) && records[i].MinTime <= extentMax {
			if records[i].MaxTime > extentMax {
				extentMax = records[i].MaxTime
			}
			continue
		}
		if i-start > len(best) {
			best = records[start:i]
		}
		if i < len(records) {
			start = i
			extentMax = records[i].MaxTime
		}
	}
	return best
}
