package compactor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tephradb/tephra/internal/catalog"
	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/config"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/storage"
	"github.com/tephradb/tephra/internal/tombstone"
)

func testSchema() *schema.Schema {
	return schema.MustNew([]schema.Column{
		{Name: "city", Type: schema.TypeString, Kind: schema.KindTag, Nullable: true},
		{Name: "temp", Type: schema.TypeInt64, Kind: schema.KindField, Nullable: true},
		{Name: "time", Type: schema.TypeTimestamp, Kind: schema.KindTime},
	})
}

type fixture struct {
	catalog *catalog.SQLiteCatalog
	store   *storage.LocalStorage
	workDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{catalog: cat, store: store, workDir: t.TempDir()}
}

// addChunk writes a chunk file, uploads it, and registers it.
func (f *fixture) addChunk(t *testing.T, table string, rows ...[]interface{}) string {
	t.Helper()
	ctx := context.Background()

	data := chunk.NewBatch([]string{"city", "temp", "time"})
	for _, row := range rows {
		data.AppendRow(row)
	}
	localPath := filepath.Join(f.workDir, "in-"+time.Now().Format("150405.000000000")+".sqlite")
	c, err := chunk.WritePersisted(ctx, localPath, table, testSchema(), []*chunk.Batch{data}, chunk.WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	defer os.Remove(localPath)

	objectPath := "chunks/" + table + "/" + c.ID().String() + ".sqlite"
	if err := f.store.Upload(ctx, localPath, objectPath); err != nil {
		t.Fatal(err)
	}
	extent, _ := c.TimeRange()
	err = f.catalog.RegisterChunk(ctx, &catalog.ChunkRecord{
		ChunkID:    c.ID().String(),
		TableName:  table,
		ObjectPath: objectPath,
		MinTime:    extent.Min,
		MaxTime:    extent.Max,
		RowCount:   c.RowCount(),
		SizeBytes:  1,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c.ID().String()
}

func defaultCfg() config.CompactorConfig {
	return config.CompactorConfig{
		Interval:        time.Minute,
		MaxChunksPerJob: 8,
		MaxRowsPerChunk: 1000,
		Tables:          []string{"weather"},
	}
}

func TestCandidateFinder_GroupsOverlappingChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two overlapping chunks and one far away.
	a := f.addChunk(t, "weather", []interface{}{"Boston", int64(1), int64(100)}, []interface{}{"Boston", int64(2), int64(300)})
	b := f.addChunk(t, "weather", []interface{}{"Austin", int64(3), int64(200)}, []interface{}{"Austin", int64(4), int64(400)})
	f.addChunk(t, "weather", []interface{}{"Zoo", int64(5), int64(9000)})

	finder := NewCandidateFinder(f.catalog, 8)
	group, err := finder.FindCandidates(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if group == nil || len(group.Records) != 2 {
		t.Fatalf("expected a 2-chunk group, got %+v", group)
	}
	ids := map[string]bool{group.Records[0].ChunkID: true, group.Records[1].ChunkID: true}
	if !ids[a] || !ids[b] {
		t.Errorf("expected the overlapping pair, got %v", ids)
	}
}

func TestCandidateFinder_LoneUnsortedChunk(t *testing.T) {
	f := newFixture(t)

	f.addChunk(t, "weather", []interface{}{"Boston", int64(1), int64(100)})

	group, err := NewCandidateFinder(f.catalog, 8).FindCandidates(context.Background(), "weather")
	if err != nil {
		t.Fatal(err)
	}
	// The chunk was written without the sorted/dedup flags, so it qualifies.
	if group == nil || len(group.Records) != 1 {
		t.Fatalf("expected a single-chunk group, got %+v", group)
	}
}

func TestCandidateFinder_NothingToDo(t *testing.T) {
	f := newFixture(t)

	group, err := NewCandidateFinder(f.catalog, 8).FindCandidates(context.Background(), "weather")
	if err != nil {
		t.Fatal(err)
	}
	if group != nil {
		t.Fatalf("empty table should yield no candidates, got %+v", group)
	}
}

func TestRunner_CompactsOverlappingChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Duplicate PK (Boston, 100) across chunks; the later chunk wins.
	f.addChunk(t, "weather",
		[]interface{}{"Boston", int64(70), int64(100)},
		[]interface{}{"Boston", int64(71), int64(200)})
	f.addChunk(t, "weather",
		[]interface{}{"Boston", int64(75), int64(100)},
		[]interface{}{"Austin", int64(90), int64(150)})

	group, err := NewCandidateFinder(f.catalog, 8).FindCandidates(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	runner := NewRunner(f.catalog, f.store, f.workDir, defaultCfg())
	targets, err := runner.Run(ctx, group)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 output chunk, got %v", targets)
	}

	live, err := f.catalog.ListActiveChunks(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || live[0].ChunkID != targets[0] {
		t.Fatalf("expected only the output chunk live, got %+v", live)
	}
	if !live[0].Sorted || !live[0].Deduplicated {
		t.Error("output chunk must be recorded sorted and deduplicated")
	}
	if live[0].RowCount != 3 {
		t.Errorf("expected 3 rows after dedup, got %d", live[0].RowCount)
	}

	// The output chunk must be readable and in PK order.
	localPath := filepath.Join(t.TempDir(), "out.sqlite")
	if err := f.store.Download(ctx, live[0].ObjectPath, localPath); err != nil {
		t.Fatal(err)
	}
	out, err := chunk.OpenPersisted(ctx, localPath)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	stream, err := out.ReadFilter(ctx, nil, chunk.All)
	if err != nil {
		t.Fatal(err)
	}
	batch, _ := stream.Next()
	if batch.Value(0, "city") != "Austin" {
		t.Errorf("expected Austin first in PK order, got %v", batch.Value(0, "city"))
	}
	for i := 0; i < batch.NumRows(); i++ {
		if batch.Value(i, "city") == "Boston" && batch.Value(i, "time") == int64(100) {
			if batch.Value(i, "temp") != int64(75) {
				t.Errorf("later chunk should win dedup, got temp %v", batch.Value(i, "temp"))
			}
		}
	}
}

func TestRunner_SplitsLargeGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addChunk(t, "weather",
		[]interface{}{"a", int64(1), int64(1000)},
		[]interface{}{"b", int64(2), int64(2000)})
	f.addChunk(t, "weather",
		[]interface{}{"c", int64(3), int64(1500)},
		[]interface{}{"d", int64(4), int64(4000)})

	cfg := defaultCfg()
	cfg.MaxRowsPerChunk = 3 // force a split

	group, err := NewCandidateFinder(f.catalog, 8).FindCandidates(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	targets, err := NewRunner(f.catalog, f.store, f.workDir, cfg).Run(ctx, group)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 output chunks from split, got %v", targets)
	}
}

func TestRunner_AppliesTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addChunk(t, "weather",
		[]interface{}{"Boston", int64(70), int64(150)},
		[]interface{}{"Austin", int64(90), int64(150)})
	f.addChunk(t, "weather",
		[]interface{}{"Boston", int64(71), int64(160)})

	if _, err := f.catalog.AddTombstone(ctx, tombstone.Tombstone{
		TableName: "weather", MinTime: 100, MaxTime: 200, Predicate: "city=Boston",
	}); err != nil {
		t.Fatal(err)
	}

	group, err := NewCandidateFinder(f.catalog, 8).FindCandidates(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewRunner(f.catalog, f.store, f.workDir, defaultCfg()).Run(ctx, group); err != nil {
		t.Fatal(err)
	}

	live, err := f.catalog.ListActiveChunks(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live chunk, got %d", len(live))
	}
	if live[0].RowCount != 1 {
		t.Errorf("expected only the Austin row to survive, got %d rows", live[0].RowCount)
	}
}

func TestDaemon_StartStop(t *testing.T) {
	f := newFixture(t)

	cfg := defaultCfg()
	cfg.Interval = 10 * time.Millisecond
	d := NewDaemon(f.catalog, f.store, f.workDir, cfg)

	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
	time.Sleep(30 * time.Millisecond)
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
	// Stopping again is a no-op.
	if err := d.Stop(); err != nil {
		t.Fatal(err)
	}
}
