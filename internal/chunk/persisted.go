package chunk

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tephradb/tephra/internal/bloom"
	"github.com/tephradb/tephra/internal/schema"
	"github.com/tephradb/tephra/internal/tombstone"
)

// PersistedChunk is a chunk handle backed by an immutable SQLite file.
// Tag and field values are stored as snappy-compressed JSON payloads beside
// an indexed time column, so time-window scans skip rows without decoding.
type PersistedChunk struct {
	id        uuid.UUID
	tableName string
	path      string
	db        *sql.DB
	schema    *schema.Schema
	deletes   []*tombstone.DeletePredicate
	sorted    bool
	dedup     bool
	timeRange tombstone.TimestampRange
	rowCount  int64
	blooms    map[string]*bloom.Filter
}

// WriteOptions controls how a chunk file is written.
type WriteOptions struct {
	// SortedOnPK records that the input rows are already in primary key order
	SortedOnPK bool

	// Deduplicated records that the input rows carry no duplicate primary keys
	Deduplicated bool

	// BloomFPR is the target false positive rate for the per-tag bloom
	// filters (default 0.01)
	BloomFPR float64
}

// WritePersisted writes batches to a new chunk file at path and returns an
// open handle to it. The batches must align with the schema's columns; the
// file is finalized in rollback journal mode so it can be shipped to object
// storage as a single immutable artifact.
func WritePersisted(ctx context.Context, path, tableName string, sch *schema.Schema, batches []*Batch, opts WriteOptions) (*PersistedChunk, error) {
	if opts.BloomFPR <= 0 || opts.BloomFPR >= 1 {
		opts.BloomFPR = 0.01
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to create chunk file: %w", err)
	}
	defer db.Close()

	// WAL mode speeds up the build; the file is switched back to DELETE mode
	// before close so it ships as one file.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("chunk: failed to set journal mode: %w", err)
	}

	ddl := []string{
		`CREATE TABLE chunk_meta (
			chunk_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			min_time INTEGER NOT NULL,
			max_time INTEGER NOT NULL,
			row_count INTEGER NOT NULL,
			sorted INTEGER NOT NULL,
			deduplicated INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE chunk_schema (
			position INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			kind TEXT NOT NULL,
			nullable INTEGER NOT NULL,
			sort_position INTEGER NOT NULL,
			sort_descending INTEGER NOT NULL,
			sort_nulls_first INTEGER NOT NULL
		)`,
		`CREATE TABLE points (
			ts INTEGER NOT NULL,
			tags BLOB,
			fields BLOB NOT NULL
		)`,
		`CREATE INDEX idx_points_ts ON points(ts)`,
		`CREATE TABLE tag_blooms (
			column TEXT PRIMARY KEY,
			filter BLOB NOT NULL
		) WITHOUT ROWID`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("chunk: failed to create table: %w", err)
		}
	}

	if err := writeSchemaRows(ctx, db, sch); err != nil {
		return nil, err
	}

	id := uuid.New()
	tags := sch.TagColumns()
	blooms := make(map[string]*bloom.Filter, len(tags))
	totalRows := 0
	for _, b := range batches {
		totalRows += b.NumRows()
	}
	for _, tag := range tags {
		blooms[tag] = bloom.NewWithEstimates(totalRows, opts.BloomFPR)
	}

	insert, err := db.PrepareContext(ctx, `INSERT INTO points (ts, tags, fields) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to prepare insert: %w", err)
	}
	defer insert.Close()

	var minTime, maxTime int64
	rowCount := int64(0)
	for _, b := range batches {
		for i := 0; i < b.NumRows(); i++ {
			values := b.RowValues(i)
			ts, ok := values[schema.TimeColumn].(int64)
			if !ok {
				return nil, fmt.Errorf("chunk: row %d missing int64 time value", rowCount)
			}

			tagMap := make(map[string]interface{}, len(tags))
			fieldMap := make(map[string]interface{})
			for _, col := range sch.Columns {
				switch col.Kind {
				case schema.KindTag:
					v := values[col.Name]
					tagMap[col.Name] = v
					if s, ok := v.(string); ok {
						blooms[col.Name].AddString(s)
					}
				case schema.KindField:
					fieldMap[col.Name] = values[col.Name]
				}
			}

			tagBlob, err := encodePayload(tagMap)
			if err != nil {
				return nil, err
			}
			fieldBlob, err := encodePayload(fieldMap)
			if err != nil {
				return nil, err
			}
			if _, err := insert.ExecContext(ctx, ts, tagBlob, fieldBlob); err != nil {
				return nil, fmt.Errorf("chunk: failed to insert row: %w", err)
			}

			if rowCount == 0 || ts < minTime {
				minTime = ts
			}
			if rowCount == 0 || ts > maxTime {
				maxTime = ts
			}
			rowCount++
		}
	}

	for tag, filter := range blooms {
		if _, err := db.ExecContext(ctx, `INSERT INTO tag_blooms (column, filter) VALUES (?, ?)`,
			tag, filter.Serialize()); err != nil {
			return nil, fmt.Errorf("chunk: failed to store bloom filter: %w", err)
		}
	}

	sorted := 0
	if opts.SortedOnPK {
		sorted = 1
	}
	dedup := 0
	if opts.Deduplicated {
		dedup = 1
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO chunk_meta (chunk_id, table_name, min_time, max_time, row_count, sorted, deduplicated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), tableName, minTime, maxTime, rowCount, sorted, dedup, time.Now().UnixNano()); err != nil {
		return nil, fmt.Errorf("chunk: failed to write chunk metadata: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("chunk: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return nil, fmt.Errorf("chunk: failed to finalize journal mode: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("chunk: failed to close chunk file: %w", err)
	}

	return OpenPersisted(ctx, path)
}

func writeSchemaRows(ctx context.Context, db *sql.DB, sch *schema.Schema) error {
	sortPos := make(map[string]int, len(sch.SortKey))
	for i, f := range sch.SortKey {
		sortPos[f.Column] = i
	}

	for i, col := range sch.Columns {
		pos := -1
		desc, nullsFirst := 0, 0
		if p, ok := sortPos[col.Name]; ok {
			pos = p
			if sch.SortKey[p].Descending {
				desc = 1
			}
			if sch.SortKey[p].NullsFirst {
				nullsFirst = 1
			}
		}
		nullable := 0
		if col.Nullable {
			nullable = 1
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO chunk_schema (position, name, type, kind, nullable, sort_position, sort_descending, sort_nulls_first)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, col.Name, string(col.Type), string(col.Kind), nullable, pos, desc, nullsFirst); err != nil {
			return fmt.Errorf("chunk: failed to write schema row: %w", err)
		}
	}
	return nil
}

// OpenPersisted opens an existing chunk file and loads its metadata, schema,
// and bloom filters. Row data stays on disk until ReadFilter.
func OpenPersisted(ctx context.Context, path string) (*PersistedChunk, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to open chunk file %s: %w", path, err)
	}

	c := &PersistedChunk{path: path, db: db, blooms: make(map[string]*bloom.Filter)}

	var idText string
	var sorted, dedup int
	row := db.QueryRowContext(ctx,
		`SELECT chunk_id, table_name, min_time, max_time, row_count, sorted, deduplicated FROM chunk_meta`)
	if err := row.Scan(&idText, &c.tableName, &c.timeRange.Min, &c.timeRange.Max,
		&c.rowCount, &sorted, &dedup); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunk: failed to read chunk metadata: %w", err)
	}
	c.id, err = uuid.Parse(idText)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chunk: invalid chunk id %q: %w", idText, err)
	}
	c.sorted = sorted != 0
	c.dedup = dedup != 0

	c.schema, err = readSchemaRows(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT column, filter FROM tag_blooms`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("chunk: failed to read bloom filters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var column string
		var blob []byte
		if err := rows.Scan(&column, &blob); err != nil {
			db.Close()
			return nil, fmt.Errorf("chunk: failed to scan bloom filter: %w", err)
		}
		filter, err := bloom.Deserialize(blob)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("chunk: corrupt bloom filter for column %q: %w", column, err)
		}
		c.blooms[column] = filter
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("chunk: failed to read bloom filters: %w", err)
	}

	return c, nil
}

func readSchemaRows(ctx context.Context, db *sql.DB) (*schema.Schema, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, kind, nullable, sort_position, sort_descending, sort_nulls_first
		 FROM chunk_schema ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to read schema: %w", err)
	}
	defer rows.Close()

	var cols []schema.Column
	type sortEntry struct {
		pos   int
		field schema.SortField
	}
	var sortEntries []sortEntry

	for rows.Next() {
		var name, typ, kind string
		var nullable, sortPos, desc, nullsFirst int
		if err := rows.Scan(&name, &typ, &kind, &nullable, &sortPos, &desc, &nullsFirst); err != nil {
			return nil, fmt.Errorf("chunk: failed to scan schema row: %w", err)
		}
		cols = append(cols, schema.Column{
			Name:     name,
			Type:     schema.ColumnType(typ),
			Kind:     schema.ColumnKind(kind),
			Nullable: nullable != 0,
		})
		if sortPos >= 0 {
			sortEntries = append(sortEntries, sortEntry{
				pos: sortPos,
				field: schema.SortField{
					Column:     name,
					Descending: desc != 0,
					NullsFirst: nullsFirst != 0,
				},
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk: failed to read schema: %w", err)
	}

	sch, err := schema.New(cols)
	if err != nil {
		return nil, fmt.Errorf("chunk: invalid persisted schema: %w", err)
	}

	key := make(schema.SortKey, len(sortEntries))
	for _, e := range sortEntries {
		if e.pos >= len(key) {
			return nil, fmt.Errorf("chunk: invalid sort position %d in persisted schema", e.pos)
		}
		key[e.pos] = e.field
	}
	sch.SortKey = key
	return sch, nil
}

// Close releases the underlying database handle.
func (c *PersistedChunk) Close() error {
	return c.db.Close()
}

// ID returns the chunk's stable identifier.
func (c *PersistedChunk) ID() uuid.UUID { return c.id }

// TableName returns the owning table's name.
func (c *PersistedChunk) TableName() string { return c.tableName }

// Path returns the chunk file's local path.
func (c *PersistedChunk) Path() string { return c.path }

// RowCount returns the number of rows in the chunk.
func (c *PersistedChunk) RowCount() int64 { return c.rowCount }

// Schema returns the chunk's column schema.
func (c *PersistedChunk) Schema() (*schema.Schema, error) {
	return c.schema, nil
}

// DeletePredicates returns the delete predicates attached to the chunk.
func (c *PersistedChunk) DeletePredicates() []*tombstone.DeletePredicate {
	return c.deletes
}

// AttachDeletePredicates adds tombstones loaded from the catalog. The handle
// carries them so the planner sees the chunk and its deletes as one unit.
func (c *PersistedChunk) AttachDeletePredicates(predicates ...*tombstone.DeletePredicate) {
	c.deletes = append(c.deletes, predicates...)
}

// MayContainDuplicates reports whether the chunk may hold duplicate primary
// keys. False only when the writer recorded the chunk as deduplicated.
func (c *PersistedChunk) MayContainDuplicates() bool { return !c.dedup }

// SortedOnPK reports whether rows are stored in primary key order.
func (c *PersistedChunk) SortedOnPK() bool { return c.sorted }

// TimeRange returns the chunk's time extent.
func (c *PersistedChunk) TimeRange() (tombstone.TimestampRange, bool) {
	if c.rowCount == 0 {
		return tombstone.TimestampRange{}, false
	}
	return c.timeRange, true
}

// MayContainTagValue consults the persisted bloom filter for the column. A
// column without a filter might contain anything.
func (c *PersistedChunk) MayContainTagValue(column, value string) bool {
	filter, ok := c.blooms[column]
	if !ok {
		return true
	}
	return filter.ContainsString(value)
}

// ReadFilter streams the chunk's rows restricted to the selection. The
// predicate's time range is pushed into the SQL scan; its column comparisons
// are applied after payload decode. Row order is storage order, so a chunk
// written sorted streams sorted.
func (c *PersistedChunk) ReadFilter(ctx context.Context, predicate *Predicate, selection Selection) (Stream, error) {
	columns := c.schema.ColumnNames()
	if selection != nil {
		var kept []string
		for _, col := range selection {
			if _, ok := c.schema.Column(col); ok {
				kept = append(kept, col)
			}
		}
		if len(kept) == 0 {
			// Selection names no column this chunk carries; an empty
			// result, not an error.
			return NewStream(NewBatch(nil)), nil
		}
		columns = kept
	}

	query := `SELECT ts, tags, fields FROM points`
	var args []interface{}
	if predicate != nil && predicate.Range != nil {
		query += ` WHERE ts >= ? AND ts <= ?`
		args = append(args, predicate.Range.Min, predicate.Range.Max)
	}
	query += ` ORDER BY rowid`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chunk: scan failed for chunk %s: %w", c.id, err)
	}
	defer rows.Close()

	out := NewBatch(columns)

	for rows.Next() {
		var ts int64
		var tagBlob, fieldBlob []byte
		if err := rows.Scan(&ts, &tagBlob, &fieldBlob); err != nil {
			return nil, fmt.Errorf("chunk: scan failed for chunk %s: %w", c.id, err)
		}

		values, err := c.decodeRow(ts, tagBlob, fieldBlob)
		if err != nil {
			return nil, err
		}
		if predicate != nil && !predicate.Matches(ts, values) {
			continue
		}

		row := make([]interface{}, len(columns))
		for i, col := range columns {
			row[i] = values[col]
		}
		out.AppendRow(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk: scan failed for chunk %s: %w", c.id, err)
	}

	return NewStream(out), nil
}

func (c *PersistedChunk) decodeRow(ts int64, tagBlob, fieldBlob []byte) (map[string]interface{}, error) {
	values := map[string]interface{}{schema.TimeColumn: ts}

	tagMap, err := decodePayload(tagBlob)
	if err != nil {
		return nil, fmt.Errorf("chunk: corrupt tag payload in chunk %s: %w", c.id, err)
	}
	fieldMap, err := decodePayload(fieldBlob)
	if err != nil {
		return nil, fmt.Errorf("chunk: corrupt field payload in chunk %s: %w", c.id, err)
	}

	for _, col := range c.schema.Columns {
		switch col.Kind {
		case schema.KindTag:
			values[col.Name] = restoreType(col.Type, tagMap[col.Name])
		case schema.KindField:
			values[col.Name] = restoreType(col.Type, fieldMap[col.Name])
		}
	}
	return values, nil
}

// encodePayload marshals a column map to snappy-compressed JSON.
func encodePayload(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("chunk: failed to marshal payload: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodePayload(blob []byte) (map[string]interface{}, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// restoreType narrows JSON-decoded values back to the schema's column type.
// JSON numbers are kept as json.Number until here so int64 fields survive the
// round trip without float truncation.
func restoreType(t schema.ColumnType, v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	switch t {
	case schema.TypeInt64, schema.TypeTimestamp:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case schema.TypeUint64:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u
		}
	case schema.TypeFloat64:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
