// Package catalog tracks chunk and tombstone metadata in a SQLite database.
// The catalog is the source of truth for which chunks are live, which have
// been compacted away, and which delete records apply to a table.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/tombstone"
)

// ChunkRecord is a chunk's catalog entry.
type ChunkRecord struct {
	ChunkID      string
	TableName    string
	ObjectPath   string
	MinTime      int64
	MaxTime      int64
	RowCount     int64
	SizeBytes    int64
	Sorted       bool
	Deduplicated bool
	CreatedAt    time.Time

	// CompactedInto names the chunk that replaced this one, nil while live
	CompactedInto *string
}

// Catalog manages chunk and tombstone metadata.
type Catalog interface {
	// RegisterChunk adds a new chunk entry.
	RegisterChunk(ctx context.Context, rec *ChunkRecord) error

	// GetChunk retrieves a single chunk by ID.
	GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error)

	// ListActiveChunks returns the live chunks of a table, oldest first.
	ListActiveChunks(ctx context.Context, tableName string) ([]*ChunkRecord, error)

	// MarkCompacted records that the source chunks were replaced by target.
	MarkCompacted(ctx context.Context, sourceIDs []string, targetID string) error

	// AddTombstone stores a delete record and returns its assigned ID.
	AddTombstone(ctx context.Context, t tombstone.Tombstone) (int64, error)

	// TombstonesForTable returns a table's delete records, oldest first.
	TombstonesForTable(ctx context.Context, tableName string) ([]tombstone.Tombstone, error)

	// Close closes the catalog database connections.
	Close() error
}

// SQLiteCatalog implements Catalog using SQLite: a single write connection
// plus a read-only pool for concurrent readers.
type SQLiteCatalog struct {
	db     *sql.DB
	readDB *sql.DB
	mu     sync.Mutex
}

// NewCatalog opens (or creates) a catalog database at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewCatalogError("failed to open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, errors.NewCatalogError("failed to open catalog read connection", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &SQLiteCatalog{db: db, readDB: readDB}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			object_path TEXT NOT NULL,
			min_time INTEGER NOT NULL,
			max_time INTEGER NOT NULL,
			row_count INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			sorted INTEGER NOT NULL,
			deduplicated INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			compacted_into TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_table_live
			ON chunks(table_name, created_at) WHERE compacted_into IS NULL`,
		`CREATE TABLE IF NOT EXISTS tombstones (
			tombstone_id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			min_time INTEGER NOT NULL,
			max_time INTEGER NOT NULL,
			predicate TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tombstones_table ON tombstones(table_name)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return errors.NewCatalogError("failed to initialize catalog schema", err)
		}
	}
	return nil
}

// RegisterChunk adds a new chunk entry.
func (c *SQLiteCatalog) RegisterChunk(ctx context.Context, rec *ChunkRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sorted, dedup := 0, 0
	if rec.Sorted {
		sorted = 1
	}
	if rec.Deduplicated {
		dedup = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO chunks (chunk_id, table_name, object_path, min_time, max_time,
			row_count, size_bytes, sorted, deduplicated, created_at, compacted_into)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		rec.ChunkID, rec.TableName, rec.ObjectPath, rec.MinTime, rec.MaxTime,
		rec.RowCount, rec.SizeBytes, sorted, dedup, rec.CreatedAt.UnixNano())
	if err != nil {
		return errors.NewCatalogError(
			fmt.Sprintf("failed to register chunk %s", rec.ChunkID), err)
	}
	return nil
}

// GetChunk retrieves a single chunk by ID.
func (c *SQLiteCatalog) GetChunk(ctx context.Context, chunkID string) (*ChunkRecord, error) {
	row := c.readDB.QueryRowContext(ctx,
		`SELECT chunk_id, table_name, object_path, min_time, max_time,
			row_count, size_bytes, sorted, deduplicated, created_at, compacted_into
		 FROM chunks WHERE chunk_id = ?`, chunkID)

	rec, err := scanChunkRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrCategoryCatalog, errors.CodeChunkNotFound,
			fmt.Sprintf("chunk %s not in catalog", chunkID))
	}
	if err != nil {
		return nil, errors.NewCatalogError(
			fmt.Sprintf("failed to read chunk %s", chunkID), err)
	}
	return rec, nil
}

// ListActiveChunks returns the live chunks of a table, oldest first.
func (c *SQLiteCatalog) ListActiveChunks(ctx context.Context, tableName string) ([]*ChunkRecord, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT chunk_id, table_name, object_path, min_time, max_time,
			row_count, size_bytes, sorted, deduplicated, created_at, compacted_into
		 FROM chunks
		 WHERE table_name = ? AND compacted_into IS NULL
		 ORDER BY created_at ASC`, tableName)
	if err != nil {
		return nil, errors.NewCatalogError(
			fmt.Sprintf("failed to list chunks of table %q", tableName), err)
	}
	defer rows.Close()

	var records []*ChunkRecord
	for rows.Next() {
		rec, err := scanChunkRecord(rows)
		if err != nil {
			return nil, errors.NewCatalogError("failed to scan chunk record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError("failed to iterate chunk records", err)
	}
	return records, nil
}

// MarkCompacted records that the source chunks were replaced by target,
// atomically with the target's visibility.
func (c *SQLiteCatalog) MarkCompacted(ctx context.Context, sourceIDs []string, targetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError("failed to begin compaction transaction", err)
	}
	defer tx.Rollback()

	for _, id := range sourceIDs {
		res, err := tx.ExecContext(ctx,
			`UPDATE chunks SET compacted_into = ? WHERE chunk_id = ? AND compacted_into IS NULL`,
			targetID, id)
		if err != nil {
			return errors.NewCatalogError(
				fmt.Sprintf("failed to mark chunk %s compacted", id), err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.NewCatalogError("failed to check compaction update", err)
		}
		if affected == 0 {
			return errors.New(errors.ErrCategoryCatalog, errors.CodeChunkNotFound,
				fmt.Sprintf("chunk %s is missing or already compacted", id))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError("failed to commit compaction", err)
	}
	return nil
}

// AddTombstone stores a delete record and returns its assigned ID.
func (c *SQLiteCatalog) AddTombstone(ctx context.Context, t tombstone.Tombstone) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		`INSERT INTO tombstones (table_name, min_time, max_time, predicate, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.TableName, t.MinTime, t.MaxTime, t.Predicate, time.Now().UnixNano())
	if err != nil {
		return 0, errors.NewCatalogError(
			fmt.Sprintf("failed to store tombstone for table %q", t.TableName), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewCatalogError("failed to read tombstone id", err)
	}
	return id, nil
}

// TombstonesForTable returns a table's delete records, oldest first.
func (c *SQLiteCatalog) TombstonesForTable(ctx context.Context, tableName string) ([]tombstone.Tombstone, error) {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT tombstone_id, table_name, min_time, max_time, predicate
		 FROM tombstones WHERE table_name = ? ORDER BY tombstone_id ASC`, tableName)
	if err != nil {
		return nil, errors.NewCatalogError(
			fmt.Sprintf("failed to list tombstones of table %q", tableName), err)
	}
	defer rows.Close()

	var tombstones []tombstone.Tombstone
	for rows.Next() {
		var t tombstone.Tombstone
		if err := rows.Scan(&t.ID, &t.TableName, &t.MinTime, &t.MaxTime, &t.Predicate); err != nil {
			return nil, errors.NewCatalogError("failed to scan tombstone", err)
		}
		tombstones = append(tombstones, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError("failed to iterate tombstones", err)
	}
	return tombstones, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunkRecord(row rowScanner) (*ChunkRecord, error) {
	var rec ChunkRecord
	var sorted, dedup int
	var createdAt int64
	if err := row.Scan(&rec.ChunkID, &rec.TableName, &rec.ObjectPath,
		&rec.MinTime, &rec.MaxTime, &rec.RowCount, &rec.SizeBytes,
		&sorted, &dedup, &createdAt, &rec.CompactedInto); err != nil {
		return nil, err
	}
	rec.Sorted = sorted != 0
	rec.Deduplicated = dedup != 0
	rec.CreatedAt = time.Unix(0, createdAt)
	return &rec, nil
}
