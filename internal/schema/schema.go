// Package schema provides the column schema model for Tephra chunks and the
// unified schema merger used when planning over heterogeneous chunks.
package schema

import (
	"fmt"
	"strings"
)

// TimeColumn is the name of the designated time column. Every chunk schema
// carries it, and it is always non-nullable.
const TimeColumn = "time"

// ColumnType is the logical type of a column.
type ColumnType string

const (
	TypeInt64     ColumnType = "int64"
	TypeUint64    ColumnType = "uint64"
	TypeFloat64   ColumnType = "float64"
	TypeString    ColumnType = "string"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
)

// ColumnKind classifies a column's role in the data model. Tag columns plus
// the time column form the primary key used for deduplication.
type ColumnKind string

const (
	KindTag   ColumnKind = "tag"
	KindField ColumnKind = "field"
	KindTime  ColumnKind = "time"
)

// Column describes a single column in a chunk schema.
type Column struct {
	// Name is the column name, unique within a schema
	Name string `json:"name"`

	// Type is the logical value type
	Type ColumnType `json:"type"`

	// Kind is the column role: tag, field, or time
	Kind ColumnKind `json:"kind"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
}

// SortField describes one component of a sort key.
type SortField struct {
	// Column is the column name to sort on
	Column string `json:"column"`

	// Descending reverses the sort direction
	Descending bool `json:"descending"`

	// NullsFirst places NULL values before non-NULL values
	NullsFirst bool `json:"nulls_first"`
}

// SortKey is an ordered sequence of sort fields describing how data is, or
// should be, arranged.
type SortKey []SortField

// Equal reports whether two sort keys are identical field for field.
func (k SortKey) Equal(other SortKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the key as "tag1,tag2 DESC,time" for logging.
func (k SortKey) String() string {
	parts := make([]string, len(k))
	for i, f := range k {
		parts[i] = f.Column
		if f.Descending {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ",")
}

// Schema is an ordered set of columns plus an optional declared sort key.
type Schema struct {
	// Columns holds the column definitions in schema order
	Columns []Column `json:"columns"`

	// SortKey optionally declares the current or requested row arrangement
	SortKey SortKey `json:"sort_key,omitempty"`
}

// New builds a schema from the given columns, validating the invariants:
// names are unique and the time column exists, has kind time, type timestamp,
// and is non-nullable.
func New(columns []Column) (*Schema, error) {
	seen := make(map[string]bool, len(columns))
	hasTime := false
	for _, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("schema: column with empty name")
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("schema: duplicate column %q", col.Name)
		}
		seen[col.Name] = true

		if col.Name == TimeColumn {
			if col.Kind != KindTime || col.Type != TypeTimestamp {
				return nil, fmt.Errorf("schema: column %q must be a timestamp time column, got kind=%s type=%s",
					TimeColumn, col.Kind, col.Type)
			}
			if col.Nullable {
				return nil, fmt.Errorf("schema: time column must be non-nullable")
			}
			hasTime = true
		}
	}
	if !hasTime {
		return nil, fmt.Errorf("schema: missing required column %q", TimeColumn)
	}

	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Schema{Columns: cols}, nil
}

// MustNew is like New but panics on invalid input. Intended for tests and
// static schema literals.
func MustNew(columns []Column) *Schema {
	s, err := New(columns)
	if err != nil {
		panic(err)
	}
	return s
}

// Column returns the column definition with the given name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in schema order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// TagColumns returns the tag column names in schema order.
func (s *Schema) TagColumns() []string {
	var tags []string
	for _, col := range s.Columns {
		if col.Kind == KindTag {
			tags = append(tags, col.Name)
		}
	}
	return tags
}

// PrimaryKey returns the primary key column names: tags in schema order
// followed by the time column.
func (s *Schema) PrimaryKey() []string {
	return append(s.TagColumns(), TimeColumn)
}

// PKSortKey returns the sort key the primary-key ordering contract demands:
// each tag ascending with nulls first, then time ascending.
func (s *Schema) PKSortKey() SortKey {
	var key SortKey
	for _, tag := range s.TagColumns() {
		key = append(key, SortField{Column: tag, NullsFirst: true})
	}
	key = append(key, SortField{Column: TimeColumn})
	return key
}

// Project returns a schema holding only the named columns, in schema order.
// Names the schema lacks are ignored. The sort key is kept only where every
// key column survives the projection.
func (s *Schema) Project(names []string) *Schema {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var cols []Column
	for _, col := range s.Columns {
		if want[col.Name] {
			cols = append(cols, col)
		}
	}
	out := &Schema{Columns: cols}
	keep := true
	for _, f := range s.SortKey {
		if !want[f.Column] {
			keep = false
			break
		}
	}
	if keep {
		out.SortKey = make(SortKey, len(s.SortKey))
		copy(out.SortKey, s.SortKey)
	}
	return out
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	key := make(SortKey, len(s.SortKey))
	copy(key, s.SortKey)
	return &Schema{Columns: cols, SortKey: key}
}

// WithSortKey returns a schema carrying the given sort key. The receiver is
// returned unchanged when the key already matches, so hot compaction paths
// avoid a needless copy.
func (s *Schema) WithSortKey(key SortKey) *Schema {
	if s.SortKey.Equal(key) {
		return s
	}
	out := s.Clone()
	out.SortKey = make(SortKey, len(key))
	copy(out.SortKey, key)
	return out
}
