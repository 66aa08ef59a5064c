// Package chunk defines the polymorphic chunk capability used at the
// planning boundary, plus the columnar batch representation that chunk scans
// and plan execution exchange.
package chunk

// Batch is a columnar block of rows sharing one column layout. Values are
// row-major; a nil value is NULL.
type Batch struct {
	// Columns is the ordered list of column names
	Columns []string

	// Rows holds one value slice per row, aligned with Columns
	Rows [][]interface{}
}

// NewBatch creates an empty batch with the given column layout.
func NewBatch(columns []string) *Batch {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Batch{Columns: cols}
}

// NumRows returns the number of rows in the batch.
func (b *Batch) NumRows() int {
	return len(b.Rows)
}

// ColumnIndex returns the index of the named column, or -1.
func (b *Batch) ColumnIndex(name string) int {
	for i, col := range b.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Value returns the value at (row, column name), or nil when the batch does
// not carry the column.
func (b *Batch) Value(row int, column string) interface{} {
	idx := b.ColumnIndex(column)
	if idx < 0 {
		return nil
	}
	return b.Rows[row][idx]
}

// RowValues returns row i as a column-name map. Used when evaluating delete
// predicates and filter expressions against individual rows.
func (b *Batch) RowValues(i int) map[string]interface{} {
	values := make(map[string]interface{}, len(b.Columns))
	for j, col := range b.Columns {
		values[col] = b.Rows[i][j]
	}
	return values
}

// AppendRow appends a value slice. The caller must align it with Columns.
func (b *Batch) AppendRow(row []interface{}) {
	b.Rows = append(b.Rows, row)
}

// Project returns a batch restricted to the requested columns, in the
// requested order. Columns the batch does not carry are skipped; if none of
// the requested columns are present the result is nil.
func (b *Batch) Project(columns []string) *Batch {
	var kept []string
	var indices []int
	for _, col := range columns {
		if idx := b.ColumnIndex(col); idx >= 0 {
			kept = append(kept, col)
			indices = append(indices, idx)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	out := NewBatch(kept)
	out.Rows = make([][]interface{}, len(b.Rows))
	for i, row := range b.Rows {
		projected := make([]interface{}, len(indices))
		for j, idx := range indices {
			projected[j] = row[idx]
		}
		out.Rows[i] = projected
	}
	return out
}

// Align returns a copy of the batch widened to the target column layout,
// padding columns the batch does not carry with NULL for every row.
func (b *Batch) Align(columns []string) *Batch {
	indices := make([]int, len(columns))
	for i, col := range columns {
		indices[i] = b.ColumnIndex(col)
	}

	out := NewBatch(columns)
	out.Rows = make([][]interface{}, len(b.Rows))
	for i, row := range b.Rows {
		aligned := make([]interface{}, len(columns))
		for j, idx := range indices {
			if idx >= 0 {
				aligned[j] = row[idx]
			}
		}
		out.Rows[i] = aligned
	}
	return out
}

// Concat concatenates batches into a single batch with the given column
// layout, null-padding each input to the layout. Inputs that are nil or
// empty contribute no rows; the result of concatenating nothing is a
// zero-row batch with the requested columns, never an error.
func Concat(columns []string, batches ...*Batch) *Batch {
	out := NewBatch(columns)
	for _, b := range batches {
		if b == nil || b.NumRows() == 0 {
			continue
		}
		aligned := b.Align(columns)
		out.Rows = append(out.Rows, aligned.Rows...)
	}
	return out
}
