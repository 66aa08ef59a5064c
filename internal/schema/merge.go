package schema

import (
	"sort"

	"github.com/tephradb/tephra/internal/errors"
)

// Merge combines the schemas of multiple chunks into one unified schema.
//
// The result is the union of all columns ordered lexicographically by name,
// so merging is commutative and plans stay deterministic regardless of chunk
// enumeration order. A column that is absent from any input becomes nullable
// in the result, because rows from chunks lacking it must report NULL.
//
// Two inputs declaring the same column with different types or kinds is a
// schema conflict; types are never auto-coerced. The time column in
// particular must agree exactly across all inputs, since time typing is
// load-bearing for ordering.
func Merge(schemas ...*Schema) (*Schema, error) {
	if len(schemas) == 0 {
		return nil, errors.NewSchemaConflict("no schemas to merge")
	}

	type mergedColumn struct {
		col  Column
		seen int // number of inputs the column appeared in
	}

	merged := make(map[string]*mergedColumn)
	for _, s := range schemas {
		for _, col := range s.Columns {
			existing, ok := merged[col.Name]
			if !ok {
				merged[col.Name] = &mergedColumn{col: col, seen: 1}
				continue
			}
			if existing.col.Type != col.Type {
				return nil, errors.Newf(errors.ErrCategorySchema, errors.CodeSchemaConflict,
					"column %q has conflicting types %s and %s", col.Name, existing.col.Type, col.Type)
			}
			if existing.col.Kind != col.Kind {
				return nil, errors.Newf(errors.ErrCategorySchema, errors.CodeSchemaConflict,
					"column %q has conflicting kinds %s and %s", col.Name, existing.col.Kind, col.Kind)
			}
			if col.Nullable {
				existing.col.Nullable = true
			}
			existing.seen++
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]Column, 0, len(merged))
	for _, name := range names {
		mc := merged[name]
		col := mc.col
		// A column missing from any input widens to nullable, except time,
		// which every schema is required to carry.
		if mc.seen < len(schemas) && col.Name != TimeColumn {
			col.Nullable = true
		}
		columns = append(columns, col)
	}

	out, err := New(columns)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategorySchema, errors.CodeSchemaConflict,
			"merged schema is invalid", err)
	}
	return out, nil
}
