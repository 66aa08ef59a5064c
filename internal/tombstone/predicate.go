// Package tombstone provides the delete predicate model: the parsed,
// evaluable form of a persisted delete record (a time range plus a boolean
// expression over non-time columns).
package tombstone

import (
	"fmt"
	"strings"
)

// Op is a comparison operator in a delete expression.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
)

// TimestampRange is an inclusive range of nanosecond timestamps.
type TimestampRange struct {
	Min int64
	Max int64
}

// Contains reports whether ts falls inside the range.
func (r TimestampRange) Contains(ts int64) bool {
	return ts >= r.Min && ts <= r.Max
}

// DeleteExpr is a single column comparison clause.
type DeleteExpr struct {
	Column string
	Op     Op
	Value  interface{}
}

// Matches evaluates the clause against a row's column value. A missing
// column never satisfies an equality and always satisfies an inequality,
// mirroring NULL semantics for deletes.
func (e DeleteExpr) Matches(values map[string]interface{}) bool {
	v, ok := values[e.Column]
	if !ok || v == nil {
		return e.Op == OpNe
	}
	eq := literalEqual(v, e.Value)
	if e.Op == OpEq {
		return eq
	}
	return !eq
}

func (e DeleteExpr) String() string {
	return fmt.Sprintf("%s %s %v", e.Column, e.Op, e.Value)
}

// DeletePredicate is the evaluable form of one tombstone: a row is deleted
// when its time falls inside Range and every expression matches.
type DeletePredicate struct {
	Range TimestampRange
	Exprs []DeleteExpr
}

// Matches reports whether the predicate deletes the row with the given time
// and column values.
func (p *DeletePredicate) Matches(ts int64, values map[string]interface{}) bool {
	if !p.Range.Contains(ts) {
		return false
	}
	for _, expr := range p.Exprs {
		if !expr.Matches(values) {
			return false
		}
	}
	return true
}

// Columns returns the distinct column names the predicate references.
func (p *DeletePredicate) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, expr := range p.Exprs {
		if !seen[expr.Column] {
			seen[expr.Column] = true
			cols = append(cols, expr.Column)
		}
	}
	return cols
}

func (p *DeletePredicate) String() string {
	clauses := make([]string, len(p.Exprs))
	for i, e := range p.Exprs {
		clauses[i] = e.String()
	}
	return fmt.Sprintf("[%d,%d] %s", p.Range.Min, p.Range.Max, strings.Join(clauses, " and "))
}

// MatchesAny reports whether any predicate in the set deletes the row.
// Predicates on one chunk combine with OR at the exclusion level: a row
// deleted by any tombstone stays deleted.
func MatchesAny(predicates []*DeletePredicate, ts int64, values map[string]interface{}) bool {
	for _, p := range predicates {
		if p.Matches(ts, values) {
			return true
		}
	}
	return false
}

// literalEqual compares a row value against a parsed literal, tolerating the
// int64/float64 split the literal parser produces.
func literalEqual(rowValue, literal interface{}) bool {
	switch rv := rowValue.(type) {
	case int64:
		switch lv := literal.(type) {
		case int64:
			return rv == lv
		case float64:
			return float64(rv) == lv
		}
	case float64:
		switch lv := literal.(type) {
		case float64:
			return rv == lv
		case int64:
			return rv == float64(lv)
		}
	case string:
		if lv, ok := literal.(string); ok {
			return rv == lv
		}
	case bool:
		if lv, ok := literal.(bool); ok {
			return rv == lv
		}
	case uint64:
		switch lv := literal.(type) {
		case int64:
			return lv >= 0 && rv == uint64(lv)
		case float64:
			return float64(rv) == lv
		}
	}
	return false
}
