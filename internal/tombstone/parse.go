package tombstone

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/tephradb/tephra/internal/errors"
	"github.com/tephradb/tephra/internal/schema"
)

// ParseDeletePredicate builds a DeletePredicate from a tombstone's stored
// time bounds and serialized predicate text.
//
// minTime and maxTime are decimal nanosecond timestamps. The predicate text
// is a conjunction of "<column> <op> <literal>" clauses with op in {=, !=},
// joined by "and"; an empty predicate deletes everything in the time range.
//
// Any malformed input is a parse error surfaced to the caller. A corrupt
// tombstone must block the operation that needed it: skipping it would
// silently resurrect deleted data.
func ParseDeletePredicate(minTime, maxTime, predicate string) (*DeletePredicate, error) {
	min, err := strconv.ParseInt(strings.TrimSpace(minTime), 10, 64)
	if err != nil {
		return nil, errors.NewParseError("invalid tombstone min time "+strconv.Quote(minTime), err)
	}
	max, err := strconv.ParseInt(strings.TrimSpace(maxTime), 10, 64)
	if err != nil {
		return nil, errors.NewParseError("invalid tombstone max time "+strconv.Quote(maxTime), err)
	}
	if min > max {
		return nil, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"tombstone time range inverted: min %d > max %d", min, max)
	}

	exprs, err := parseExprs(predicate)
	if err != nil {
		return nil, err
	}

	return &DeletePredicate{
		Range: TimestampRange{Min: min, Max: max},
		Exprs: exprs,
	}, nil
}

// parseExprs splits the predicate text on "and" and parses each clause.
func parseExprs(predicate string) ([]DeleteExpr, error) {
	text := strings.TrimSpace(predicate)
	if text == "" {
		return nil, nil
	}

	var exprs []DeleteExpr
	for _, clause := range splitOnAnd(text) {
		expr, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

// splitOnAnd splits on the keyword "and" outside of quoted strings.
func splitOnAnd(text string) []string {
	var parts []string
	var current strings.Builder
	inQuote := byte(0)

	tokens := strings.Fields(text)
	for _, tok := range tokens {
		if inQuote == 0 && strings.EqualFold(tok, "and") {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(tok)
		// Track quote state across space-separated tokens so a literal like
		// 'New York' does not break on its embedded space.
		for i := 0; i < len(tok); i++ {
			c := tok[i]
			if c == '\'' || c == '"' {
				if inQuote == 0 {
					inQuote = c
				} else if inQuote == c {
					inQuote = 0
				}
			}
		}
	}
	parts = append(parts, current.String())
	return parts
}

// parseClause parses a single "<column> <op> <literal>" comparison.
func parseClause(clause string) (DeleteExpr, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return DeleteExpr{}, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"empty clause in delete predicate")
	}

	var op Op
	var idx int
	// != must be tried before = so "temp!=10" does not parse as column
	// "temp!" with operator "=".
	if i := strings.Index(clause, string(OpNe)); i >= 0 {
		op, idx = OpNe, i
	} else if i := strings.Index(clause, string(OpEq)); i >= 0 {
		op, idx = OpEq, i
	} else {
		return DeleteExpr{}, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"unsupported delete clause %q: expected <column> = <literal> or <column> != <literal>", clause)
	}

	column := strings.TrimSpace(clause[:idx])
	literal := strings.TrimSpace(clause[idx+len(op):])
	if column == "" || literal == "" {
		return DeleteExpr{}, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"malformed delete clause %q", clause)
	}
	// Range operators like <= and >= embed an =, so "temp<=10" would
	// otherwise slip through as column "temp<" and never match a row.
	if !isIdentifier(column) {
		return DeleteExpr{}, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"unsupported delete clause %q: expected <column> = <literal> or <column> != <literal>", clause)
	}
	if column == schema.TimeColumn {
		return DeleteExpr{}, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"delete clause may not reference the time column; use the tombstone time range")
	}

	value, err := parseLiteral(literal)
	if err != nil {
		return DeleteExpr{}, err
	}

	return DeleteExpr{Column: column, Op: op, Value: value}, nil
}

// isIdentifier reports whether name is a bare column identifier: a letter
// or underscore followed by letters, digits, or underscores.
func isIdentifier(name string) bool {
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return len(name) > 0
}

// parseLiteral interprets a clause literal as int64, float64, bool, or
// string. Quoted literals are always strings; bare words fall back to
// strings so "city=Boston" works without quoting.
func parseLiteral(literal string) (interface{}, error) {
	if len(literal) >= 2 {
		first, last := literal[0], literal[len(literal)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return literal[1 : len(literal)-1], nil
		}
	}
	if strings.ContainsAny(literal, "'\"") {
		return nil, errors.Newf(errors.ErrCategoryPredicate, errors.CodeParseError,
			"unterminated string literal %q", literal)
	}

	if v, err := strconv.ParseInt(literal, 10, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseFloat(literal, 64); err == nil {
		return v, nil
	}
	switch literal {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return literal, nil
}
