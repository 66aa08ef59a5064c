package schema

import (
	"errors"
	"strings"
	"testing"

	tephraerrors "github.com/tephradb/tephra/internal/errors"
)

func timeCol() Column {
	return Column{Name: TimeColumn, Type: TypeTimestamp, Kind: KindTime}
}

func tagCol(name string) Column {
	return Column{Name: name, Type: TypeString, Kind: KindTag, Nullable: true}
}

func fieldCol(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ, Kind: KindField}
}

func TestMerge_UnionSortedByName(t *testing.T) {
	a := MustNew([]Column{fieldCol("zeta", TypeInt64), tagCol("city"), timeCol()})
	b := MustNew([]Column{timeCol(), fieldCol("alpha", TypeFloat64), tagCol("city")})

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"alpha", "city", "time", "zeta"}
	got := merged.ColumnNames()
	if len(got) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSchema_Project(t *testing.T) {
	s := MustNew([]Column{tagCol("city"), fieldCol("temp", TypeInt64), timeCol()})
	s = s.WithSortKey(s.PKSortKey())

	p := s.Project([]string{"city", "time", "missing"})
	got := p.ColumnNames()
	if len(got) != 2 || got[0] != "city" || got[1] != "time" {
		t.Fatalf("projected columns = %v", got)
	}
	// Every sort key column survived, so the key is kept.
	if !p.SortKey.Equal(s.SortKey) {
		t.Errorf("sort key = %v, want %v", p.SortKey, s.SortKey)
	}

	// Dropping a key column drops the sort key.
	if p := s.Project([]string{"temp"}); p.SortKey != nil {
		t.Errorf("expected no sort key, got %v", p.SortKey)
	}
}

func TestMerge_NullabilityWidening(t *testing.T) {
	// Chunk A has non-nullable field x, chunk B lacks x entirely.
	a := MustNew([]Column{fieldCol("x", TypeInt64), timeCol()})
	b := MustNew([]Column{fieldCol("y", TypeInt64), timeCol()})

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}

	x, ok := merged.Column("x")
	if !ok {
		t.Fatal("merged schema missing column x")
	}
	if !x.Nullable {
		t.Error("column x should widen to nullable when absent from an input")
	}
	y, _ := merged.Column("y")
	if !y.Nullable {
		t.Error("column y should widen to nullable when absent from an input")
	}
	tm, _ := merged.Column(TimeColumn)
	if tm.Nullable {
		t.Error("time column must stay non-nullable")
	}
}

func TestMerge_NullableStaysWhenPresentEverywhere(t *testing.T) {
	a := MustNew([]Column{fieldCol("x", TypeInt64), timeCol()})
	b := MustNew([]Column{fieldCol("x", TypeInt64), timeCol()})

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := merged.Column("x")
	if x.Nullable {
		t.Error("column x present and non-nullable in every input should stay non-nullable")
	}
}

func TestMerge_TypeConflict(t *testing.T) {
	a := MustNew([]Column{fieldCol("col", TypeInt64), timeCol()})
	b := MustNew([]Column{fieldCol("col", TypeString), timeCol()})

	_, err := Merge(a, b)
	if err == nil {
		t.Fatal("expected schema conflict")
	}
	if !errors.Is(err, tephraerrors.New(tephraerrors.ErrCategorySchema, tephraerrors.CodeSchemaConflict, "")) {
		t.Fatalf("expected SCHEMA_CONFLICT, got %v", err)
	}
	// The error must name the column and both types.
	msg := err.Error()
	for _, want := range []string{"col", "int64", "string"} {
		if !strings.Contains(msg, want) {
			t.Errorf("conflict error %q should mention %q", msg, want)
		}
	}
}

func TestMerge_KindConflict(t *testing.T) {
	a := MustNew([]Column{tagCol("host"), timeCol()})
	b := MustNew([]Column{{Name: "host", Type: TypeString, Kind: KindField}, timeCol()})

	if _, err := Merge(a, b); err == nil {
		t.Fatal("expected conflict for tag/field kind mismatch")
	}
}

func TestMerge_TimeTypeMismatch(t *testing.T) {
	a := MustNew([]Column{timeCol()})
	// Construct a malformed schema directly; New would reject it.
	b := &Schema{Columns: []Column{{Name: TimeColumn, Type: TypeInt64, Kind: KindTime}}}

	if _, err := Merge(a, b); err == nil {
		t.Fatal("expected conflict for time column type mismatch")
	}
}

func TestMerge_Empty(t *testing.T) {
	if _, err := Merge(); err == nil {
		t.Fatal("expected error for empty merge")
	}
}

func TestWithSortKey_CopyOnWrite(t *testing.T) {
	s := MustNew([]Column{tagCol("host"), timeCol()})
	key := SortKey{{Column: "host", NullsFirst: true}, {Column: TimeColumn}}

	withKey := s.WithSortKey(key)
	if withKey == s {
		t.Fatal("setting a new sort key should clone the schema")
	}
	if !withKey.SortKey.Equal(key) {
		t.Fatalf("sort key not applied: %v", withKey.SortKey)
	}

	// Same key again: no clone.
	same := withKey.WithSortKey(key)
	if same != withKey {
		t.Error("setting an identical sort key should return the receiver unchanged")
	}
}

func TestPKSortKey(t *testing.T) {
	s := MustNew([]Column{fieldCol("value", TypeFloat64), tagCol("region"), tagCol("host"), timeCol()})

	key := s.PKSortKey()
	want := []string{"region", "host", "time"}
	if len(key) != len(want) {
		t.Fatalf("expected %d sort fields, got %d", len(want), len(key))
	}
	for i, col := range want {
		if key[i].Column != col {
			t.Errorf("sort field %d: expected %q, got %q", i, col, key[i].Column)
		}
		if key[i].Descending {
			t.Errorf("sort field %d should be ascending", i)
		}
	}
	if !key[0].NullsFirst {
		t.Error("tag sort fields should place nulls first")
	}
}
