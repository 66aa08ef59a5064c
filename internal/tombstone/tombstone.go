package tombstone

import "strconv"

// Tombstone is a persisted delete record as stored in the catalog. The
// predicate text stays serialized until a read path needs it.
type Tombstone struct {
	// ID is the catalog-assigned tombstone identifier
	ID int64

	// TableName is the table the delete applies to
	TableName string

	// MinTime and MaxTime bound the deletion window in nanoseconds, inclusive
	MinTime int64
	MaxTime int64

	// Predicate is the serialized delete expression text
	Predicate string
}

// Parse materializes the tombstone's delete predicate. Parse failures are
// surfaced, never swallowed: a tombstone that cannot be interpreted must
// block the read that depends on it.
func (t Tombstone) Parse() (*DeletePredicate, error) {
	return ParseDeletePredicate(
		strconv.FormatInt(t.MinTime, 10),
		strconv.FormatInt(t.MaxTime, 10),
		t.Predicate,
	)
}
