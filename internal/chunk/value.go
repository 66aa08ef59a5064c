package chunk

import "fmt"

// CompareValues orders two scalar values for sorting and comparison.
// NULL (nil) sorts before any non-NULL value; mixed numeric types are
// compared as float64; otherwise values compare within their own type, with
// a string-representation fallback for anything unexpected.
func CompareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if isNumeric(a) && isNumeric(b) {
		return compareFloat64(toFloat64(a), toFloat64(b))
	}

	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			if va < vb {
				return -1
			} else if va > vb {
				return 1
			}
			return 0
		}
	case bool:
		if vb, ok := b.(bool); ok {
			if !va && vb {
				return -1
			} else if va && !vb {
				return 1
			}
			return 0
		}
	}

	// Fallback: compare string representations.
	sa := fmt.Sprintf("%v", a)
	sb := fmt.Sprintf("%v", b)
	if sa < sb {
		return -1
	} else if sa > sb {
		return 1
	}
	return 0
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int64, uint64, float64, int:
		return true
	}
	return false
}

func compareFloat64(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case int:
		return float64(val)
	}
	return 0
}
