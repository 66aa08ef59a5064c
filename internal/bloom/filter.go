// Package bloom provides the tag-value membership filter persisted alongside
// chunks and consulted by the planner's pruner. No false negatives: if a tag
// value was added, Contains always reports true.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over tag values. A filter is built once while a
// chunk is written and read-only afterwards, so it carries no lock.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	// Round up to whole 64-bit words.
	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a filter sized for the expected number of distinct
// tag values and target false positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters calculates filter sizing from the expected item count and
// target false positive rate:
//
//	m = -n * ln(p) / (ln(2)^2)
//	k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	k := (m / n) * math.Ln2

	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(k))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records an item in the filter.
func (f *Filter) Add(item []byte) {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		// Double hashing: h(i) = h1 + i*h2
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// AddString records a tag value in the filter.
func (f *Filter) AddString(value string) {
	f.Add([]byte(value))
}

// Contains reports whether the item might be in the filter. A false result is
// definitive; a true result may be a false positive.
func (f *Filter) Contains(item []byte) bool {
	h1, h2 := hash128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// ContainsString reports whether the tag value might be in the filter.
func (f *Filter) ContainsString(value string) bool {
	return f.Contains([]byte(value))
}

// Count returns the number of items added.
func (f *Filter) Count() uint64 {
	return f.count
}

// FalsePositiveRate estimates the current false positive rate from the fill
// ratio: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

func hash128(item []byte) (uint64, uint64) {
	h := murmur3.New128()
	h.Write(item)
	return h.Sum128()
}
