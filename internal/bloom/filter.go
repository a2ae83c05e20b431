// Package bloom provides per-partition membership filters over booking key
// fields. A filter never reports a false negative, so a partition whose
// filter rejects an equality value cannot hold a matching record.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Filter is a thread-safe bloom filter sized for an expected item count.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a filter holding expectedItems at roughly targetFPR.
func New(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	words := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, words),
		numBits:   uint64(words * 64),
		numHashes: uint64(numHashes),
	}
}

// OptimalParameters returns m = -n ln p / ln2^2 bits and k = m/n ln2 hashes.
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}
	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil(m / n * math.Ln2))
	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts a value.
func (f *Filter) Add(value string) {
	h1, h2 := murmur3.Sum128([]byte(value))
	f.mu.Lock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
	f.mu.Unlock()
}

// MayContain reports false only if value was never added.
func (f *Filter) MayContain(value string) bool {
	h1, h2 := murmur3.Sum128([]byte(value))
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of Add calls, duplicates included.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// EstimatedFPR returns the expected false positive rate at the current load.
func (f *Filter) EstimatedFPR() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	return math.Pow(1-math.Exp(-k*float64(f.count)/float64(f.numBits)), k)
}

// Set groups one filter per field name.
type Set struct {
	filters map[string]*Filter
}

// NewSet creates filters for the given field names. The field list is
// fixed at construction, so the map needs no lock.
func NewSet(fields []string, expectedItems int, targetFPR float64) *Set {
	s := &Set{filters: make(map[string]*Filter, len(fields))}
	for _, name := range fields {
		s.filters[name] = New(expectedItems, targetFPR)
	}
	return s
}

// Add records value under field. Unknown fields are ignored.
func (s *Set) Add(field, value string) {
	if f, ok := s.filters[field]; ok {
		f.Add(value)
	}
}

// MayContain reports whether value may be present under field. Fields
// without a filter always answer true.
func (s *Set) MayContain(field, value string) bool {
	f, ok := s.filters[field]
	if !ok {
		return true
	}
	return f.MayContain(value)
}

// Tracks reports whether field has a filter.
func (s *Set) Tracks(field string) bool {
	_, ok := s.filters[field]
	return ok
}
