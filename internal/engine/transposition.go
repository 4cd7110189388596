package engine

import (
	"sync/atomic"
	"unsafe"
)

// Bound tells how a stored value relates to the true score.
type Bound uint8

const (
	BoundExact Bound = iota // Exact score
	BoundLower              // Failed high (beta cutoff)
	BoundUpper              // Failed low
)

func (b Bound) String() string {
	switch b {
	case BoundExact:
		return "exact"
	case BoundLower:
		return "lower"
	case BoundUpper:
		return "upper"
	}
	return "unknown"
}

// ttEntry is guarded by gate: a reader or writer that cannot take the gate
// treats the access as a miss.
type ttEntry struct {
	gate  int32
	depth int16
	bound Bound
	used  bool
	key   uint64
	value float64
}

// TranspositionTable caches search results by position hash. Entries are
// overwritten unconditionally.
type TranspositionTable struct {
	megabytes int
	entries   []ttEntry
	mask      uint64

	// Statistics (atomic for thread-safety)
	hits   atomic.Uint64
	probes atomic.Uint64
}

// NewTranspositionTable creates a transposition table with the given size in MB.
func NewTranspositionTable(megabytes int) *TranspositionTable {
	megabytes = max(megabytes, 1)
	entrySize := uint64(unsafe.Sizeof(ttEntry{}))
	numEntries := roundDownToPowerOf2(uint64(megabytes) * 1024 * 1024 / entrySize)
	return &TranspositionTable{
		megabytes: megabytes,
		entries:   make([]ttEntry, numEntries),
		mask:      numEntries - 1,
	}
}

// roundDownToPowerOf2 rounds n down to the nearest power of 2.
func roundDownToPowerOf2(n uint64) uint64 {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return (n + 1) >> 1
}

// Megabytes returns the configured table size.
func (tt *TranspositionTable) Megabytes() int {
	return tt.megabytes
}

// Probe returns the stored value for hash when it was searched at least
// depth plies deep and its bound decides the window [alpha, beta].
func (tt *TranspositionTable) Probe(hash uint64, depth int, alpha, beta float64) (float64, bool) {
	tt.probes.Add(1)

	entry := &tt.entries[hash&tt.mask]
	if !atomic.CompareAndSwapInt32(&entry.gate, 0, 1) {
		return 0, false
	}
	used, key, value, stored, bound := entry.used, entry.key, entry.value, int(entry.depth), entry.bound
	atomic.StoreInt32(&entry.gate, 0)

	if !used || key != hash || stored < depth {
		return 0, false
	}
	switch {
	case bound == BoundExact,
		bound == BoundLower && value >= beta,
		bound == BoundUpper && value <= alpha:
		tt.hits.Add(1)
		return value, true
	}
	return 0, false
}

// Record stores a result for hash, replacing whatever was in its slot.
// The write is dropped if another goroutine holds the slot.
func (tt *TranspositionTable) Record(hash uint64, value float64, depth int, bound Bound) {
	entry := &tt.entries[hash&tt.mask]
	if !atomic.CompareAndSwapInt32(&entry.gate, 0, 1) {
		return
	}
	entry.used = true
	entry.key = hash
	entry.value = value
	entry.depth = int16(depth)
	entry.bound = bound
	atomic.StoreInt32(&entry.gate, 0)
}

// Clear clears the transposition table.
func (tt *TranspositionTable) Clear() {
	for i := range tt.entries {
		tt.entries[i] = ttEntry{}
	}
	tt.hits.Store(0)
	tt.probes.Store(0)
}

// HashFull returns the permille (parts per thousand) of the table that is used.
func (tt *TranspositionTable) HashFull() int {
	sampleSize := min(1000, len(tt.entries))
	used := 0
	for i := 0; i < sampleSize; i++ {
		if tt.entries[i].used {
			used++
		}
	}
	return used * 1000 / sampleSize
}

// HitRate returns the cache hit rate as a percentage.
func (tt *TranspositionTable) HitRate() float64 {
	probes := tt.probes.Load()
	if probes == 0 {
		return 0
	}
	return float64(tt.hits.Load()) / float64(probes) * 100
}

// Size returns the number of entries in the table.
func (tt *TranspositionTable) Size() int {
	return len(tt.entries)
}
