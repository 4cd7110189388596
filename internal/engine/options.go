package engine

import "time"

// Options configures the search. The zero value is not usable; start from
// NewOptions.
type Options struct {
	// Depth is the nominal search depth in plies.
	Depth int
	// SplitDepth is the remaining depth at or below which subtrees are
	// searched sequentially.
	SplitDepth int
	// Threads bounds the worker pool of each splitting ply. Values <= 1
	// disable parallel search.
	Threads int
	// MoveTime is the default wall-clock budget when the caller gives none.
	MoveTime time.Duration
	// UseHash selects the single-threaded search backed by the
	// transposition table.
	UseHash bool
	// Hash is the transposition table size in megabytes.
	Hash int
	// OwnBook enables opening book probing before searching.
	OwnBook bool
	// BookVariety picks book moves at random weighted by the book
	// weights instead of the first legal entry.
	BookVariety bool
}

func NewOptions() Options {
	return Options{
		Depth:      4,
		SplitDepth: 2,
		Threads:    8,
		MoveTime:   time.Second,
		UseHash:    false,
		Hash:       16,
		OwnBook:    true,
	}
}
