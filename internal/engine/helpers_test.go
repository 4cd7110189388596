package engine

import (
	"math"
	"testing"

	"github.com/hailam/splitsearch/internal/board"
)

const kiwipete = "r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1"

func mustFEN(t *testing.T, fen string) *board.Position {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return pos
}

func isLegal(pos *board.Position, m board.Move) bool {
	return m != board.NoMove && pos.GenerateLegalMoves().Contains(m)
}

// minimax is a plain minimax with the same leaf rules as the search.
func minimax(pos *board.Position, depth int, maximizing bool) float64 {
	if depth <= 0 || isDrawn(pos) {
		return leafScore(pos, depth)
	}
	moves := pos.GenerateLegalMoves()
	if moves.Len() == 0 {
		return leafScore(pos, depth)
	}
	best := math.Inf(-1)
	if !maximizing {
		best = math.Inf(1)
	}
	for _, m := range moves.Slice() {
		undo := pos.MakeMove(m)
		v := minimax(pos, depth-1, !maximizing)
		pos.UnmakeMove(m, undo)
		if maximizing {
			best = max(best, v)
		} else {
			best = min(best, v)
		}
	}
	return best
}
