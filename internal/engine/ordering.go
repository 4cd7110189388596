package engine

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/eval"
)

// MoveOrderer sorts moves so that the most promising are searched first.
// It holds no state and is safe for concurrent use.
type MoveOrderer struct{}

type scoredMove struct {
	move board.Move
	key  float64
}

// Order returns the legal moves of moves sorted by descending key. Moves
// with equal keys keep their generation order.
func (MoveOrderer) Order(pos *board.Position, moves *board.MoveList) []board.Move {
	scored := lo.Map(moves.Slice(), func(m board.Move, _ int) scoredMove {
		return scoredMove{move: m, key: orderKey(pos, m)}
	})
	slices.SortStableFunc(scored, func(a, b scoredMove) int {
		return cmp.Compare(b.key, a.key)
	})
	return lo.Map(scored, func(s scoredMove, _ int) board.Move {
		return s.move
	})
}

// orderKey ranks captures by the captured piece, then promotions by the
// new piece, then quiet moves by the destination square bonus.
func orderKey(pos *board.Position, m board.Move) float64 {
	if m.IsEnPassant() {
		return eval.PawnValue
	}
	if captured := pos.PieceAt(m.To()); captured != board.NoPiece {
		return eval.PieceValue(captured.Type())
	}
	if m.IsPromotion() {
		return eval.PieceValue(m.Promotion())
	}
	return eval.SquareValue(pos.PieceAt(m.From()), m.To())
}
