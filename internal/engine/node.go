package engine

import (
	"math"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/eval"
)

// Infinity bounds the root search window.
var Infinity = math.Inf(1)

// SearchNode is the sequential fail-soft alpha-beta search used below the
// split depth. Scores are from White's point of view; the maximizing side
// is White.
type SearchNode struct {
	orderer MoveOrderer
}

// Search returns the best move and score of pos searched depth plies deep
// within the window [alpha, beta].
func (n *SearchNode) Search(pos *board.Position, depth int, alpha, beta float64, maximizing bool) Result {
	if depth <= 0 || isDrawn(pos) {
		return Result{Score: leafScore(pos, depth)}
	}
	moves := n.orderer.Order(pos, pos.GenerateLegalMoves())
	if len(moves) == 0 {
		return Result{Score: leafScore(pos, depth)}
	}

	best := Result{BestMove: board.NoMove}
	if maximizing {
		best.Score = alpha
	} else {
		best.Score = beta
	}

	for _, m := range moves {
		undo := pos.MakeMove(m)
		child := n.Search(pos, depth-1, alpha, beta, !maximizing)
		pos.UnmakeMove(m, undo)
		best.Nodes += 1 + child.Nodes

		if maximizing {
			if child.Score > best.Score {
				best.Score = child.Score
				best.BestMove = m
			}
			alpha = max(alpha, best.Score)
		} else {
			if child.Score < best.Score {
				best.Score = child.Score
				best.BestMove = m
			}
			beta = min(beta, best.Score)
		}
		if beta <= alpha {
			break
		}
	}

	// Failed low: still report a legal move.
	if best.BestMove == board.NoMove {
		best.BestMove = moves[0]
	}
	return best
}

// isDrawn reports a draw by rule that ends the search without generating
// moves. Stalemate is found by the empty move list.
func isDrawn(pos *board.Position) bool {
	return pos.HalfMoveClock >= 100 || pos.IsRepetition() || pos.IsInsufficientMaterial()
}

// isTerminal reports whether pos has no moves to search.
func isTerminal(pos *board.Position) bool {
	return isDrawn(pos) || !pos.HasLegalMoves()
}

// leafScore evaluates pos with depth plies left unsearched. Mate scores are
// pushed past the mate value by the remaining depth so that quicker mates
// score higher.
func leafScore(pos *board.Position, depth int) float64 {
	score := eval.Evaluate(pos)
	switch {
	case score >= eval.MateValue:
		return score + float64(depth)
	case score <= -eval.MateValue:
		return score - float64(depth)
	}
	return score
}
