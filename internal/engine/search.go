package engine

import (
	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/eval"
)

// hashSearch is the single-threaded alternative to SearchRoot. It consults
// the transposition table below the root and stops expanding moves once the
// token is stopped. Only subtrees searched in full are recorded, and mate
// scores are never recorded since they depend on the root depth.
type hashSearch struct {
	tt      *TranspositionTable
	orderer MoveOrderer
	token   *CancellationToken
}

func (s *hashSearch) Search(pos *board.Position, depth int, alpha, beta float64, maximizing bool) Result {
	res, _ := s.search(pos, depth, alpha, beta, maximizing, true)
	return res
}

// search reports whether the whole subtree was searched.
func (s *hashSearch) search(pos *board.Position, depth int, alpha, beta float64, maximizing, root bool) (Result, bool) {
	// Repeated positions score differently from the same position reached
	// fresh, so they bypass the table.
	cacheable := pos.RepetitionCount() == 1
	if !root && cacheable {
		if value, ok := s.tt.Probe(pos.Hash, depth, alpha, beta); ok {
			return Result{Score: value}, true
		}
	}
	if depth <= 0 || isDrawn(pos) {
		return s.leaf(pos, depth, cacheable), true
	}
	moves := s.orderer.Order(pos, pos.GenerateLegalMoves())
	if len(moves) == 0 {
		return s.leaf(pos, depth, cacheable), true
	}

	alphaOrig, betaOrig := alpha, beta
	best := Result{BestMove: moves[0]}
	if maximizing {
		best.Score = alpha
	} else {
		best.Score = beta
	}

	complete := true
	for i, m := range moves {
		// The first move is always searched so the root has a result.
		if i > 0 && s.token.IsStopRequested() {
			complete = false
			break
		}
		undo := pos.MakeMove(m)
		child, done := s.search(pos, depth-1, alpha, beta, !maximizing, false)
		pos.UnmakeMove(m, undo)
		best.Nodes += 1 + child.Nodes
		complete = complete && done

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

	if complete && cacheable {
		switch {
		case best.Score <= alphaOrig:
			s.record(pos.Hash, best.Score, depth, BoundUpper)
		case best.Score >= betaOrig:
			s.record(pos.Hash, best.Score, depth, BoundLower)
		default:
			s.record(pos.Hash, best.Score, depth, BoundExact)
		}
	}
	return best, complete
}

func (s *hashSearch) leaf(pos *board.Position, depth int, cacheable bool) Result {
	score := leafScore(pos, depth)
	if cacheable {
		s.record(pos.Hash, score, depth, BoundExact)
	}
	return Result{Score: score}
}

func (s *hashSearch) record(hash uint64, value float64, depth int, bound Bound) {
	if eval.IsMateScore(value) {
		return
	}
	s.tt.Record(hash, value, depth, bound)
}
