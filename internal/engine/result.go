package engine

import (
	"fmt"

	"github.com/hailam/splitsearch/internal/board"
	"github.com/hailam/splitsearch/internal/eval"
)

// Result is the outcome of searching one position. It is passed and
// returned by value and never modified after construction.
type Result struct {
	Score    float64
	BestMove board.Move
	Nodes    uint64
}

// IsMate reports whether the score encodes a forced mate.
func (r Result) IsMate() bool {
	return eval.IsMateScore(r.Score)
}

func (r Result) String() string {
	return fmt.Sprintf("%v (%.0f, %d nodes)", r.BestMove, r.Score, r.Nodes)
}

// MatePlies converts a mate score from a search of rootDepth plies into the
// number of plies to mate. The result is positive when White mates.
func MatePlies(score float64, rootDepth int) int {
	switch {
	case score >= eval.MateValue:
		return rootDepth - int(score-eval.MateValue)
	case score <= -eval.MateValue:
		return -(rootDepth - int(-score-eval.MateValue))
	}
	return 0
}

// ScoreToString converts a score to a human-readable string.
func ScoreToString(score float64, rootDepth int) string {
	if eval.IsMateScore(score) {
		plies := MatePlies(score, rootDepth)
		if plies >= 0 {
			return fmt.Sprintf("White mates in %d", (plies+1)/2)
		}
		return fmt.Sprintf("Black mates in %d", (-plies+1)/2)
	}
	return fmt.Sprintf("%+.2f", score/100)
}
