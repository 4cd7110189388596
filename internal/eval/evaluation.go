// Package eval implements the tapered static evaluator used at search leaves.
//
// Scores are in centipawns from White's point of view: positive favours
// White, negative favours Black.
package eval

import (
	"github.com/samber/lo"

	"github.com/hailam/splitsearch/internal/board"
)

// Material values in centipawns.
const (
	PawnValue   = 100.0
	KnightValue = 315.0
	BishopValue = 320.0
	RookValue   = 500.0
	QueenValue  = 900.0

	// MateValue is returned for a checkmated side. Search pushes mate
	// scores beyond it by the remaining depth.
	MateValue = 39000.0

	// RepetitionPenalty is charged to the side that is ahead when the
	// position repeats for the third time.
	RepetitionPenalty = 20000.0
)

const (
	knightPairPenalty = -10.0
	rookPairPenalty   = -20.0
	noPawnsPenalty    = -20.0
)

// MaxPhase is the phase of a position with no non-pawn material.
const MaxPhase = 256

const totalPhase = 24

var pieceValues = [6]float64{PawnValue, KnightValue, BishopValue, RookValue, QueenValue, MateValue}

// PieceValue returns the material value of a piece type. The king is
// worth MateValue so that capturing it always sorts first.
func PieceValue(pt board.PieceType) float64 {
	if pt >= board.NoPieceType {
		return 0
	}
	return pieceValues[pt]
}

// SquareValue returns the piece-square bonus for piece on sq. Kings use
// the ending table.
func SquareValue(piece board.Piece, sq board.Square) float64 {
	if piece == board.NoPiece {
		return 0
	}
	return pieceSquareTables[piece.Type()][tableIndex(piece.Color(), sq)]
}

func tableIndex(c board.Color, sq board.Square) int {
	if c == board.White {
		return int(sq ^ 56)
	}
	return int(sq)
}

// IsMateScore reports whether score encodes a forced mate.
func IsMateScore(score float64) bool {
	return score >= MateValue || score <= -MateValue
}

// Evaluate returns the static score of pos.
func Evaluate(pos *board.Position) float64 {
	if !pos.HasLegalMoves() {
		if pos.InCheck() {
			if pos.SideToMove == board.White {
				return -MateValue
			}
			return MateValue
		}
		return 0
	}

	repetition := pos.IsRepetition()
	if !repetition && (pos.HalfMoveClock >= 100 || pos.IsInsufficientMaterial()) {
		return 0
	}

	phase := Phase(pos)
	score := sideScore(pos, board.White, phase) - sideScore(pos, board.Black, phase)

	if repetition {
		switch {
		case score > 0:
			return -RepetitionPenalty
		case score < 0:
			return RepetitionPenalty
		}
		return 0
	}
	return score
}

// Phase returns the game phase in [0, MaxPhase]: 0 with all non-pawn
// material on the board, MaxPhase with none.
func Phase(pos *board.Position) int {
	count := func(pt board.PieceType) int {
		return (pos.Pieces[board.White][pt] | pos.Pieces[board.Black][pt]).PopCount()
	}
	material := lo.Clamp(count(board.Knight), 0, 4) +
		lo.Clamp(count(board.Bishop), 0, 4) +
		2*lo.Clamp(count(board.Rook), 0, 4) +
		4*lo.Clamp(count(board.Queen), 0, 2)

	phase := ((totalPhase-material)*MaxPhase + totalPhase/2) / totalPhase
	return lo.Clamp(phase, 0, MaxPhase)
}

func sideScore(pos *board.Position, c board.Color, phase int) float64 {
	pieces := &pos.Pieces[c]
	pawns := pieces[board.Pawn].PopCount()
	knights := pieces[board.Knight].PopCount()
	bishops := pieces[board.Bishop].PopCount()
	rooks := pieces[board.Rook].PopCount()
	queens := pieces[board.Queen].PopCount()

	opening := float64(pawns)*PawnValue +
		float64(knights)*KnightValue +
		float64(bishops)*BishopValue +
		float64(rooks)*RookValue +
		float64(queens)*QueenValue

	for pt := board.Pawn; pt <= board.Queen; pt++ {
		table := pieceSquareTables[pt]
		bb := pieces[pt]
		for bb != 0 {
			opening += table[tableIndex(c, bb.PopLSB())]
		}
	}

	idx := lo.Clamp(pawns, 0, 8)
	opening += knightPawnAdjustment[idx] * float64(knights)
	opening += rookPawnAdjustment[idx] * float64(rooks)
	if bishops > 1 {
		opening += bishopPairAdjustment[idx]
	}
	if knights > 1 {
		opening += knightPairPenalty
	}
	if rooks > 1 {
		opening += rookPairPenalty
	}
	if pawns == 0 {
		opening += noPawnsPenalty
	}

	var kingOpening, kingEnding float64
	if king := pieces[board.King]; king != 0 {
		idx := tableIndex(c, king.LSB())
		kingOpening = kingOpeningTable[idx]
		kingEnding = kingEndingTable[idx]
	}
	opening += kingOpening
	ending := opening - kingOpening + kingEnding

	score := (opening*float64(MaxPhase-phase) + ending*float64(phase)) / MaxPhase

	if pawns == 0 && score > 0 && score < BishopValue {
		return 0
	}
	if knights == 2 && pawns == 0 && bishops == 0 && rooks == 0 && queens == 0 &&
		pos.Pieces[c.Other()][board.Pawn] == 0 {
		return 0
	}
	return score
}
