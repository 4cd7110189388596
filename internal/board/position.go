package board

import "fmt"

// CastlingRights represents the available castling options.
type CastlingRights uint8

const (
	WhiteKingSideCastle  CastlingRights = 1 << iota // K
	WhiteQueenSideCastle                            // Q
	BlackKingSideCastle                             // k
	BlackQueenSideCastle                            // q
	NoCastling           CastlingRights = 0
	AllCastling          CastlingRights = WhiteKingSideCastle | WhiteQueenSideCastle | BlackKingSideCastle | BlackQueenSideCastle
)

// String returns the FEN castling rights string.
func (cr CastlingRights) String() string {
	if cr == NoCastling {
		return "-"
	}
	s := ""
	if cr&WhiteKingSideCastle != 0 {
		s += "K"
	}
	if cr&WhiteQueenSideCastle != 0 {
		s += "Q"
	}
	if cr&BlackKingSideCastle != 0 {
		s += "k"
	}
	if cr&BlackQueenSideCastle != 0 {
		s += "q"
	}
	return s
}

// CanCastle returns true if the given side can castle in the given direction.
func (cr CastlingRights) CanCastle(c Color, kingSide bool) bool {
	if c == White {
		if kingSide {
			return cr&WhiteKingSideCastle != 0
		}
		return cr&WhiteQueenSideCastle != 0
	}
	if kingSide {
		return cr&BlackKingSideCastle != 0
	}
	return cr&BlackQueenSideCastle != 0
}

// Position represents a complete chess position.
type Position struct {
	// Piece bitboards: [Color][PieceType]
	Pieces [2][6]Bitboard

	// Occupancy bitboards (cached for efficiency)
	Occupied    [2]Bitboard // All pieces of each color
	AllOccupied Bitboard    // All pieces on the board

	// Game state
	SideToMove     Color
	CastlingRights CastlingRights
	EnPassant      Square // Target square for en passant, NoSquare if none
	HalfMoveClock  int    // Moves since last pawn move or capture (for 50-move rule)
	FullMoveNumber int    // Full move counter, starts at 1

	// Zobrist hash for transposition table
	Hash uint64

	// King positions (cached for check detection)
	KingSquare [2]Square

	// Checkers bitboard (pieces giving check)
	Checkers Bitboard

	// Hashes of every position reached before this one, oldest first.
	history []uint64
}

// NewPosition creates the starting position.
func NewPosition() *Position {
	pos, _ := ParseFEN(StartFEN)
	return pos
}

// Copy creates a deep copy of the position. The copy owns its own
// repetition history so it can be searched on another goroutine.
func (p *Position) Copy() *Position {
	newPos := *p
	if p.history != nil {
		newPos.history = make([]uint64, len(p.history), len(p.history)+MaxGamePly)
		copy(newPos.history, p.history)
	}
	return &newPos
}

// MaxGamePly is the history capacity reserved for a search copy.
const MaxGamePly = 128

// History returns the hashes of the positions reached before this one.
func (p *Position) History() []uint64 {
	return p.history
}

// RepetitionCount returns how many times the current position has occurred,
// including the current occurrence. Only positions since the last
// irreversible move are considered.
func (p *Position) RepetitionCount() int {
	count := 1
	n := len(p.history)
	limit := p.HalfMoveClock
	if limit > n {
		limit = n
	}
	// Same side to move only: step back two plies at a time.
	for i := 2; i <= limit; i += 2 {
		if p.history[n-i] == p.Hash {
			count++
		}
	}
	return count
}

// IsRepetition returns true if the current position has occurred three times.
func (p *Position) IsRepetition() bool {
	return p.RepetitionCount() >= 3
}

// PieceAt returns the piece at the given square, or NoPiece if empty.
func (p *Position) PieceAt(sq Square) Piece {
	bb := SquareBB(sq)

	// Check if square is occupied
	if p.AllOccupied&bb == 0 {
		return NoPiece
	}

	// Find the color
	var c Color
	if p.Occupied[White]&bb != 0 {
		c = White
	} else {
		c = Black
	}

	// Find the piece type
	for pt := Pawn; pt <= King; pt++ {
		if p.Pieces[c][pt]&bb != 0 {
			return NewPiece(pt, c)
		}
	}

	return NoPiece
}

// IsEmpty returns true if the square is empty.
func (p *Position) IsEmpty(sq Square) bool {
	return p.AllOccupied&SquareBB(sq) == 0
}

// setPiece places a piece on a square (does not update hash).
func (p *Position) setPiece(piece Piece, sq Square) {
	if piece == NoPiece {
		return
	}
	c := piece.Color()
	pt := piece.Type()
	bb := SquareBB(sq)

	p.Pieces[c][pt] |= bb
	p.Occupied[c] |= bb
	p.AllOccupied |= bb

	if pt == King {
		p.KingSquare[c] = sq
	}
}

// removePiece removes a piece from a square (does not update hash).
func (p *Position) removePiece(sq Square) Piece {
	piece := p.PieceAt(sq)
	if piece == NoPiece {
		return NoPiece
	}

	c := piece.Color()
	pt := piece.Type()
	bb := SquareBB(sq)

	p.Pieces[c][pt] &^= bb
	p.Occupied[c] &^= bb
	p.AllOccupied &^= bb

	return piece
}

// movePiece moves a piece from one square to another (does not update hash).
func (p *Position) movePiece(from, to Square) {
	piece := p.PieceAt(from)
	if piece == NoPiece {
		return
	}

	c := piece.Color()
	pt := piece.Type()
	fromBB := SquareBB(from)
	toBB := SquareBB(to)
	moveBB := fromBB | toBB

	p.Pieces[c][pt] ^= moveBB
	p.Occupied[c] ^= moveBB
	p.AllOccupied ^= moveBB

	if pt == King {
		p.KingSquare[c] = to
	}
}

// updateOccupied recalculates occupancy bitboards from piece bitboards.
func (p *Position) updateOccupied() {
	p.Occupied[White] = Empty
	p.Occupied[Black] = Empty

	for pt := Pawn; pt <= King; pt++ {
		p.Occupied[White] |= p.Pieces[White][pt]
		p.Occupied[Black] |= p.Pieces[Black][pt]
	}

	p.AllOccupied = p.Occupied[White] | p.Occupied[Black]
}

// findKings locates and caches the king positions.
func (p *Position) findKings() {
	p.KingSquare[White] = p.Pieces[White][King].LSB()
	p.KingSquare[Black] = p.Pieces[Black][King].LSB()
}

// String returns a visual representation of the position.
func (p *Position) String() string {
	s := "\n"
	for rank := 7; rank >= 0; rank-- {
		s += fmt.Sprintf("%d  ", rank+1)
		for file := 0; file < 8; file++ {
			sq := NewSquare(file, rank)
			piece := p.PieceAt(sq)
			if piece == NoPiece {
				s += ". "
			} else {
				s += piece.String() + " "
			}
		}
		s += "\n"
	}
	s += "\n   a b c d e f g h\n\n"
	s += fmt.Sprintf("Side to move: %s\n", p.SideToMove)
	s += fmt.Sprintf("Castling: %s\n", p.CastlingRights)
	s += fmt.Sprintf("En passant: %s\n", p.EnPassant)
	s += fmt.Sprintf("Half-move clock: %d\n", p.HalfMoveClock)
	s += fmt.Sprintf("Full move: %d\n", p.FullMoveNumber)
	s += fmt.Sprintf("Hash: %016x\n", p.Hash)
	return s
}

// Clear resets the position to an empty board.
func (p *Position) Clear() {
	*p = Position{
		EnPassant:      NoSquare,
		FullMoveNumber: 1,
	}
	p.KingSquare[White] = NoSquare
	p.KingSquare[Black] = NoSquare
}

// Validate checks if the position is valid.
func (p *Position) Validate() error {
	// Check that each side has exactly one king
	if p.Pieces[White][King].PopCount() != 1 {
		return fmt.Errorf("white must have exactly one king")
	}
	if p.Pieces[Black][King].PopCount() != 1 {
		return fmt.Errorf("black must have exactly one king")
	}

	// Check that pawns are not on rank 1 or 8
	if (p.Pieces[White][Pawn]|p.Pieces[Black][Pawn])&(Rank1|Rank8) != 0 {
		return fmt.Errorf("pawns cannot be on rank 1 or 8")
	}

	// The side that just moved cannot still be giving up its king
	them := p.SideToMove.Other()
	if p.IsSquareAttacked(p.KingSquare[them], p.SideToMove) {
		return fmt.Errorf("side not to move is in check")
	}

	return nil
}

// GameOver returns true if the game is over (checkmate, stalemate, or draw).
func (p *Position) GameOver() bool {
	return p.IsCheckmate() || p.IsDraw()
}

// InCheck returns true if the side to move is in check.
func (p *Position) InCheck() bool {
	return p.Checkers != 0
}

// ComputePinned computes pieces pinned to the king for the side to move.
// Uses Stockfish-style x-ray attack detection.
func (p *Position) ComputePinned() Bitboard {
	us := p.SideToMove
	them := us.Other()
	ksq := p.KingSquare[us]
	pinned := Bitboard(0)

	// Rook/Queen x-ray attacks (horizontal and vertical)
	snipers := RookAttacks(ksq, 0) & (p.Pieces[them][Rook] | p.Pieces[them][Queen])
	for snipers != 0 {
		sq := snipers.PopLSB()
		blockers := Between(sq, ksq) & p.AllOccupied
		if blockers.PopCount() == 1 && blockers&p.Occupied[us] != 0 {
			pinned |= blockers
		}
	}

	// Bishop/Queen x-ray attacks (diagonals)
	snipers = BishopAttacks(ksq, 0) & (p.Pieces[them][Bishop] | p.Pieces[them][Queen])
	for snipers != 0 {
		sq := snipers.PopLSB()
		blockers := Between(sq, ksq) & p.AllOccupied
		if blockers.PopCount() == 1 && blockers&p.Occupied[us] != 0 {
			pinned |= blockers
		}
	}

	return pinned
}
