package eval

import (
	"strings"
	"testing"

	"github.com/hailam/splitsearch/internal/board"
)

func mustFEN(t *testing.T, fen string) *board.Position {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return pos
}

// mirrorFEN flips the board vertically and swaps colours.
func mirrorFEN(fen string) string {
	fields := strings.Fields(fen)
	ranks := strings.Split(fields[0], "/")
	for i, j := 0, len(ranks)-1; i < j; i, j = i+1, j-1 {
		ranks[i], ranks[j] = ranks[j], ranks[i]
	}
	swap := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r >= 'a' && r <= 'z':
				b.WriteRune(r - 'a' + 'A')
			case r >= 'A' && r <= 'Z':
				b.WriteRune(r - 'A' + 'a')
			default:
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	fields[0] = swap(strings.Join(ranks, "/"))
	if fields[1] == "w" {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}
	if fields[2] != "-" {
		fields[2] = swap(fields[2])
	}
	if fields[3] != "-" {
		ep := []byte(fields[3])
		ep[1] = '1' + '8' - ep[1]
		fields[3] = string(ep)
	}
	return strings.Join(fields, " ")
}

func play(t *testing.T, pos *board.Position, moves ...string) {
	t.Helper()
	for _, s := range moves {
		m, err := board.ParseMove(s, pos)
		if err != nil {
			t.Fatalf("ParseMove(%s): %v", s, err)
		}
		pos.MakeMove(m)
	}
}

func TestStartPositionIsBalanced(t *testing.T) {
	if got := Evaluate(board.NewPosition()); got != 0 {
		t.Errorf("Evaluate(start) = %v, want 0", got)
	}
}

func TestTerminalScores(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want float64
	}{
		{"white mated", "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3", -MateValue},
		{"black mated", "R6k/6pp/8/8/8/8/8/6K1 b - - 0 1", MateValue},
		{"stalemate", "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", 0},
		{"bare kings", "8/8/4k3/8/8/4K3/8/8 w - - 0 1", 0},
		{"fifty moves", "4k3/8/8/8/8/8/8/3QK3 w - - 100 80", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(mustFEN(t, tt.fen)); got != tt.want {
				t.Errorf("Evaluate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColourSymmetry(t *testing.T) {
	fens := []string{
		"r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3",
		"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
		"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
		"4k3/8/8/8/8/8/PPN5/4K3 w - - 0 1",
	}
	for _, fen := range fens {
		a := Evaluate(mustFEN(t, fen))
		b := Evaluate(mustFEN(t, mirrorFEN(fen)))
		if a != -b {
			t.Errorf("%s: Evaluate = %v, mirrored = %v", fen, a, b)
		}
	}
}

func TestMaterialAdvantage(t *testing.T) {
	pos := mustFEN(t, "rnb1kbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	if got := Evaluate(pos); got < QueenValue/2 {
		t.Errorf("Evaluate with an extra queen = %v", got)
	}
}

func TestPhase(t *testing.T) {
	tests := []struct {
		fen  string
		want int
	}{
		{board.StartFEN, 0},
		{"4k3/pppppppp/8/8/8/8/PPPPPPPP/4K3 w - - 0 1", MaxPhase},
		// one rook each: material 4
		{"r3k3/8/8/8/8/8/8/R3K3 w - - 0 1", (20*MaxPhase + 12) / 24},
		// three queens a side count as two
		{"qqq1k3/8/8/8/8/8/8/QQQ1K3 w - - 0 1", (16*MaxPhase + 12) / 24},
	}
	for _, tt := range tests {
		if got := Phase(mustFEN(t, tt.fen)); got != tt.want {
			t.Errorf("Phase(%s) = %d, want %d", tt.fen, got, tt.want)
		}
	}
}

func TestKnownDrawClamps(t *testing.T) {
	t.Run("lone bishop", func(t *testing.T) {
		pos := mustFEN(t, "4k3/4p3/8/8/8/8/8/2B1K3 w - - 0 1")
		if got := sideScore(pos, board.White, Phase(pos)); got != 0 {
			t.Errorf("white score = %v, want 0", got)
		}
		if Evaluate(pos) >= 0 {
			t.Errorf("black pawn should leave black ahead, got %v", Evaluate(pos))
		}
	})
	t.Run("two knights", func(t *testing.T) {
		pos := mustFEN(t, "4k3/8/8/8/8/8/8/1N1NK3 w - - 0 1")
		if got := sideScore(pos, board.White, Phase(pos)); got != 0 {
			t.Errorf("white score = %v, want 0", got)
		}
	})
	t.Run("two knights against pawns", func(t *testing.T) {
		pos := mustFEN(t, "4k3/4p3/8/8/8/8/8/1N1NK3 w - - 0 1")
		if got := sideScore(pos, board.White, Phase(pos)); got <= 0 {
			t.Errorf("white score = %v, want positive", got)
		}
	})
}

func TestRepetitionPenalisesLeader(t *testing.T) {
	shuffle := []string{"g1f3", "e8f8", "f3g1", "f8e8", "g1f3", "e8f8", "f3g1", "f8e8"}

	pos := mustFEN(t, "4k3/8/8/8/8/8/8/3QK1N1 w - - 0 1")
	play(t, pos, shuffle...)
	if !pos.IsRepetition() {
		t.Fatal("expected threefold repetition")
	}
	if got := Evaluate(pos); got != -RepetitionPenalty {
		t.Errorf("white ahead: Evaluate = %v, want %v", got, -RepetitionPenalty)
	}

	pos = mustFEN(t, "3qk1n1/8/8/8/8/8/8/4K3 b - - 0 1")
	play(t, pos, "g8f6", "e1f1", "f6g8", "f1e1", "g8f6", "e1f1", "f6g8", "f1e1")
	if !pos.IsRepetition() {
		t.Fatal("expected threefold repetition")
	}
	if got := Evaluate(pos); got != RepetitionPenalty {
		t.Errorf("black ahead: Evaluate = %v, want %v", got, RepetitionPenalty)
	}
}

func TestSquareValueMirrors(t *testing.T) {
	for sq := board.Square(0); sq < 64; sq++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			w := SquareValue(board.NewPiece(pt, board.White), sq)
			b := SquareValue(board.NewPiece(pt, board.Black), sq.Mirror())
			if w != b {
				t.Fatalf("%v on %v: white %v, black mirror %v", pt, sq, w, b)
			}
		}
	}
	if PieceValue(board.King) != MateValue {
		t.Errorf("king value = %v", PieceValue(board.King))
	}
}
