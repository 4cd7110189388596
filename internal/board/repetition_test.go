package board

import "testing"

func playMoves(t *testing.T, pos *Position, moves ...string) {
	t.Helper()
	for _, s := range moves {
		m, err := ParseMove(s, pos)
		if err != nil {
			t.Fatalf("ParseMove(%s): %v", s, err)
		}
		if !pos.GenerateLegalMoves().Contains(m) {
			t.Fatalf("move %s is not legal", s)
		}
		pos.MakeMove(m)
	}
}

func TestRepetitionByKnightShuffle(t *testing.T) {
	pos := NewPosition()
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}

	playMoves(t, pos, shuffle...)
	if got := pos.RepetitionCount(); got != 2 {
		t.Fatalf("RepetitionCount after one shuffle = %d, want 2", got)
	}
	if pos.IsRepetition() || pos.IsDraw() {
		t.Fatal("twofold repetition must not be a draw")
	}

	playMoves(t, pos, shuffle...)
	if !pos.IsRepetition() {
		t.Fatal("expected threefold repetition")
	}
	if !pos.IsDraw() {
		t.Fatal("threefold repetition should be a draw")
	}
}

func TestUnmakeRestoresHistory(t *testing.T) {
	pos := NewPosition()
	playMoves(t, pos, "e2e4", "e7e5")
	before := len(pos.History())
	hash := pos.Hash

	m := NewMove(G1, F3)
	undo := pos.MakeMove(m)
	if len(pos.History()) != before+1 {
		t.Fatalf("history length = %d, want %d", len(pos.History()), before+1)
	}
	pos.UnmakeMove(m, undo)

	if len(pos.History()) != before {
		t.Errorf("history length after unmake = %d, want %d", len(pos.History()), before)
	}
	if pos.Hash != hash {
		t.Errorf("hash not restored: %x != %x", pos.Hash, hash)
	}
	if pos.SideToMove != White {
		t.Errorf("side to move = %v, want White", pos.SideToMove)
	}
}

func TestCopyOwnsHistory(t *testing.T) {
	pos := NewPosition()
	playMoves(t, pos, "e2e4", "e7e5")

	clone := pos.Copy()
	playMoves(t, clone, "g1f3")
	playMoves(t, pos, "b1c3")

	if clone.History()[2] != pos.History()[2] {
		t.Fatal("shared prefix should be identical")
	}
	if len(clone.History()) != 3 || len(pos.History()) != 3 {
		t.Fatalf("unexpected history lengths %d/%d", len(clone.History()), len(pos.History()))
	}
	if clone.Hash == pos.Hash {
		t.Error("diverged positions should hash differently")
	}
}

func TestHalfMoveClockLimitsRepetition(t *testing.T) {
	pos := NewPosition()
	playMoves(t, pos, "g1f3", "g8f6", "f3g1", "f6g8")
	// A pawn move resets the clock; earlier occurrences no longer count.
	playMoves(t, pos, "e2e4", "e7e5", "g1f3", "g8f6", "f3g1", "f6g8")
	if got := pos.RepetitionCount(); got != 2 {
		t.Errorf("RepetitionCount = %d, want 2", got)
	}
}
