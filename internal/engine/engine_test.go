package engine

import (
	"context"
	"testing"
	"time"

	"github.com/hailam/splitsearch/internal/board"
)

func testOptions() Options {
	opts := NewOptions()
	opts.Depth = 3
	opts.Threads = 4
	opts.Hash = 1
	return opts
}

func TestSearchBasic(t *testing.T) {
	for _, useHash := range []bool{false, true} {
		opts := testOptions()
		opts.UseHash = useHash
		eng := NewEngine(opts)

		var info SearchInfo
		eng.OnInfo = func(si SearchInfo) { info = si }

		pos := board.NewPosition()
		res := eng.Search(context.Background(), pos, SearchLimits{})
		if !isLegal(pos, res.BestMove) {
			t.Fatalf("UseHash=%v: illegal best move %v", useHash, res.BestMove)
		}
		if info.Move != res.BestMove || info.Nodes != res.Nodes || info.Depth != 3 {
			t.Errorf("UseHash=%v: info %+v does not match result %v", useHash, info, res)
		}
		if pos.ToFEN() != board.StartFEN {
			t.Errorf("search modified the caller's position: %s", pos.ToFEN())
		}
	}
}

func TestSearchHonoursBudget(t *testing.T) {
	eng := NewEngine(testOptions())
	var info SearchInfo
	eng.OnInfo = func(si SearchInfo) { info = si }

	pos := mustFEN(t, kiwipete)
	start := time.Now()
	res := eng.Search(context.Background(), pos, SearchLimits{Depth: 7, MoveTime: 50 * time.Millisecond})
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("search took %v with a 50ms budget", elapsed)
	}
	if !isLegal(pos, res.BestMove) {
		t.Errorf("illegal best move %v", res.BestMove)
	}
	if !info.TimedOut {
		t.Error("TimedOut = false")
	}
}

func TestSearchCancelledContext(t *testing.T) {
	eng := NewEngine(testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pos := mustFEN(t, kiwipete)
	res := eng.Search(ctx, pos, SearchLimits{Depth: 6})
	if !isLegal(pos, res.BestMove) {
		t.Errorf("illegal best move %v", res.BestMove)
	}
}

func TestStopDuringSearch(t *testing.T) {
	eng := NewEngine(testOptions())
	pos := mustFEN(t, kiwipete)

	done := make(chan Result, 1)
	go func() {
		done <- eng.Search(context.Background(), pos, SearchLimits{Depth: 8})
	}()
	time.Sleep(20 * time.Millisecond)
	eng.Stop()

	select {
	case res := <-done:
		if !isLegal(mustFEN(t, kiwipete), res.BestMove) {
			t.Errorf("illegal best move %v", res.BestMove)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("search did not stop")
	}
}

type fixedBook struct {
	move     board.Move
	weighted bool
}

func (b *fixedBook) Probe(pos *board.Position) (board.Move, bool) {
	return b.move, true
}

func (b *fixedBook) ProbeWeighted(pos *board.Position) (board.Move, bool) {
	b.weighted = true
	return b.move, true
}

func TestBookMove(t *testing.T) {
	pos := board.NewPosition()
	book := &fixedBook{move: board.NewMove(board.D2, board.D4)}

	eng := NewEngine(testOptions())
	eng.SetBook(book)
	var info SearchInfo
	eng.OnInfo = func(si SearchInfo) { info = si }

	res := eng.Search(context.Background(), pos, SearchLimits{})
	if res.BestMove != book.move || res.Nodes != 0 || !info.BookMove {
		t.Errorf("book move not used: %v, info %+v", res, info)
	}

	opts := eng.Options()
	opts.BookVariety = true
	eng.SetOptions(opts)
	eng.Search(context.Background(), pos, SearchLimits{})
	if !book.weighted {
		t.Error("BookVariety did not use the weighted probe")
	}

	opts.OwnBook = false
	eng.SetOptions(opts)
	info = SearchInfo{}
	eng.Search(context.Background(), pos, SearchLimits{Depth: 1})
	if info.BookMove {
		t.Error("book used with OwnBook off")
	}
}

func TestSetOptionsResizesHash(t *testing.T) {
	eng := NewEngine(testOptions())
	small := eng.tt.Size()

	opts := eng.Options()
	opts.Hash = 4
	eng.SetOptions(opts)
	if eng.tt.Size() != 4*small {
		t.Errorf("table size %d after Hash=4, want %d", eng.tt.Size(), 4*small)
	}
}

func TestPerft(t *testing.T) {
	eng := NewEngine(testOptions())
	tests := []struct {
		fen   string
		depth int
		want  uint64
	}{
		{board.StartFEN, 3, 8902},
		{kiwipete, 2, 2039},
	}
	for _, tt := range tests {
		if got := eng.Perft(mustFEN(t, tt.fen), tt.depth); got != tt.want {
			t.Errorf("Perft(%s, %d) = %d, want %d", tt.fen, tt.depth, got, tt.want)
		}
	}
}

func TestScoreToString(t *testing.T) {
	tests := []struct {
		score float64
		depth int
		want  string
	}{
		{125, 4, "+1.25"},
		{-50, 4, "-0.50"},
		{39003, 4, "White mates in 1"},
		{-39001, 4, "Black mates in 2"},
	}
	for _, tt := range tests {
		if got := ScoreToString(tt.score, tt.depth); got != tt.want {
			t.Errorf("ScoreToString(%v, %d) = %q, want %q", tt.score, tt.depth, got, tt.want)
		}
	}
}
